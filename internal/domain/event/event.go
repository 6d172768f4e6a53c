// Package event describes the trigger objects accepted by the mailman engine.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type discriminates events.
type Type string

const (
	TypeNurturing         Type = "NURTURING"
	TypeScheduledReminder Type = "SCHEDULED_REMINDERS"
	TypeYouGotCredits     Type = "YOU_GOT_CREDITS"
	TypeClassroomActivity Type = "CLASSROOM_ACTIVITY"
	TypeAutoEnroll        Type = "AUTO_ENROLL"
)

// Types lists every supported event type.
var Types = []Type{
	TypeNurturing,
	TypeScheduledReminder,
	TypeYouGotCredits,
	TypeClassroomActivity,
	TypeAutoEnroll,
}

var (
	ErrMalformed   = errors.New("malformed event")
	ErrUnknownType = errors.New("unknown event type")
)

// Event is the envelope delivered by every transport.
type Event struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Parse decodes an envelope. It does not validate the payload.
func Parse(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return e, nil
}

// New builds an event with a marshalled payload.
func New(t Type, payload any) (Event, error) {
	e := Event{Type: t}
	if payload == nil {
		return e, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	e.Payload = raw
	return e, nil
}

// Decode unmarshals the payload into dst. An absent payload leaves dst untouched.
func (e Event) Decode(dst any) error {
	raw := bytes.TrimSpace(e.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// NurturingPayload optionally narrows a run to named campaigns.
type NurturingPayload struct {
	Campaigns []string `json:"campaigns,omitempty"`
}

// ScheduledRemindersPayload carries job-name overrides and an optional
// reference time used instead of the wall clock.
type ScheduledRemindersPayload struct {
	Jobs []string   `json:"jobs,omitempty"`
	At   *time.Time `json:"at,omitempty"`
}

type CreditsPayload struct {
	UserID  int64 `json:"userId"`
	Credits int   `json:"credits"`
}

func (p CreditsPayload) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("%w: userId is required", ErrMalformed)
	}
	if p.Credits <= 0 {
		return fmt.Errorf("%w: credits must be positive", ErrMalformed)
	}
	return nil
}

type ClassroomActivityPayload struct {
	ClassroomID int64  `json:"classroomId"`
	ActorID     int64  `json:"actorId"`
	Kind        string `json:"kind"`
	Excerpt     string `json:"excerpt,omitempty"`
}

func (p ClassroomActivityPayload) Validate() error {
	if p.ClassroomID <= 0 {
		return fmt.Errorf("%w: classroomId is required", ErrMalformed)
	}
	if p.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrMalformed)
	}
	return nil
}

type AutoEnrollPayload struct {
	UserID  int64 `json:"userId"`
	ClassID int64 `json:"classId"`
}

func (p AutoEnrollPayload) Validate() error {
	if p.UserID <= 0 || p.ClassID <= 0 {
		return fmt.Errorf("%w: userId and classId are required", ErrMalformed)
	}
	return nil
}

// Permanent reports whether err means the event itself is bad, so retrying
// it cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownType)
}

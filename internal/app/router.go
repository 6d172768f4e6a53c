package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"school_mailman/internal/domain/event"
	"school_mailman/internal/domain/mail"
	"school_mailman/internal/domain/school"
	"school_mailman/internal/domain/telemetry"
)

// Outcome is what handling an event produced.
type Outcome struct {
	Type      event.Type        `json:"type"`
	Reminders *RunReport        `json:"reminders,omitempty"`
	Nurturing []NurturingReport `json:"nurturing,omitempty"`
	Notified  int               `json:"notified,omitempty"`
	Enrolled  int               `json:"enrolled,omitempty"`
}

// EventHandler handles trigger events. Transports depend on this.
type EventHandler interface {
	Handle(ctx context.Context, e event.Event) (Outcome, error)
}

// Registry lists what transports can trigger by name.
type Registry interface {
	Jobs() []string
	Campaigns() []string
}

// EventRouter dispatches events to the service that owns their type.
type EventRouter struct {
	reminders ReminderRunner
	nurturing Nurturer
	school    school.Repository
	sender    mail.Sender
	templates Templates
	links     Links
	reporter  telemetry.Reporter
	log       *logrus.Entry
	now       func() time.Time
	loc       *time.Location
	tracer    trace.Tracer
}

var (
	_ EventHandler = (*EventRouter)(nil)
	_ Registry     = (*EventRouter)(nil)
)

type RouterDeps struct {
	Reminders ReminderRunner
	Nurturing Nurturer
	School    school.Repository
	Sender    mail.Sender
	Templates Templates
	Links     Links
	Reporter  telemetry.Reporter
	Log       *logrus.Entry
	Location  *time.Location
}

func NewEventRouter(deps RouterDeps) *EventRouter {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &EventRouter{
		reminders: deps.Reminders,
		nurturing: deps.Nurturing,
		school:    deps.School,
		sender:    deps.Sender,
		templates: deps.Templates,
		links:     deps.Links,
		reporter:  deps.Reporter,
		log:       deps.Log,
		now:       time.Now,
		loc:       loc,
		tracer:    otel.Tracer(tracerName),
	}
}

func (r *EventRouter) Jobs() []string      { return r.reminders.Jobs() }
func (r *EventRouter) Campaigns() []string { return r.nurturing.Campaigns() }

// reportedError marks an error whose failure telemetry already received.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func alreadyReported(err error) bool {
	var re reportedError
	return errors.As(err, &re)
}

// Handle routes the event. Failures are reported to telemetry and returned so
// the transport can signal its invoker.
func (r *EventRouter) Handle(ctx context.Context, e event.Event) (out Outcome, err error) {
	out.Type = e.Type
	ctx, span := r.tracer.Start(ctx, "event.handle", trace.WithAttributes(attribute.String("event_type", string(e.Type))))
	log := r.log.WithField("event_type", e.Type)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.WithError(err).Error("Event handling failed")
			if !alreadyReported(err) {
				r.reporter.Report(ctx, telemetry.Report{Job: string(e.Type), Err: err})
			}
		}
		span.End()
	}()

	switch e.Type {
	case event.TypeNurturing:
		err = r.handleNurturing(ctx, e, &out)
	case event.TypeScheduledReminder:
		err = r.handleReminders(ctx, e, &out)
	case event.TypeYouGotCredits:
		err = r.handleCredits(ctx, e, &out)
	case event.TypeClassroomActivity:
		err = r.handleClassroomActivity(ctx, e, &out)
	case event.TypeAutoEnroll:
		err = r.handleAutoEnroll(ctx, e, &out)
	default:
		err = errors.Wrapf(event.ErrUnknownType, "%q", e.Type)
	}
	if err == nil {
		log.Info("Event handled")
	}
	return out, err
}

func (r *EventRouter) handleNurturing(ctx context.Context, e event.Event, out *Outcome) error {
	var p event.NurturingPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	reports, err := r.nurturing.Run(ctx, r.now(), p.Campaigns)
	out.Nurturing = reports
	if errors.Is(err, ErrUnknownCampaign) {
		return fmt.Errorf("%w: %w", event.ErrMalformed, err)
	}
	return err
}

func (r *EventRouter) handleReminders(ctx context.Context, e event.Event, out *Outcome) error {
	var p event.ScheduledRemindersPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	now := r.now()
	if p.At != nil {
		now = *p.At
	}
	report := r.reminders.Run(ctx, now, p.Jobs)
	out.Reminders = &report
	return nil
}

func (r *EventRouter) handleCredits(ctx context.Context, e event.Event, out *Outcome) error {
	var p event.CreditsPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	u, err := r.school.GetUser(ctx, p.UserID)
	if err != nil {
		return notFoundIsMalformed(err, "credited user")
	}

	res := r.sender.Send(ctx, mail.Batch{
		TemplateID: r.templates.Credits,
		Category:   "credits",
		Personalizations: []mail.Personalization{userPersonalization(*u, nil, map[string]any{
			"credits":     p.Credits,
			"credits_url": r.links.Credits(),
		})},
	})
	out.Notified = len(res.Delivered)
	return nil
}

func (r *EventRouter) handleClassroomActivity(ctx context.Context, e event.Event, out *Outcome) error {
	var p event.ClassroomActivityPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	members, err := r.school.ClassroomMembers(ctx, p.ClassroomID)
	if err != nil {
		return errors.Wrap(err, "classroom members")
	}

	var actorName string
	ps := make([]mail.Personalization, 0, len(members))
	for _, m := range members {
		if m.ID == p.ActorID {
			actorName = m.FullName()
			continue
		}
		ps = append(ps, userPersonalization(m, map[string]string{
			"classroom_id": fmt.Sprint(p.ClassroomID),
		}, map[string]any{
			"kind":          p.Kind,
			"excerpt":       p.Excerpt,
			"classroom_url": r.links.Classroom(p.ClassroomID),
		}))
	}
	if len(ps) == 0 {
		return nil
	}
	for i := range ps {
		ps[i].TemplateData["actor_name"] = actorName
	}

	res := r.sender.Send(ctx, mail.Batch{
		TemplateID:       r.templates.ClassroomActivity,
		Category:         "classroom-activity",
		Personalizations: ps,
	})
	out.Notified = len(res.Delivered)
	return nil
}

func (r *EventRouter) handleAutoEnroll(ctx context.Context, e event.Event, out *Outcome) error {
	var p event.AutoEnrollPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	u, err := r.school.GetUser(ctx, p.UserID)
	if err != nil {
		return notFoundIsMalformed(err, "enrolling user")
	}
	class, err := r.school.GetClass(ctx, p.ClassID)
	if err != nil {
		return notFoundIsMalformed(err, "class")
	}

	sessions, err := r.school.UpcomingSessionsOfClass(ctx, class.ID, r.now())
	if err != nil {
		return errors.Wrap(err, "upcoming sessions")
	}
	if len(sessions) == 0 {
		r.log.WithFields(logrus.Fields{"user_id": u.ID, "class_id": class.ID}).Info("No upcoming sessions to enroll into")
		return nil
	}
	ids := make([]int64, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	out.Enrolled, err = r.school.EnrollInSessions(ctx, u.ID, ids)
	if err != nil {
		return errors.Wrap(err, "enroll in sessions")
	}
	if out.Enrolled == 0 {
		return nil
	}

	res := r.sender.Send(ctx, mail.Batch{
		TemplateID: r.templates.AutoEnroll,
		Category:   "auto-enroll",
		Personalizations: []mail.Personalization{userPersonalization(*u, map[string]string{
			"class_id": fmt.Sprint(class.ID),
		}, map[string]any{
			"class_title":   class.Title,
			"sessions":      len(sessions),
			"first_session": displayTime(sessions[0].StartsAt, u.TimeZone.String, r.loc),
			"class_url":     r.links.Class(class.ID),
		})},
	})
	out.Notified = len(res.Delivered)
	return nil
}

func notFoundIsMalformed(err error, what string) error {
	if errors.Is(err, school.ErrUserNotFound) || errors.Is(err, school.ErrClassNotFound) {
		return fmt.Errorf("%w: %s: %w", event.ErrMalformed, what, err)
	}
	return errors.Wrap(err, what)
}

// Package campaign models multi-stage nurturing campaigns and user enrollments.
package campaign

import (
	"database/sql"
	"time"
)

// Enrollment places a user at a stage of a campaign.
// Corresponds to the 'campaign_enrollments' table; (campaign, user_id) is unique.
type Enrollment struct {
	ID        int64        `db:"id"`
	Campaign  string       `db:"campaign"`
	UserID    int64        `db:"user_id"`
	Stage     int          `db:"stage"`
	SentAt    sql.NullTime `db:"sent_at"` // last successful send; NULL until stage 0 goes out
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// Decision is what a campaign run does with one enrollment.
type Decision int

const (
	Hold        Decision = iota // nothing to do this run
	Send                        // send the current stage's email
	Disqualify                  // remove without sending
	SweepLeftover               // stage already past the end; remove
)

func (d Decision) String() string {
	switch d {
	case Hold:
		return "hold"
	case Send:
		return "send"
	case Disqualify:
		return "disqualify"
	case SweepLeftover:
		return "sweep"
	default:
		return "unknown"
	}
}

// Decide evaluates one enrollment against its campaign at now.
func (d Definition) Decide(e Enrollment, paid bool, now time.Time) Decision {
	switch {
	case paid:
		return Disqualify
	case e.Stage >= d.TotalStages():
		return SweepLeftover
	case e.Stage == 0:
		return Send
	case !e.SentAt.Valid:
		return Send
	case !e.SentAt.Time.After(now.Add(-d.Cooldown)):
		return Send
	default:
		return Hold
	}
}

// Advance applies a successful send. It returns the advanced enrollment and
// false, or the unchanged enrollment and true when the sent stage was the
// last one and the enrollment must be removed.
func (d Definition) Advance(e Enrollment, now time.Time) (Enrollment, bool) {
	if e.Stage >= d.TotalStages()-1 {
		return e, true
	}
	e.Stage++
	e.SentAt = sql.NullTime{Time: now, Valid: true}
	e.UpdatedAt = now
	return e, false
}

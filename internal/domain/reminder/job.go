// Package reminder defines the scheduled reminder jobs run by the dispatcher.
package reminder

import (
	"context"
	"time"
)

// Job is a named reminder with its own schedule predicate.
type Job interface {
	// Type is the unique job name, used for override lists and telemetry.
	Type() string
	// IsDue reports whether the job should run for the hourly tick at now.
	IsDue(now time.Time) bool
	// Execute runs the job for the tick at now.
	Execute(ctx context.Context, now time.Time) (Outcome, error)
}

// Outcome summarises what a job did.
type Outcome struct {
	Candidates int
	Sent       int
	Failed     int
}

// Schedule decides whether a job is due at a given instant.
type Schedule func(now time.Time) bool

// AtHour is due during the given local hour (0-23) of now's location.
func AtHour(hour int) Schedule {
	return func(now time.Time) bool { return now.Hour() == hour }
}

// EveryHour is always due.
func EveryHour() Schedule {
	return func(time.Time) bool { return true }
}

// Func adapts a schedule and an execute function into a Job.
type Func struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context, now time.Time) (Outcome, error)
}

var _ Job = Func{}

func (f Func) Type() string { return f.Name }

func (f Func) IsDue(now time.Time) bool {
	if f.Schedule == nil {
		return false
	}
	return f.Schedule(now)
}

func (f Func) Execute(ctx context.Context, now time.Time) (Outcome, error) {
	return f.Run(ctx, now)
}

// Package telemetry defines the error reporting port used by the dispatcher,
// the event router and the email sender.
package telemetry

import "context"

// Report is a single failure worth telling someone about.
type Report struct {
	Job    string // job, event type or component that failed
	Err    error
	Fields map[string]any
}

// Reporter delivers failure reports. Report must not block for long and must
// not panic; callers continue with their work afterwards.
type Reporter interface {
	Report(ctx context.Context, r Report)
}

// Multi fans a report out to several reporters in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, r Report) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(ctx, r)
		}
	}
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(context.Context, Report) {}

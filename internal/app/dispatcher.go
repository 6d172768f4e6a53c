package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"school_mailman/internal/domain/reminder"
	"school_mailman/internal/domain/telemetry"
)

const tracerName = "school_mailman/app"

// ReminderRunner runs registered reminder jobs.
type ReminderRunner interface {
	Run(ctx context.Context, now time.Time, only []string) RunReport
	Jobs() []string
}

// JobResult is the outcome of one job within a run.
type JobResult struct {
	Job      string           `json:"job"`
	Outcome  reminder.Outcome `json:"outcome"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// RunReport summarises a dispatcher run.
type RunReport struct {
	RunID   string      `json:"run_id"`
	At      time.Time   `json:"at"`
	Forced  bool        `json:"forced"`
	Results []JobResult `json:"results"`
	Unknown []string    `json:"unknown,omitempty"`
}

// Ran lists the jobs executed, in execution order.
func (r RunReport) Ran() []string {
	names := make([]string, len(r.Results))
	for i, res := range r.Results {
		names[i] = res.Job
	}
	return names
}

// Failed returns the results that ended with an error.
func (r RunReport) Failed() []JobResult {
	var failed []JobResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Dispatcher runs reminder jobs sequentially in registration order. A failing
// job is reported and does not stop the jobs after it.
type Dispatcher struct {
	jobs     []reminder.Job
	byName   map[string]reminder.Job
	reporter telemetry.Reporter
	log      *logrus.Entry
	tracer   trace.Tracer
}

var _ ReminderRunner = (*Dispatcher)(nil)

func NewDispatcher(reporter telemetry.Reporter, log *logrus.Entry, jobs ...reminder.Job) (*Dispatcher, error) {
	d := &Dispatcher{
		byName:   make(map[string]reminder.Job, len(jobs)),
		reporter: reporter,
		log:      log,
		tracer:   otel.Tracer(tracerName),
	}
	for _, job := range jobs {
		name := job.Type()
		if name == "" {
			return nil, errors.New("reminder job with empty type")
		}
		if _, dup := d.byName[name]; dup {
			return nil, errors.Errorf("reminder job %q registered twice", name)
		}
		d.byName[name] = job
		d.jobs = append(d.jobs, job)
	}
	return d, nil
}

// Jobs returns registered job names in registration order.
func (d *Dispatcher) Jobs() []string {
	names := make([]string, len(d.jobs))
	for i, job := range d.jobs {
		names[i] = job.Type()
	}
	return names
}

// Run executes every job due at now. When only is non-empty the schedule is
// ignored and exactly the named jobs run; unknown names are listed in the
// report.
func (d *Dispatcher) Run(ctx context.Context, now time.Time, only []string) RunReport {
	report := RunReport{RunID: uuid.NewString(), At: now, Forced: len(only) > 0}
	ctx, span := d.tracer.Start(ctx, "reminders.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Bool("forced", report.Forced),
	))
	defer span.End()

	log := d.log.WithFields(logrus.Fields{"run_id": report.RunID, "at": now.Format(time.RFC3339)})

	selected := d.jobs
	if report.Forced {
		selected, report.Unknown = d.pick(only)
		for _, name := range report.Unknown {
			log.WithField("job", name).Warn("Skipping unknown reminder job")
		}
	}

	for _, job := range selected {
		if !report.Forced && !job.IsDue(now) {
			continue
		}
		report.Results = append(report.Results, d.execute(ctx, log, job, now, report.RunID))
	}

	log.WithFields(logrus.Fields{
		"ran":    len(report.Results),
		"failed": len(report.Failed()),
	}).Info("Reminder run finished")
	return report
}

// pick keeps registration order and drops duplicates.
func (d *Dispatcher) pick(only []string) ([]reminder.Job, []string) {
	wanted := make(map[string]bool, len(only))
	var unknown []string
	for _, name := range only {
		if _, ok := d.byName[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		wanted[name] = true
	}
	var jobs []reminder.Job
	for _, job := range d.jobs {
		if wanted[job.Type()] {
			jobs = append(jobs, job)
		}
	}
	return jobs, unknown
}

func (d *Dispatcher) execute(ctx context.Context, log *logrus.Entry, job reminder.Job, now time.Time, runID string) (res JobResult) {
	name := job.Type()
	res.Job = name
	log = log.WithField("job", name)

	ctx, span := d.tracer.Start(ctx, "reminders.job", trace.WithAttributes(attribute.String("job", name)))
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = errors.Errorf("panic: %v", p)
		}
		res.Duration = time.Since(started)
		if res.Err != nil {
			res.Error = res.Err.Error()
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Error)
			log.WithError(res.Err).Error("Reminder job failed")
			d.reporter.Report(ctx, telemetry.Report{
				Job: name,
				Err: res.Err,
				Fields: map[string]any{
					"at":     now.Format(time.RFC3339),
					"run_id": runID,
				},
			})
		} else {
			log.WithFields(logrus.Fields{
				"candidates": res.Outcome.Candidates,
				"sent":       res.Outcome.Sent,
				"failed":     res.Outcome.Failed,
				"duration":   res.Duration.String(),
			}).Info("Reminder job finished")
		}
		span.End()
	}()

	outcome, err := job.Execute(ctx, now)
	res.Outcome = outcome
	if err != nil {
		res.Err = errors.Wrapf(err, "reminder job %s", name)
	}
	return res
}

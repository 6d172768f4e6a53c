// Package telemetry holds the error reporters and tracing setup.
package telemetry

import (
	"context"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"

	domain "school_mailman/internal/domain/telemetry"
)

// LogReporter writes reports to the log at error level.
type LogReporter struct {
	Log *logrus.Entry
}

var _ domain.Reporter = LogReporter{}

func (r LogReporter) Report(_ context.Context, rep domain.Report) {
	r.Log.WithError(rep.Err).WithFields(logrus.Fields(rep.Fields)).WithField("job", rep.Job).Error("Failure reported")
}

// rollbarClient is the part of *rollbar.Client the reporter needs.
type rollbarClient interface {
	ErrorWithExtrasAndContext(ctx context.Context, level string, err error, extras map[string]interface{})
}

// RollbarReporter sends reports to Rollbar with the job name as an extra.
type RollbarReporter struct {
	client rollbarClient
}

var _ domain.Reporter = (*RollbarReporter)(nil)

type RollbarConfig struct {
	Token       string
	Environment string
	CodeVersion string
	ServerHost  string
}

func NewRollbarReporter(cfg RollbarConfig) *RollbarReporter {
	client := rollbar.New(cfg.Token, cfg.Environment, cfg.CodeVersion, cfg.ServerHost, "")
	client.SetStackTracer(rollbarerrors.StackTracer)
	return &RollbarReporter{client: client}
}

func (r *RollbarReporter) Report(ctx context.Context, rep domain.Report) {
	if rep.Err == nil {
		return
	}
	extras := make(map[string]interface{}, len(rep.Fields)+1)
	for k, v := range rep.Fields {
		extras[k] = v
	}
	extras["job"] = rep.Job
	r.client.ErrorWithExtrasAndContext(ctx, rollbar.ERR, rep.Err, extras)
}

// Close flushes queued items.
func (r *RollbarReporter) Close() error {
	if c, ok := r.client.(*rollbar.Client); ok {
		return c.Close()
	}
	return nil
}

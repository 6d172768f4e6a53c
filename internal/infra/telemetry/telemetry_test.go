package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "school_mailman/internal/domain/telemetry"
)

type fakeRollbar struct {
	level  string
	err    error
	extras map[string]interface{}
	calls  int
}

func (f *fakeRollbar) ErrorWithExtrasAndContext(_ context.Context, level string, err error, extras map[string]interface{}) {
	f.calls++
	f.level, f.err, f.extras = level, err, extras
}

func TestRollbarReporter_SendsJobAndFields(t *testing.T) {
	fake := &fakeRollbar{}
	r := &RollbarReporter{client: fake}
	boom := pkgerrors.New("boom")

	r.Report(context.Background(), domain.Report{Job: "NoShowFollowUp", Err: boom, Fields: map[string]any{"run_id": "abc"}})

	require.Equal(t, 1, fake.calls)
	assert.Equal(t, "error", fake.level)
	assert.Same(t, boom, fake.err)
	assert.Equal(t, "NoShowFollowUp", fake.extras["job"])
	assert.Equal(t, "abc", fake.extras["run_id"])
}

func TestRollbarReporter_IgnoresNilError(t *testing.T) {
	fake := &fakeRollbar{}
	(&RollbarReporter{client: fake}).Report(context.Background(), domain.Report{Job: "x"})
	assert.Zero(t, fake.calls)
}

func TestLogReporter_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	LogReporter{Log: logrus.NewEntry(l)}.Report(context.Background(), domain.Report{
		Job:    "PreClassReminder",
		Err:    pkgerrors.New("query failed"),
		Fields: map[string]any{"run_id": "r1"},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "PreClassReminder", entry["job"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "query failed", entry["error"])
}

func TestSetupTracing_NoopWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "mailman", "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_WithEndpoint(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	shutdown, err := SetupTracing(context.Background(), "mailman", "test", "http://192.0.2.1:4318")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

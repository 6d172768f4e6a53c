package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school_mailman/internal/domain/event"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "trigger", "migrate", "jobs"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestTriggerFlags(t *testing.T) {
	cmd := NewRootCommand()
	trigger, _, err := cmd.Find([]string{"trigger"})
	require.NoError(t, err)

	typeFlag := trigger.Flags().Lookup("type")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "t", typeFlag.Shorthand)
	assert.Equal(t, "SCHEDULED_REMINDERS", typeFlag.DefValue)
	for _, name := range []string{"jobs", "at", "campaigns", "payload"} {
		assert.NotNil(t, trigger.Flags().Lookup(name), name)
	}
}

func TestTriggerOptions_Event(t *testing.T) {
	t.Run("reminders with overrides", func(t *testing.T) {
		e, err := (&TriggerOptions{Type: "SCHEDULED_REMINDERS", Jobs: []string{"TeacherSchedules"}, At: "2024-01-10T19:00:00Z"}).event()
		require.NoError(t, err)
		var p event.ScheduledRemindersPayload
		require.NoError(t, e.Decode(&p))
		assert.Equal(t, []string{"TeacherSchedules"}, p.Jobs)
		require.NotNil(t, p.At)
		assert.True(t, p.At.Equal(time.Date(2024, 1, 10, 19, 0, 0, 0, time.UTC)))
	})

	t.Run("bad time", func(t *testing.T) {
		_, err := (&TriggerOptions{Type: "SCHEDULED_REMINDERS", At: "tomorrow"}).event()
		assert.Error(t, err)
	})

	t.Run("nurturing", func(t *testing.T) {
		e, err := (&TriggerOptions{Type: "NURTURING", Campaigns: []string{"New User Nurturing"}}).event()
		require.NoError(t, err)
		assert.JSONEq(t, `{"campaigns":["New User Nurturing"]}`, string(e.Payload))
	})

	t.Run("raw payload", func(t *testing.T) {
		e, err := (&TriggerOptions{Type: "YOU_GOT_CREDITS", Payload: `{"userId":7,"credits":3}`}).event()
		require.NoError(t, err)
		assert.Equal(t, event.TypeYouGotCredits, e.Type)
		assert.JSONEq(t, `{"userId":7,"credits":3}`, string(e.Payload))
	})

	t.Run("invalid raw payload", func(t *testing.T) {
		_, err := (&TriggerOptions{Type: "YOU_GOT_CREDITS", Payload: `{`}).event()
		assert.Error(t, err)
	})
}

func sqliteEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("DATABASE_AUTO_MIGRATE", "true")
	t.Setenv("EMAIL_PROVIDER", "log")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("ROLLBAR_TOKEN", "")
	t.Setenv("OTEL_ENDPOINT", "")
	t.Setenv("CAMPAIGNS_FILE", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestJobsCommand_ListsRegistrationOrder(t *testing.T) {
	sqliteEnv(t)

	out, err := execute(t, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "  PreClassReminder\n  PostClassFollowUp\n  NoShowFollowUp\n  TeacherSchedules\n  TeacherReflection\n")
	assert.Contains(t, out, "  New User Nurturing\n")
}

func TestTriggerCommand_ForcesNamedJob(t *testing.T) {
	sqliteEnv(t)

	out, err := execute(t, "trigger", "--jobs", "TeacherSchedules,Bogus", "--at", "2024-01-10T08:00:00Z")
	require.NoError(t, err)

	var outcome struct {
		Type      string `json:"type"`
		Reminders struct {
			Forced  bool `json:"forced"`
			Results []struct {
				Job   string `json:"job"`
				Error string `json:"error"`
			} `json:"results"`
			Unknown []string `json:"unknown"`
		} `json:"reminders"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, "SCHEDULED_REMINDERS", outcome.Type)
	assert.True(t, outcome.Reminders.Forced)
	require.Len(t, outcome.Reminders.Results, 1)
	assert.Equal(t, "TeacherSchedules", outcome.Reminders.Results[0].Job)
	assert.Empty(t, outcome.Reminders.Results[0].Error)
	assert.Equal(t, []string{"Bogus"}, outcome.Reminders.Unknown)
}

func TestTriggerCommand_UnknownTypeFails(t *testing.T) {
	sqliteEnv(t)

	_, err := execute(t, "trigger", "--type", "BOGUS")
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrUnknownType)
}

func TestMigrateCommand(t *testing.T) {
	sqliteEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema version 2\n", out)
}

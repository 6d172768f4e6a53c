package cli

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"school_mailman/internal/domain/event"
)

// TriggerOptions holds the trigger command flags.
type TriggerOptions struct {
	Type      string
	Jobs      []string
	At        string
	Campaigns []string
	Payload   string
}

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand() *cobra.Command {
	opts := &TriggerOptions{}

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Handle one event now and print its outcome as JSON",
		Example: `  mailman trigger --jobs TeacherSchedules --at 2024-01-10T19:00:00Z
  mailman trigger --type NURTURING --campaigns "New User Nurturing"
  mailman trigger --type YOU_GOT_CREDITS --payload '{"userId": 7, "credits": 3}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.event()
			if err != nil {
				return err
			}
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			out, handleErr := rt.router.Handle(cmd.Context(), e)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return handleErr
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", string(event.TypeScheduledReminder), "event type")
	cmd.Flags().StringSliceVar(&opts.Jobs, "jobs", nil, "reminder jobs to force-run (SCHEDULED_REMINDERS)")
	cmd.Flags().StringVar(&opts.At, "at", "", "run time as RFC3339 (SCHEDULED_REMINDERS)")
	cmd.Flags().StringSliceVar(&opts.Campaigns, "campaigns", nil, "campaigns to run (NURTURING)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "raw JSON payload, for the other event types")
	return cmd
}

// event builds the event described by the flags.
func (o *TriggerOptions) event() (event.Event, error) {
	t := event.Type(o.Type)
	if o.Payload != "" {
		if !json.Valid([]byte(o.Payload)) {
			return event.Event{}, errors.New("--payload is not valid JSON")
		}
		return event.Event{Type: t, Payload: json.RawMessage(o.Payload)}, nil
	}

	switch t {
	case event.TypeScheduledReminder:
		p := event.ScheduledRemindersPayload{Jobs: o.Jobs}
		if o.At != "" {
			at, err := time.Parse(time.RFC3339, o.At)
			if err != nil {
				return event.Event{}, errors.Wrap(err, "--at")
			}
			p.At = &at
		}
		return event.New(t, p)
	case event.TypeNurturing:
		return event.New(t, event.NurturingPayload{Campaigns: o.Campaigns})
	default:
		return event.Event{Type: t}, nil
	}
}

package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"school_mailman/internal/app"
	"school_mailman/internal/domain/event"
)

// AdminHandlers lets the admin trigger and inspect runs from Telegram.
type AdminHandlers struct {
	ctx      context.Context
	handler  app.EventHandler
	registry app.Registry
	log      *logrus.Entry
}

func NewAdminHandlers(ctx context.Context, handler app.EventHandler, registry app.Registry, log *logrus.Entry) *AdminHandlers {
	return &AdminHandlers{ctx: ctx, handler: handler, registry: registry, log: log}
}

// RegisterAdminHandlers registers the admin commands on b. Only adminTelegramID may use them.
func RegisterAdminHandlers(b *telebot.Bot, h *AdminHandlers, adminTelegramID int64) {
	admin := b.Group()
	admin.Use(adminOnly(adminTelegramID, h.log))
	admin.Handle("/start", h.start)
	admin.Handle("/help", h.help)
	admin.Handle("/run_reminders", h.runReminders)
	admin.Handle("/nurture", h.nurture)
	admin.Handle("/jobs", h.jobs)
}

func (h *AdminHandlers) runReminders(c telebot.Context) error {
	args := c.Args()
	handlerLogger := h.log.WithFields(logrus.Fields{
		"handler":   "/run_reminders",
		"sender_id": c.Sender().ID,
		"jobs":      args,
	})
	handlerLogger.Info("Command received")

	out, err := h.trigger(event.TypeScheduledReminder, event.ScheduledRemindersPayload{Jobs: args})
	if err != nil {
		handlerLogger.WithError(err).Error("Reminder run failed")
		return c.Send(fmt.Sprintf("Reminder run failed: %s", err))
	}
	return c.Send(formatRunReport(out.Reminders))
}

func (h *AdminHandlers) nurture(c telebot.Context) error {
	campaigns := campaignNames(c.Message().Payload)
	handlerLogger := h.log.WithFields(logrus.Fields{
		"handler":   "/nurture",
		"sender_id": c.Sender().ID,
		"campaigns": campaigns,
	})
	handlerLogger.Info("Command received")

	out, err := h.trigger(event.TypeNurturing, event.NurturingPayload{Campaigns: campaigns})
	if errors.Is(err, event.ErrMalformed) {
		return c.Send(fmt.Sprintf("%s\nKnown campaigns: %s", err, strings.Join(h.registry.Campaigns(), ", ")))
	}

	var text strings.Builder
	for _, r := range out.Nurturing {
		fmt.Fprintf(&text, "%s: enrolled %d, sent %d, failed %d, advanced %d, removed %d\n",
			r.Campaign, r.Enrolled, r.Sent, r.Failed, r.Advanced, r.Removed)
	}
	if err != nil {
		handlerLogger.WithError(err).Error("Nurturing run failed")
		fmt.Fprintf(&text, "Nurturing run failed: %s", err)
	}
	if text.Len() == 0 {
		text.WriteString("No campaigns ran.")
	}
	return c.Send(text.String())
}

// campaignNames splits the /nurture payload on commas. Campaign names contain spaces.
func campaignNames(payload string) []string {
	var names []string
	for _, name := range strings.Split(payload, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (h *AdminHandlers) jobs(c telebot.Context) error {
	h.log.WithFields(logrus.Fields{"handler": "/jobs", "sender_id": c.Sender().ID}).Info("Command received")

	var text strings.Builder
	text.WriteString("Reminder jobs:\n")
	for _, name := range h.registry.Jobs() {
		text.WriteString(" - " + name + "\n")
	}
	text.WriteString("Campaigns:\n")
	for _, name := range h.registry.Campaigns() {
		text.WriteString(" - " + name + "\n")
	}
	return c.Send(text.String())
}

func (h *AdminHandlers) trigger(t event.Type, payload any) (app.Outcome, error) {
	e, err := event.New(t, payload)
	if err != nil {
		return app.Outcome{}, err
	}
	return h.handler.Handle(h.ctx, e)
}

func formatRunReport(r *app.RunReport) string {
	if r == nil {
		return "No report."
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Run %s at %s\n", r.RunID, r.At.Format("2006-01-02 15:04 MST"))
	if len(r.Results) == 0 {
		text.WriteString("No jobs were due.\n")
	}
	for _, res := range r.Results {
		if res.Err != nil {
			fmt.Fprintf(&text, "✗ %s: %s\n", res.Job, res.Error)
			continue
		}
		fmt.Fprintf(&text, "✓ %s: sent %d, failed %d\n", res.Job, res.Outcome.Sent, res.Outcome.Failed)
	}
	for _, name := range r.Unknown {
		fmt.Fprintf(&text, "? %s: unknown job\n", name)
	}
	return text.String()
}

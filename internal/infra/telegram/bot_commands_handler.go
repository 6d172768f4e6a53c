// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Sorry, this bot only talks to the mailman operators."

// adminOnly rejects updates from anyone but the configured admin.
func adminOnly(adminID int64, log *logrus.Entry) telebot.MiddlewareFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			if c.Sender() == nil || c.Sender().ID != adminID {
				var senderID int64
				if c.Sender() != nil {
					senderID = c.Sender().ID
				}
				log.WithField("sender_id", senderID).Warn("Unauthorized access attempt")
				return c.Send(unauthorizedReply)
			}
			return next(c)
		}
	}
}

func (h *AdminHandlers) start(c telebot.Context) error {
	h.log.WithField("command", "/start").Info("Processing /start command")
	return c.Send("Hi " + c.Sender().FirstName + "! Mailman is running. Use /help for the list of commands.")
}

func (h *AdminHandlers) help(c telebot.Context) error {
	h.log.WithField("command", "/help").Info("Processing /help command")

	var text strings.Builder
	text.WriteString("Available commands:\n\n")
	text.WriteString("`/run_reminders [job...]`\n - Run the reminders due now, or force the named jobs.\n\n")
	text.WriteString("`/nurture [campaign, ...]`\n - Run every nurturing campaign, or only the named ones (comma-separated).\n\n")
	text.WriteString("`/jobs`\n - List registered reminder jobs and campaigns.\n\n")
	text.WriteString("`/help`\n - Show this message.")
	return c.Send(text.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
}

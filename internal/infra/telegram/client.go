// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"school_mailman/internal/domain/telemetry"
)

// maxAlertLen keeps alerts under Telegram's 4096 character message limit.
const maxAlertLen = 3500

// Messenger sends messages. *telebot.Bot implements it.
type Messenger interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// AlertReporter posts failure reports to the admin chat.
type AlertReporter struct {
	bot         Messenger
	adminID     int64
	environment string
	log         *logrus.Entry
}

var _ telemetry.Reporter = (*AlertReporter)(nil)

func NewAlertReporter(bot Messenger, adminID int64, environment string, log *logrus.Entry) *AlertReporter {
	return &AlertReporter{bot: bot, adminID: adminID, environment: environment, log: log}
}

func (a *AlertReporter) Report(_ context.Context, r telemetry.Report) {
	if r.Err == nil {
		return
	}
	text := alertText(a.environment, r)
	if _, err := a.bot.Send(&telebot.User{ID: a.adminID}, text); err != nil {
		a.log.WithError(err).WithField("job", r.Job).Warn("Could not deliver alert to admin")
	}
}

func alertText(environment string, r telemetry.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s failed\n%s", environment, r.Job, r.Err)

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, r.Fields[k])
	}

	text := b.String()
	if len(text) > maxAlertLen {
		cut := maxAlertLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	return text
}

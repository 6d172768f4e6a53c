package cli

import (
	"context"
	netmail "net/mail"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"school_mailman/internal/app"
	"school_mailman/internal/domain/campaign"
	"school_mailman/internal/domain/mail"
	domaintelemetry "school_mailman/internal/domain/telemetry"
	"school_mailman/internal/infra/config"
	"school_mailman/internal/infra/database"
	"school_mailman/internal/infra/email"
	"school_mailman/internal/infra/logger"
	"school_mailman/internal/infra/telegram"
	"school_mailman/internal/infra/telemetry"
)

const serviceName = "mailman"

// runtime is the wired application.
type runtime struct {
	cfg      *config.AppConfig
	db       *sqlx.DB
	bot      *telebot.Bot
	router   *app.EventRouter
	reporter domaintelemetry.Reporter
	closers  []func(context.Context) error
}

func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			logger.Log.WithError(err).Warn("Shutdown step failed")
		}
	}
}

// bootstrap loads configuration and wires every component. The caller must
// Close the runtime.
func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.BuildVersion, cfg.OTelEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "setup tracing")
	}
	rt.closers = append(rt.closers, shutdownTracing)

	reporters := domaintelemetry.Multi{telemetry.LogReporter{Log: logger.Component("telemetry")}}
	if cfg.RollbarToken != "" {
		rb := telemetry.NewRollbarReporter(telemetry.RollbarConfig{
			Token:       cfg.RollbarToken,
			Environment: cfg.Environment,
			CodeVersion: cfg.BuildVersion,
		})
		rt.closers = append(rt.closers, func(context.Context) error { return rb.Close() })
		reporters = append(reporters, rb)
	}
	if cfg.TelegramToken != "" {
		rt.bot, err = newBot(cfg.TelegramToken)
		if err != nil {
			return nil, errors.Wrap(err, "create telegram bot")
		}
		reporters = append(reporters, telegram.NewAlertReporter(rt.bot, cfg.AdminTelegramID, cfg.Environment, logger.Component("telegram")))
	}
	rt.reporter = reporters

	rt.db, err = database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.db.Close() })
	mainLogger.WithField("driver", cfg.DatabaseDriver).Info("Database connection established")

	if cfg.AutoMigrate {
		version, err := database.Migrate(ctx, rt.db)
		if err != nil {
			return nil, err
		}
		mainLogger.WithField("version", version).Info("Database migrated")
	}

	catalog, err := campaign.LoadCatalog(cfg.CampaignsFile)
	if err != nil {
		return nil, err
	}

	schoolRepo := database.NewSchoolRepository(rt.db)
	campaignRepo := database.NewCampaignRepository(rt.db)
	sender := newSender(cfg, reporters)
	templates := app.Templates(cfg.Templates)
	links := app.Links{BaseURL: cfg.FrontendBaseURL}

	jobs := &app.ReminderJobs{
		School:    schoolRepo,
		Sender:    sender,
		Templates: templates,
		Links:     links,
		Location:  cfg.Location(),
	}
	dispatcher, err := app.NewDispatcher(reporters, logger.Component("dispatcher"), jobs.All()...)
	if err != nil {
		return nil, err
	}
	nurturing, err := app.NewNurturingService(catalog, campaignRepo, schoolRepo, sender, reporters,
		logger.Component("nurturing"), cfg.Location(), links)
	if err != nil {
		return nil, err
	}

	rt.router = app.NewEventRouter(app.RouterDeps{
		Reminders: dispatcher,
		Nurturing: nurturing,
		School:    schoolRepo,
		Sender:    sender,
		Templates: templates,
		Links:     links,
		Reporter:  reporters,
		Log:       logger.Component("router"),
		Location:  cfg.Location(),
	})

	mainLogger.WithFields(logrus.Fields{
		"jobs":      len(dispatcher.Jobs()),
		"campaigns": len(nurturing.Campaigns()),
		"email":     cfg.Email.Provider,
		"sandbox":   cfg.Email.Sandbox,
	}).Info("Application wired")
	ok = true
	return rt, nil
}

func newSender(cfg *config.AppConfig, reporter domaintelemetry.Reporter) mail.Sender {
	if cfg.Email.Provider == config.ProviderLog {
		return &email.LogSender{BatchSize: cfg.Email.BatchSize, Log: logger.Component("email")}
	}
	return email.NewSendGridSender(email.Config{
		APIKey:    cfg.SendGridAPIKey,
		From:      netmail.Address{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
		BatchSize: cfg.Email.BatchSize,
		Sandbox:   cfg.Email.Sandbox,
	}, email.NewLimiter(cfg.Email.MinInterval), reporter, logger.Component("email"))
}

func newBot(token string) (*telebot.Bot, error) {
	telebotLogger := logger.Component("telebot")
	return telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := telebotLogger.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	})
}

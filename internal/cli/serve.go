package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"school_mailman/internal/infra/amqp"
	"school_mailman/internal/infra/httpapi"
	"school_mailman/internal/infra/logger"
	"school_mailman/internal/infra/scheduler"
	"school_mailman/internal/infra/telegram"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the event intakes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg
	mainLogger := logger.Component("main")

	sched := scheduler.NewScheduler(rt.router, logger.Component("scheduler"), cfg.Location(),
		cfg.CronSpecReminders, cfg.CronSpecNurturing, cfg.JobTimeout)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)

	api := httpapi.NewHandler(rt.router, rt.router, logger.Component("http"))
	g.Go(func() error {
		return httpapi.Serve(ctx, cfg.HTTPAddr, api.Routes(), logger.Component("http"))
	})

	if cfg.AMQPURL != "" {
		consumer := amqp.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, rt.router, logger.Component("amqp"))
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if rt.bot != nil {
		handlers := telegram.NewAdminHandlers(ctx, rt.router, rt.router, logger.Component("telegram"))
		telegram.RegisterAdminHandlers(rt.bot, handlers, cfg.AdminTelegramID)
		go rt.bot.Start()
		g.Go(func() error {
			<-ctx.Done()
			rt.bot.Stop()
			return nil
		})
		mainLogger.Info("Admin command handlers registered")
	}

	mainLogger.Info("Application setup complete")
	err = g.Wait()
	mainLogger.Info("Shutting down application...")
	return err
}

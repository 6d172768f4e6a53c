package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"school_mailman/internal/app"
	"school_mailman/internal/domain/event"
)

// Scheduler turns cron ticks into trigger events: SCHEDULED_REMINDERS on the
// reminder spec and NURTURING on the nurturing spec.
type Scheduler struct {
	cronEngine        *cron.Cron
	handler           app.EventHandler
	logger            *logrus.Entry
	cronSpecReminders string
	cronSpecNurturing string
	jobTimeout        time.Duration
}

func NewScheduler(
	handler app.EventHandler,
	logger *logrus.Entry,
	loc *time.Location,
	cronSpecReminders string, // e.g. "0 * * * *" (top of every hour)
	cronSpecNurturing string, // e.g. "0 10 * * *" (10:00 daily)
	jobTimeout time.Duration,
) *Scheduler {
	return &Scheduler{
		cronEngine:        cron.New(cron.WithLocation(loc)),
		handler:           handler,
		logger:            logger,
		cronSpecReminders: cronSpecReminders,
		cronSpecNurturing: cronSpecNurturing,
		jobTimeout:        jobTimeout,
	}
}

// Start registers both triggers and starts the cron engine.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecReminders, func() { s.fire(event.TypeScheduledReminder) }); err != nil {
		return err
	}
	if _, err := s.cronEngine.AddFunc(s.cronSpecNurturing, func() { s.fire(event.TypeNurturing) }); err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"reminders": s.cronSpecReminders,
		"nurturing": s.cronSpecNurturing,
	}).Info("Scheduler started")
	return nil
}

// fire handles one tick. Failures are already reported by the handler, so
// they are only logged here.
func (s *Scheduler) fire(t event.Type) {
	log := s.logger.WithField("event_type", t)
	log.Info("Cron job triggered")

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	started := time.Now()
	out, err := s.handler.Handle(ctx, event.Event{Type: t})
	if err != nil {
		log.WithError(err).Error("Scheduled run failed")
		return
	}
	fields := logrus.Fields{"duration": time.Since(started).String()}
	if out.Reminders != nil {
		fields["jobs_ran"] = len(out.Reminders.Results)
		fields["jobs_failed"] = len(out.Reminders.Failed())
	}
	if out.Nurturing != nil {
		fields["campaigns"] = len(out.Nurturing)
	}
	log.WithFields(fields).Info("Scheduled run finished")
}

// Stop stops the engine and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler gracefully stopped")
}

/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/affiliatehub/commission-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the jobs and starts the cron scheduler. An empty schedule
// disables the job, leaving it to the internal HTTP trigger.
func (s *Scheduler) Start() {
	s.register("subscription expiration", s.config.ExpirationSweepSchedule, s.jobs.ExpireSubscriptions)
	s.register("commission backfill", s.config.BackfillSchedule, s.jobs.RunBackfills)
	s.cron.Start()
}

func (s *Scheduler) register(name, schedule string, job func(context.Context)) {
	if schedule == "" {
		s.logger.Info("job disabled", "job", name)
		return
	}
	if _, err := s.cron.AddFunc(schedule, func() { job(s.ctx) }); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop cancels running jobs and stops the cron scheduler. The returned
// context is done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

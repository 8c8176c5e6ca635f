/**
 * @description
 * Scheduled job implementations for the commission service.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/affiliatehub/commission-service/internal/domain"
)

// JobService is the subset of the service the scheduled jobs drive.
type JobService interface {
	RunExpirationSweep(ctx context.Context) (*domain.SweepResult, error)
	RunAllBackfills(ctx context.Context) ([]BackfillResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service JobService
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service JobService, logger *slog.Logger) *Jobs {
	return &Jobs{
		service: service,
		logger:  logger,
	}
}

// ExpireSubscriptions moves lapsed subscriptions to EXPIRED. Cancelling ctx
// stops the sweep between subscriptions.
func (j *Jobs) ExpireSubscriptions(ctx context.Context) {
	j.logger.Info("starting subscription expiration job")

	result, err := j.service.RunExpirationSweep(ctx)
	if err != nil {
		j.logger.Error("failed to run subscription expiration sweep", "error", err)
		return
	}

	j.logger.Info("subscription expiration job finished",
		"evaluated", result.Evaluated,
		"expired", result.Expired,
		"fell_back_to_free", result.FellBackToFree,
		"failed", result.Failed,
	)
}

// RunBackfills recreates any commissions missed by the event handlers.
func (j *Jobs) RunBackfills(ctx context.Context) {
	j.logger.Info("starting commission backfill job")

	results, err := j.service.RunAllBackfills(ctx)
	for _, result := range results {
		j.logger.Info("backfill finished",
			"job", result.Job,
			"scanned", result.Scanned,
			"created", result.Created,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	if err != nil {
		j.logger.Error("commission backfill job failed", "error", err)
		return
	}

	j.logger.Info("commission backfill job finished")
}

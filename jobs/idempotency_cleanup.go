package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fakturace/fakturace/internal/jobs"
)

// IdempotencyCleanupCron runs the purge once a day.
const IdempotencyCleanupCron = "30 3 * * *"

// DefaultKeyRetention keeps idempotency keys for a week.
const DefaultKeyRetention = 7 * 24 * time.Hour

// KeyPurger deletes old idempotency keys. *shared.IdempotencyStore satisfies it.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob purges idempotency keys past their retention.
type IdempotencyCleanupJob struct {
	Keys      KeyPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	retention := j.Retention
	if retention <= 0 {
		retention = DefaultKeyRetention
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	err := metrics.Track(TaskIdempotencyCleanup).End(j.Keys.Cleanup(ctx, retention))
	if err != nil {
		logger.Error("idempotency cleanup", slog.String("job", TaskIdempotencyCleanup), slog.Any("error", err))
		return err
	}
	logger.Debug("idempotency keys purged", slog.String("job", TaskIdempotencyCleanup), slog.Duration("retention", retention))
	return nil
}

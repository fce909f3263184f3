package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fakturace/fakturace/internal/jobs"
)

// OverdueSweepCron runs the sweep shortly after midnight Prague time.
const OverdueSweepCron = "5 0 * * *"

// OverdueMarker flags overdue invoices. *invoicing.Service satisfies it.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// OverdueSweepJob moves sent invoices past due to overdue.
type OverdueSweepJob struct {
	Invoices OverdueMarker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewOverdueSweepJob wires dependencies for the sweep handler.
func NewOverdueSweepJob(invoices OverdueMarker, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueSweepJob {
	return &OverdueSweepJob{
		Invoices: invoices,
		Logger:   logger,
		Metrics:  metrics,
		clock:    time.Now,
	}
}

// Handle processes TaskInvoicesOverdueSweep tasks. Invoices that changed
// are kept even when others failed, so the error only triggers a retry of
// the remainder.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invoices == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	var payload OverdueSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("overdue sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	tracker := j.metrics().Track(TaskInvoicesOverdueSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", asOf.Format(time.DateOnly)))
	changed, err := j.Invoices.MarkOverdue(ctx, asOf)
	j.metrics().AddItems(TaskInvoicesOverdueSweep, "overdue", changed)
	if err != nil {
		resultErr = err
		logger.Error("overdue sweep", slog.Int("changed", changed), slog.Any("error", err))
		return resultErr
	}
	logger.Info("overdue sweep finished", slog.Int("changed", changed))
	return resultErr
}

func (j *OverdueSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoicesOverdueSweep))
	}
	return slog.Default().With(slog.String("job", TaskInvoicesOverdueSweep))
}

func (j *OverdueSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *OverdueSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

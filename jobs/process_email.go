package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fakturace/fakturace/internal/jobs"
	"github.com/fakturace/fakturace/internal/reconcile"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// EmailProcessor runs the reconciliation flow. *reconcile.Service satisfies it.
type EmailProcessor interface {
	ProcessEmail(ctx context.Context, in reconcile.EmailInput) (reconcile.ProcessResult, error)
}

// ProcessEmailJob reconciles queued bank emails.
type ProcessEmailJob struct {
	Processor EmailProcessor
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewProcessEmailJob wires dependencies for the bank email handler.
func NewProcessEmailJob(processor EmailProcessor, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProcessEmailJob {
	return &ProcessEmailJob{Processor: processor, Logger: logger, Metrics: metrics}
}

// Handle processes TaskBankProcessEmail tasks. A run is retried only when
// it failed before any payment was recorded; per payment failures are
// reported in the result and logged.
func (j *ProcessEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Processor == nil {
		return errors.New("process email: handler not configured")
	}
	var payload ProcessEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("process email: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskBankProcessEmail)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int64("company_id", payload.CompanyID),
		slog.Int64("bank_account_id", payload.BankAccountID),
	)
	res, err := j.Processor.ProcessEmail(ctx, reconcile.EmailInput{
		CompanyID:     payload.CompanyID,
		BankAccountID: payload.BankAccountID,
		Body:          payload.Body,
	})
	if errors.Is(err, reconcile.ErrInvalidInput) {
		resultErr = err
		logger.Error("invalid bank email task", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		resultErr = err
		logger.Error("process bank email", slog.Any("error", err))
		return resultErr
	}

	m := j.metrics()
	m.AddItems(TaskBankProcessEmail, "processed", res.Processed)
	m.AddItems(TaskBankProcessEmail, "matched", res.Matched)
	m.AddItems(TaskBankProcessEmail, "duplicate", res.Duplicates)
	m.AddItems(TaskBankProcessEmail, "unmatched", res.Unmatched)
	for _, msg := range res.Errors {
		logger.Warn("payment not reconciled", slog.String("run_id", res.RunID.String()), slog.String("reason", msg))
	}
	logger.Info("bank email processed",
		slog.String("run_id", res.RunID.String()),
		slog.Int("processed", res.Processed),
		slog.Int("matched", res.Matched),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("unmatched", res.Unmatched),
	)
	return resultErr
}

func (j *ProcessEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBankProcessEmail))
	}
	return slog.Default().With(slog.String("job", TaskBankProcessEmail))
}

func (j *ProcessEmailJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

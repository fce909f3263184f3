package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBankProcessEmail processes one inbound bank notification.
	TaskBankProcessEmail = "bank:process_email"
	// TaskInvoicesOverdueSweep flags sent invoices past their due date.
	TaskInvoicesOverdueSweep = "invoices:overdue_sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ProcessEmailPayload carries a bank email to the worker.
type ProcessEmailPayload struct {
	CompanyID     int64  `json:"companyId"`
	BankAccountID int64  `json:"bankAccountId"`
	Body          string `json:"body"`
}

// OverdueSweepPayload optionally pins the reference day. Zero means today.
type OverdueSweepPayload struct {
	AsOf time.Time `json:"asOf,omitempty"`
}

// NewProcessEmailTask constructs an Asynq task for a bank email.
func NewProcessEmailTask(payload ProcessEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBankProcessEmail, data, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute)), nil
}

// NewOverdueSweepTask constructs the overdue sweep task.
func NewOverdueSweepTask(asOf time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueSweepPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoicesOverdueSweep, data, asynq.MaxRetry(1)), nil
}

// NewIdempotencyCleanupTask constructs the key purge task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.MaxRetry(1))
}

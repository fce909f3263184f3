package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fakturace/fakturace/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerRequest names a job and, for bank emails, its payload.
type TriggerRequest struct {
	Name  string
	AsOf  time.Time
	Email jobs.ProcessEmailPayload
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	task, err := buildTask(req)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func buildTask(req TriggerRequest) (*asynq.Task, error) {
	switch req.Name {
	case jobs.TaskInvoicesOverdueSweep:
		return jobs.NewOverdueSweepTask(req.AsOf)
	case jobs.TaskBankProcessEmail:
		if req.Email.CompanyID <= 0 || req.Email.BankAccountID <= 0 || req.Email.Body == "" {
			return nil, errors.New("jobs cli: bank email needs --company, --account and a body")
		}
		return jobs.NewProcessEmailTask(req.Email)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", req.Name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

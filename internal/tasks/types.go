package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-orgs/internal/mail"
)

// Task type names
const (
	TypeEmailSend        = "email:send"
	TypeHousekeepingTick = "housekeeping:tick"
)

const emailMaxRetry = 5

// EmailPayload is a rendered message waiting for SMTP delivery.
type EmailPayload = mail.Message

func NewEmailTask(msg EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailSend, data, asynq.MaxRetry(emailMaxRetry), asynq.Timeout(time.Minute)), nil
}

// HousekeepingTickPayload is empty - every tick sweeps all expired rows
type HousekeepingTickPayload struct{}

func NewHousekeepingTickTask() *asynq.Task {
	return asynq.NewTask(TypeHousekeepingTick, nil, asynq.MaxRetry(0))
}

// Enqueuer is the part of asynq.Client the email queue uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)

// EmailQueue delivers mail by enqueueing an email:send task for the worker.
type EmailQueue struct {
	client Enqueuer
}

var _ mail.Deliverer = (*EmailQueue)(nil)

func NewEmailQueue(client Enqueuer) *EmailQueue {
	return &EmailQueue{client: client}
}

func (q *EmailQueue) Deliver(ctx context.Context, msg mail.Message) error {
	task, err := NewEmailTask(msg)
	if err != nil {
		return fmt.Errorf("building email task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueueing email task: %w", err)
	}
	return nil
}

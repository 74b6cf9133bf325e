package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoicesnap-backend/models"
	"invoicesnap-backend/services"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer is the part of *asynq.Client the queue uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands deliveries to the worker. It implements services.Deliverer
// and services.ReminderQueue.
type Queue struct {
	client   Enqueuer
	maxRetry int
	log      *zap.Logger
}

// NewQueue retries a task maxAttempts-1 times.
func NewQueue(client Enqueuer, maxAttempts int, log *zap.Logger) *Queue {
	return &Queue{client: client, maxRetry: maxAttempts - 1, log: log}
}

func (q *Queue) RequestDelivery(ctx context.Context, id uint, kind models.DeliveryKind) (services.DeliveryOutcome, error) {
	task, err := NewDeliveryTask(id, kind)
	if err != nil {
		return services.DeliveryOutcome{}, err
	}
	queue := QueueDefault
	if kind == models.KindInvoice {
		queue = QueueCritical
	}
	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.MaxRetry(q.maxRetry))
	if err != nil {
		return services.DeliveryOutcome{}, fmt.Errorf("enqueue delivery: %w", err)
	}
	q.log.Info("delivery enqueued", zap.Uint("invoice_id", id), zap.String("kind", string(kind)), zap.String("task_id", info.ID))
	return services.DeliveryOutcome{Queued: true}, nil
}

// EnqueueReminder uses the reminder key as task id so a reminder is queued
// at most once per invoice and day.
func (q *Queue) EnqueueReminder(ctx context.Context, id uint, on time.Time) (bool, error) {
	task, err := NewDeliveryTask(id, models.KindReminder)
	if err != nil {
		return false, err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(q.maxRetry),
		asynq.TaskID(services.ReminderKey(id, on)))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue reminder: %w", err)
	}
	return true, nil
}

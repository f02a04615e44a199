package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const messageContentType = "application/json"

// maxSkippedDeliveries bounds how many stale notifications a single
// FetchNext call drains before reporting an empty queue
const maxSkippedDeliveries = 64

// broker is the subset of the shared RabbitMQ client used by RabbitQueue
type broker interface {
	Get() (amqp.Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error
}

// RabbitQueue keeps the Postgres row as the source of truth and uses
// RabbitMQ only to announce which job to claim next. A delivery stays
// unacknowledged until the job is completed, retried or buried.
type RabbitQueue struct {
	store  *PostgresQueue
	broker broker
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	tags map[string]uint64
}

// NewRabbitQueue creates a queue that claims rows from store when notified
// through broker
func NewRabbitQueue(store *PostgresQueue, broker broker, logger *slog.Logger) *RabbitQueue {
	return &RabbitQueue{
		store:  store,
		broker: broker,
		logger: logger,
		now:    time.Now,
		tags:   make(map[string]uint64),
	}
}

// Enqueue inserts the row and publishes its notification. When the
// notification cannot be published the row is marked FAILED so it does not
// sit in PENDING with nothing to announce it.
func (q *RabbitQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if err := q.store.Enqueue(ctx, job); err != nil {
		return err
	}

	delay := job.RunAfter.Sub(q.now())
	if err := q.notify(ctx, job.ID, delay); err != nil {
		q.logger.Error("Failed to publish job notification",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		if markErr := q.store.failPending(ctx, job.ID, err); markErr != nil {
			q.logger.Error("Failed to mark unpublished job as FAILED",
				slog.String("job_id", job.ID),
				slog.Any("error", markErr),
			)
		}
		return fmt.Errorf("failed to publish job notification: %w", err)
	}
	return nil
}

// FetchNext takes one notification and claims its row. Notifications for
// rows another worker already claimed are acknowledged and skipped.
func (q *RabbitQueue) FetchNext(ctx context.Context) (*domain.Job, error) {
	for range maxSkippedDeliveries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		delivery, ok, err := q.broker.Get()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		var msg domain.JobMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil || msg.JobID == "" {
			q.logger.Warn("Discarding malformed job notification",
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.Any("error", err),
			)
			q.nack(delivery.DeliveryTag, false)
			continue
		}
		msg.DeliveryTag = delivery.DeliveryTag

		job, err := q.store.ClaimJob(ctx, msg.JobID)
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			q.ack(msg.DeliveryTag)
			continue
		}
		if err != nil {
			q.nack(msg.DeliveryTag, true)
			return nil, err
		}

		q.mu.Lock()
		q.tags[job.ID] = msg.DeliveryTag
		q.mu.Unlock()
		return job, nil
	}
	return nil, nil
}

// Complete marks the row completed and acknowledges its notification
func (q *RabbitQueue) Complete(ctx context.Context, job *domain.Job) error {
	if err := q.store.Complete(ctx, job); err != nil {
		return err
	}
	if tag, ok := q.takeTag(job.ID); ok {
		q.ack(tag)
	}
	return nil
}

// Retry returns the row to PENDING and parks a fresh notification in the
// retry queue until runAt
func (q *RabbitQueue) Retry(ctx context.Context, job *domain.Job, runAt time.Time, cause error) error {
	if err := q.store.Retry(ctx, job, runAt, cause); err != nil {
		return err
	}
	if err := q.notify(ctx, job.ID, runAt.Sub(q.now())); err != nil {
		// row is PENDING again, so the original delivery must announce it
		if tag, ok := q.takeTag(job.ID); ok {
			q.nack(tag, true)
		}
		return fmt.Errorf("failed to publish retry notification: %w", err)
	}
	if tag, ok := q.takeTag(job.ID); ok {
		q.ack(tag)
	}
	return nil
}

// Bury marks the row FAILED and rejects the delivery into the dead-letter
// exchange
func (q *RabbitQueue) Bury(ctx context.Context, job *domain.Job, cause error) error {
	if err := q.store.Bury(ctx, job, cause); err != nil {
		return err
	}
	if tag, ok := q.takeTag(job.ID); ok {
		q.nack(tag, false)
	}
	return nil
}

// Heartbeat refreshes the row's liveness timestamp
func (q *RabbitQueue) Heartbeat(ctx context.Context, jobID string) error {
	return q.store.Heartbeat(ctx, jobID)
}

// RecoverStale resets abandoned rows and announces each of them again
func (q *RabbitQueue) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	ids, err := q.store.recoverStale(ctx, staleAfter)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, id := range ids {
		if err := q.notify(ctx, id, 0); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", id, err))
		}
	}
	return len(ids), errors.Join(errs...)
}

// ListDead returns buried jobs from the table
func (q *RabbitQueue) ListDead(ctx context.Context, limit int) ([]*domain.Job, error) {
	return q.store.ListDead(ctx, limit)
}

// Requeue resets a buried row and announces it again
func (q *RabbitQueue) Requeue(ctx context.Context, jobID string) error {
	if err := q.store.Requeue(ctx, jobID); err != nil {
		return err
	}
	return q.notify(ctx, jobID, 0)
}

// Cancel withdraws the row; its pending notification is skipped on delivery
func (q *RabbitQueue) Cancel(ctx context.Context, jobID string) error {
	return q.store.Cancel(ctx, jobID)
}

func (q *RabbitQueue) notify(ctx context.Context, jobID string, delay time.Duration) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if delay > 0 {
		return q.broker.PublishDelayed(ctx, body, messageContentType, delay)
	}
	return q.broker.PublishWithRetry(ctx, body, messageContentType)
}

func (q *RabbitQueue) takeTag(jobID string) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tag, ok := q.tags[jobID]
	delete(q.tags, jobID)
	return tag, ok
}

func (q *RabbitQueue) ack(tag uint64) {
	if err := q.broker.Ack(tag); err != nil {
		q.logger.Warn("Failed to ACK message",
			slog.Uint64("delivery_tag", tag),
			slog.Any("error", err),
		)
	}
}

func (q *RabbitQueue) nack(tag uint64, requeue bool) {
	if err := q.broker.Nack(tag, requeue); err != nil {
		q.logger.Warn("Failed to NACK message",
			slog.Uint64("delivery_tag", tag),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}

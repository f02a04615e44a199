// Package queue holds the job queue backends consumed by the worker: an
// in-process FIFO, a Postgres table claimed with SKIP LOCKED, and a RabbitMQ
// notification queue backed by the same Postgres table.
package queue

import (
	"context"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// Queue is the consumer side used by the worker poll loop
type Queue interface {
	// FetchNext returns the next eligible job, or (nil, nil) when none is
	// available. It never blocks waiting for work and never hands the same
	// job to two callers.
	FetchNext(ctx context.Context) (*domain.Job, error)

	// Complete marks a fetched job as done
	Complete(ctx context.Context, job *domain.Job) error

	// Retry returns a fetched job to the queue, eligible again at runAt
	Retry(ctx context.Context, job *domain.Job, runAt time.Time, cause error) error

	// Bury moves a fetched job to the dead-letter store
	Bury(ctx context.Context, job *domain.Job, cause error) error
}

// Producer is the enqueue side used by the API and the operator CLI
type Producer interface {
	Enqueue(ctx context.Context, job *domain.Job) error
}

// Heartbeater is implemented by backends that track liveness of running jobs
type Heartbeater interface {
	Heartbeat(ctx context.Context, jobID string) error
}

// Recoverer is implemented by backends that can reclaim jobs abandoned by a
// crashed worker
type Recoverer interface {
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// DeadLetterStore exposes buried jobs to operators
type DeadLetterStore interface {
	ListDead(ctx context.Context, limit int) ([]*domain.Job, error)
	Requeue(ctx context.Context, jobID string) error
}

// Canceler withdraws jobs that no worker has picked up yet
type Canceler interface {
	Cancel(ctx context.Context, jobID string) error
}

// Backend is implemented by every queue backend
type Backend interface {
	Queue
	Producer
	DeadLetterStore
	Canceler
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

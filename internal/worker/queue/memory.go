package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// MemoryQueue is an in-process FIFO queue. Jobs are lost on restart, so it
// is meant for local development and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*domain.Job
	inFlight map[string]*domain.Job
	done     map[string]*domain.Job
	dead     []*domain.Job
	seen     map[string]struct{}
	now      func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inFlight: make(map[string]*domain.Job),
		done:     make(map[string]*domain.Job),
		seen:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// Enqueue appends a job. IDs must be unique for the lifetime of the queue.
func (q *MemoryQueue) Enqueue(_ context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.seen[job.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	q.seen[job.ID] = struct{}{}

	job.Status = domain.JobStatusPending
	if job.RunAfter.IsZero() {
		job.RunAfter = q.now()
	}
	q.pending = append(q.pending, job)
	return nil
}

// FetchNext removes the oldest job whose RunAfter has passed
func (q *MemoryQueue) FetchNext(ctx context.Context) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, job := range q.pending {
		if job.RunAfter.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)

		job.Status = domain.JobStatusRunning
		job.Attempts++
		job.UpdatedAt = now
		q.inFlight[job.ID] = job
		return job, nil
	}
	return nil, nil
}

func (q *MemoryQueue) takeInFlight(job *domain.Job) (*domain.Job, error) {
	held, ok := q.inFlight[job.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in flight", domain.ErrJobNotFound, job.ID)
	}
	delete(q.inFlight, job.ID)
	held.UpdatedAt = q.now()
	return held, nil
}

// Complete marks a fetched job as done
func (q *MemoryQueue) Complete(_ context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	held, err := q.takeInFlight(job)
	if err != nil {
		return err
	}
	held.Status = domain.JobStatusCompleted
	held.LastError = ""
	q.done[held.ID] = held
	return nil
}

// Retry puts a fetched job at the back of the queue, eligible at runAt
func (q *MemoryQueue) Retry(_ context.Context, job *domain.Job, runAt time.Time, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	held, err := q.takeInFlight(job)
	if err != nil {
		return err
	}
	held.Status = domain.JobStatusPending
	held.RunAfter = runAt
	held.LastError = errorMessage(cause)
	q.pending = append(q.pending, held)
	return nil
}

// Bury moves a fetched job to the dead-letter list
func (q *MemoryQueue) Bury(_ context.Context, job *domain.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	held, err := q.takeInFlight(job)
	if err != nil {
		return err
	}
	held.Status = domain.JobStatusFailed
	held.LastError = errorMessage(cause)
	q.dead = append(q.dead, held)
	return nil
}

// ListDead returns up to limit buried jobs, oldest first
func (q *MemoryQueue) ListDead(_ context.Context, limit int) ([]*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]*domain.Job, limit)
	copy(out, q.dead[:limit])
	return out, nil
}

// Requeue moves a buried job back to pending with a fresh attempt budget
func (q *MemoryQueue) Requeue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.dead {
		if job.ID != jobID {
			continue
		}
		q.dead = append(q.dead[:i], q.dead[i+1:]...)
		job.Status = domain.JobStatusPending
		job.Attempts = 0
		job.RunAfter = q.now()
		q.pending = append(q.pending, job)
		return nil
	}

	if _, ok := q.seen[jobID]; ok {
		return domain.ErrJobNotDead
	}
	return domain.ErrJobNotFound
}

// Cancel withdraws a pending job. It is kept with the finished jobs.
func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.pending {
		if job.ID != jobID {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		job.Status = domain.JobStatusCanceled
		job.UpdatedAt = q.now()
		q.done[job.ID] = job
		return nil
	}

	if _, ok := q.seen[jobID]; ok {
		return domain.ErrJobNotPending
	}
	return domain.ErrJobNotFound
}

// Len reports the number of pending jobs
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Completed returns the finished job with the given ID, if any
func (q *MemoryQueue) Completed(jobID string) (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.done[jobID]
	return job, ok
}

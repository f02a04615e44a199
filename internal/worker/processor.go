package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/cuongbtq/cms-worker/internal/worker/queue"
)

// processJob runs a fetched job and records its outcome on the queue. The
// returned error is a bookkeeping failure; handler failures are logged and
// settled here.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	w.logger.Info("Job received",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempts),
	)

	// attempts is counted at claim time; a claim past the limit means earlier
	// runs were interrupted or lost without settling
	if limit := w.attemptLimit(job); job.Attempts > limit {
		cause := fmt.Errorf("%w: claimed %d times, limit %d", domain.ErrMaxRetriesExceeded, job.Attempts, limit)
		w.logger.Warn("Job moved to dead letter",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Any("error", cause),
		)
		bookCtx, cancel := w.bookkeepingContext(ctx)
		defer cancel()
		if err := w.queue.Bury(bookCtx, job, cause); err != nil {
			return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
		}
		return nil
	}

	handler, ok := w.registry.Lookup(job.Type)
	if !ok {
		w.logger.Warn("Unknown job type",
			slog.String("job_type", job.Type),
			slog.String("job_id", job.ID),
		)
		bookCtx, cancel := w.bookkeepingContext(ctx)
		defer cancel()
		if err := w.queue.Complete(bookCtx, job); err != nil {
			return fmt.Errorf("failed to drop job %s: %w", job.ID, err)
		}
		return nil
	}

	start := w.now()
	execErr := w.executeJob(ctx, handler, job)

	bookCtx, cancel := w.bookkeepingContext(ctx)
	defer cancel()

	if execErr == nil {
		if err := w.queue.Complete(bookCtx, job); err != nil {
			return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		w.logger.Info("Job completed",
			slog.String("job_id", job.ID),
			slog.Duration("duration", w.now().Sub(start)),
		)
		return nil
	}

	if ctx.Err() != nil {
		// shutdown interrupted the handler; hand the job back untouched
		w.logger.Warn("Job interrupted by shutdown, releasing",
			slog.String("job_id", job.ID),
			slog.Any("error", execErr),
		)
		if err := w.queue.Retry(bookCtx, job, w.now(), execErr); err != nil {
			return fmt.Errorf("failed to release job %s: %w", job.ID, err)
		}
		return nil
	}

	w.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Any("error", execErr),
	)

	limit := w.attemptLimit(job)
	if domain.IsRetryable(execErr) && job.Attempts < limit {
		delay := w.backoff(job.Attempts)
		w.logger.Info("Job will be retried",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", limit),
			slog.Duration("retry_in", delay),
		)
		if err := w.queue.Retry(bookCtx, job, w.now().Add(delay), execErr); err != nil {
			return fmt.Errorf("failed to retry job %s: %w", job.ID, err)
		}
		return nil
	}

	cause := execErr
	if domain.IsRetryable(execErr) {
		cause = fmt.Errorf("%w: %w", domain.ErrMaxRetriesExceeded, execErr)
	}
	w.logger.Warn("Job moved to dead letter",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Any("error", cause),
	)
	if err := w.queue.Bury(bookCtx, job, cause); err != nil {
		return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
	}
	return nil
}

// executeJob invokes the handler under the per-job timeout, keeps the job's
// heartbeat fresh, and turns a handler panic into an error
func (w *Worker) executeJob(ctx context.Context, handler Handler, job *domain.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	if hb, ok := w.queue.(queue.Heartbeater); ok && w.heartbeatInterval > 0 {
		heartbeatDone := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.sendJobHeartbeat(jobCtx, hb, job.ID, heartbeatDone)
		}()
		defer func() {
			close(heartbeatDone)
			wg.Wait()
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job handler panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = handler.Handle(jobCtx, job)
	if err != nil && ctx.Err() == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = domain.NewRetryableError(fmt.Errorf("job timed out after %s: %w", w.jobTimeout, err))
	}
	return err
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, hb queue.Heartbeater, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := hb.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			} else {
				w.logger.Debug("Job heartbeat updated",
					slog.String("job_id", jobID),
				)
			}
		}
	}
}

// bookkeepingContext outlives a canceled worker context so the outcome of
// the current job is still recorded during shutdown
func (w *Worker) bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.bookkeepingTimeout)
}

func (w *Worker) attemptLimit(job *domain.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return w.maxAttempts
}

// backoff returns base * 2^(attempts-1), capped at the configured maximum
func (w *Worker) backoff(attempts int) time.Duration {
	delay := w.retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.retryMaxDelay {
			return w.retryMaxDelay
		}
	}
	return min(delay, w.retryMaxDelay)
}

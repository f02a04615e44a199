package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const jobColumns = `job_id, job_type, payload, status, attempts, max_attempts,
	COALESCE(last_error, '') AS last_error, COALESCE(worker_id, '') AS worker_id,
	run_after, created_at, updated_at`

// PostgresQueue stores jobs in the jobs table. Competing workers claim rows
// with FOR UPDATE SKIP LOCKED, so a job is handed to exactly one of them.
type PostgresQueue struct {
	db       *sqlx.DB
	workerID string
	logger   *slog.Logger
}

// NewPostgresQueue creates a queue whose claims are tagged with workerID
func NewPostgresQueue(db *sqlx.DB, workerID string, logger *slog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:       db,
		workerID: workerID,
		logger:   logger,
	}
}

// Enqueue inserts a pending job
func (q *PostgresQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, payload, status, attempts, max_attempts,
			run_after, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, 0, $5,
			$6, $7, $8
		)
	`

	_, err := q.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		[]byte(job.Data),
		domain.JobStatusPending,
		job.MaxAttempts,
		job.RunAfter,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
	)
	return nil
}

// FetchNext claims the oldest eligible pending job
func (q *PostgresQueue) FetchNext(ctx context.Context) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    attempts = attempts + 1,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $3 AND run_after <= NOW()
			ORDER BY run_after, created_at, job_id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	var job domain.Job
	err := q.db.GetContext(ctx, &job, query, domain.JobStatusRunning, q.workerID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}

	return &job, nil
}

// ClaimJob claims a specific pending job. It returns
// domain.ErrJobAlreadyClaimed when the row is missing or not pending.
func (q *PostgresQueue) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    attempts = attempts + 1,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var job domain.Job
	err := q.db.GetContext(ctx, &job, query, domain.JobStatusRunning, q.workerID, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			q.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", q.workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return &job, nil
}

// Complete marks a running job as completed
func (q *PostgresQueue) Complete(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    last_error = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`
	return q.transition(ctx, query, job.ID, domain.JobStatusCompleted, job.ID, domain.JobStatusRunning)
}

// Retry returns a running job to pending, eligible again at runAt
func (q *PostgresQueue) Retry(ctx context.Context, job *domain.Job, runAt time.Time, cause error) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    run_after = $2,
		    last_error = $3,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`
	return q.transition(ctx, query, job.ID, domain.JobStatusPending, runAt, errorMessage(cause), job.ID, domain.JobStatusRunning)
}

// Bury marks a running job as failed; FAILED rows form the dead-letter set
func (q *PostgresQueue) Bury(ctx context.Context, job *domain.Job, cause error) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    last_error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`
	return q.transition(ctx, query, job.ID, domain.JobStatusFailed, errorMessage(cause), job.ID, domain.JobStatusRunning)
}

func (q *PostgresQueue) transition(ctx context.Context, query, jobID, status string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, append([]any{status}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// reclaimed by the reaper or removed by an operator meanwhile
		q.logger.Warn("Job status update matched no running job",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
		return nil
	}

	q.logger.Debug("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return nil
}

// Heartbeat updates the last_heartbeat_at timestamp for a running job
func (q *PostgresQueue) Heartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := q.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		q.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// RecoverStale resets running jobs with an expired heartbeat to pending
func (q *PostgresQueue) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	ids, err := q.recoverStale(ctx, staleAfter)
	return len(ids), err
}

func (q *PostgresQueue) recoverStale(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    last_error = 'worker heartbeat expired',
		    updated_at = NOW()
		WHERE status = $2
		  AND last_heartbeat_at < NOW() - ($3 * INTERVAL '1 second')
		RETURNING job_id
	`

	var ids []string
	if err := q.db.SelectContext(ctx, &ids, query, domain.JobStatusPending, domain.JobStatusRunning, staleAfter.Seconds()); err != nil {
		return nil, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return ids, nil
}

// ListDead returns buried jobs, most recently failed first
func (q *PostgresQueue) ListDead(ctx context.Context, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(jobColumns).
		From("jobs").
		Where(sq.Eq{"status": domain.JobStatusFailed}).
		OrderBy("updated_at DESC", "job_id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build dead job query: %w", err)
	}

	var jobs []*domain.Job
	if err := q.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}
	return jobs, nil
}

// Requeue moves a FAILED job back to pending with a fresh attempt budget
func (q *PostgresQueue) Requeue(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = 0,
		    run_after = NOW(),
		    worker_id = NULL,
		    completed_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	result, err := q.db.ExecContext(ctx, query, domain.JobStatusPending, jobID, domain.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	return q.missedTransition(ctx, jobID, domain.ErrJobNotDead)
}

// Cancel withdraws a job no worker has claimed yet
func (q *PostgresQueue) Cancel(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	result, err := q.db.ExecContext(ctx, query, domain.JobStatusCanceled, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	return q.missedTransition(ctx, jobID, domain.ErrJobNotPending)
}

// missedTransition tells a missing job apart from one in the wrong status
// after a conditional update matched no row
func (q *PostgresQueue) missedTransition(ctx context.Context, jobID string, wrongStatus error) error {
	var status string
	err := q.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get job status: %w", err)
	}
	return fmt.Errorf("%w: %s", wrongStatus, status)
}

// failPending marks a job that never reached a worker as FAILED
func (q *PostgresQueue) failPending(ctx context.Context, jobID string, cause error) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    last_error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`
	if _, err := q.db.ExecContext(ctx, query, domain.JobStatusFailed, errorMessage(cause), jobID, domain.JobStatusPending); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

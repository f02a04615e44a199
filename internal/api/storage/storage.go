package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/cuongbtq/cms-worker/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `job_id, job_type, payload, status, attempts, max_attempts,
	COALESCE(last_error, '') AS last_error, COALESCE(worker_id, '') AS worker_id,
	run_after, created_at, updated_at`

// Storage is the read and cleanup side of the jobs table used by the API.
// Inserts go through the configured queue backend.
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs, newest first. The extra row tells
// the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(jobColumns).
		From("jobs")

	if filter.JobType != "" {
		builder = builder.Where(sq.Eq{"job_type": filter.JobType})
	}

	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}

	if filter.Cursor != nil {
		builder = builder.Where(sq.Expr("(created_at, job_id) < (?, ?)", filter.Cursor.CreatedAt, filter.Cursor.JobID))
	}

	query, args, err := builder.
		OrderBy("created_at DESC", "job_id DESC").
		Limit(uint64(filter.PageSize + 1)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// DeleteJob removes a job that has reached a terminal status
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	query := `
		DELETE FROM jobs
		WHERE job_id = $1 AND status IN ($2, $3, $4)
	`

	result, err := s.db.ExecContext(ctx, query, jobID,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to look up job status: %w", err)
	}

	return fmt.Errorf("%w: %s", domain.ErrJobNotTerminal, status)
}

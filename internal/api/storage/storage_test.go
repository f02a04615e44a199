package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/cuongbtq/cms-worker/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobRowColumns = []string{
	"job_id", "job_type", "payload", "status", "attempts", "max_attempts",
	"last_error", "worker_id", "run_after", "created_at", "updated_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	client := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewStorage(client), mock
}

func TestStorage_GetJobByID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`SELECT .* FROM jobs WHERE job_id = \$1`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
				"job-1", domain.JobTypeReleaseDeployment, []byte(`{"release_id":"r1"}`), domain.JobStatusFailed,
				3, 3, "release not found", "worker-1", created, created, created,
			))

		job, err := s.GetJobByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, "release not found", job.LastError)
		assert.JSONEq(t, `{"release_id":"r1"}`, string(job.Data))
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`SELECT .* FROM jobs WHERE job_id = \$1`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows(jobRowColumns))

		_, err := s.GetJobByID(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestStorage_ListJobs(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("no filters", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`SELECT .* FROM jobs ORDER BY created_at DESC, job_id DESC LIMIT 21`).
			WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
				"job-1", domain.JobTypeCacheInvalidation, []byte(`{}`), domain.JobStatusPending,
				0, 0, "", "", created, created, created,
			))

		jobs, err := s.ListJobs(ctx, JobFilter{PageSize: 20})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "job-1", jobs[0].ID)
	})

	t.Run("filters and cursor", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`SELECT .* FROM jobs WHERE job_type = \$1 AND status = \$2 AND \(created_at, job_id\) < \(\$3, \$4\) ORDER BY created_at DESC, job_id DESC LIMIT 6`).
			WithArgs(domain.JobTypeAITranslation, domain.JobStatusCompleted, created, "job-9").
			WillReturnRows(sqlmock.NewRows(jobRowColumns))

		jobs, err := s.ListJobs(ctx, JobFilter{
			JobType:  domain.JobTypeAITranslation,
			Status:   domain.JobStatusCompleted,
			PageSize: 5,
			Cursor:   &JobCursor{CreatedAt: created, JobID: "job-9"},
		})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("query failure", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`SELECT .* FROM jobs`).WillReturnError(errors.New("connection reset"))

		_, err := s.ListJobs(ctx, JobFilter{PageSize: 20})
		assert.ErrorContains(t, err, "failed to list jobs")
	})
}

func TestStorage_DeleteJob(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal job deleted", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM jobs").
			WithArgs("job-1", domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.DeleteJob(ctx, "job-1"))
	})

	t.Run("running job refused", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM jobs").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM jobs`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.JobStatusRunning))

		err := s.DeleteJob(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrJobNotTerminal)
		assert.Contains(t, err.Error(), domain.JobStatusRunning)
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("DELETE FROM jobs").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM jobs`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		assert.ErrorIs(t, s.DeleteJob(ctx, "job-1"), domain.ErrJobNotFound)
	})
}

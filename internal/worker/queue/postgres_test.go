package queue

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobRowColumns = []string{
	"job_id", "job_type", "payload", "status", "attempts", "max_attempts",
	"last_error", "worker_id", "run_after", "created_at", "updated_at",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockPostgresQueue(t *testing.T) (*PostgresQueue, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresQueue(sqlx.NewDb(db, "postgres"), "worker-1", discardLogger()), mock
}

func runningJobRow(id, jobType string, attempts int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobRowColumns).AddRow(
		id, jobType, []byte(`{"keys":["a"]}`), domain.JobStatusRunning, attempts, 3,
		"", "worker-1", now, now, now,
	)
}

func TestPostgresQueue_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts pending row", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)
		job := newTestJob("job-1")

		mock.ExpectExec("INSERT INTO jobs").
			WithArgs("job-1", domain.JobTypeCacheInvalidation, sqlmock.AnyArg(), domain.JobStatusPending, 3,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, q.Enqueue(ctx, job))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec("INSERT INTO jobs").WillReturnError(&pq.Error{Code: uniqueViolation})

		err := q.Enqueue(ctx, newTestJob("job-1"))
		assert.ErrorIs(t, err, domain.ErrJobExists)
	})

	t.Run("database error", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("connection reset"))

		err := q.Enqueue(ctx, newTestJob("job-1"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrJobExists)
		assert.Contains(t, err.Error(), "failed to enqueue job")
	})
}

func TestPostgresQueue_FetchNext(t *testing.T) {
	ctx := context.Background()

	t.Run("claims next row", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectQuery(`UPDATE jobs .* FOR UPDATE SKIP LOCKED`).
			WithArgs(domain.JobStatusRunning, "worker-1", domain.JobStatusPending).
			WillReturnRows(runningJobRow("job-1", domain.JobTypeCacheInvalidation, 1))

		job, err := q.FetchNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, domain.JobTypeCacheInvalidation, job.Type)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.JSONEq(t, `{"keys":["a"]}`, string(job.Data))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectQuery(`UPDATE jobs`).WillReturnRows(sqlmock.NewRows(jobRowColumns))

		job, err := q.FetchNext(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("database error", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectQuery(`UPDATE jobs`).WillReturnError(sql.ErrConnDone)

		job, err := q.FetchNext(ctx)
		assert.Nil(t, job)
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestPostgresQueue_ClaimJob(t *testing.T) {
	ctx := context.Background()

	t.Run("claimed", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectQuery(`UPDATE jobs`).
			WithArgs(domain.JobStatusRunning, "worker-1", "job-1", domain.JobStatusPending).
			WillReturnRows(runningJobRow("job-1", domain.JobTypeReleaseDeployment, 2))

		job, err := q.ClaimJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, 2, job.Attempts)
	})

	t.Run("already claimed", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectQuery(`UPDATE jobs`).WillReturnRows(sqlmock.NewRows(jobRowColumns))

		_, err := q.ClaimJob(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	})
}

func TestPostgresQueue_Transitions(t *testing.T) {
	ctx := context.Background()
	job := &domain.Job{ID: "job-1"}
	runAt := time.Now().Add(time.Minute)

	tests := []struct {
		name string
		args []driver.Value
		call func(q *PostgresQueue) error
	}{
		{
			name: "complete",
			args: []driver.Value{domain.JobStatusCompleted, "job-1", domain.JobStatusRunning},
			call: func(q *PostgresQueue) error { return q.Complete(ctx, job) },
		},
		{
			name: "retry",
			args: []driver.Value{domain.JobStatusPending, runAt, "timeout", "job-1", domain.JobStatusRunning},
			call: func(q *PostgresQueue) error { return q.Retry(ctx, job, runAt, errors.New("timeout")) },
		},
		{
			name: "bury",
			args: []driver.Value{domain.JobStatusFailed, "bad payload", "job-1", domain.JobStatusRunning},
			call: func(q *PostgresQueue) error { return q.Bury(ctx, job, errors.New("bad payload")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, mock := newMockPostgresQueue(t)

			mock.ExpectExec(`UPDATE jobs`).
				WithArgs(tt.args...).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, tt.call(q))
			require.NoError(t, mock.ExpectationsWereMet())
		})

		t.Run(tt.name+" on reclaimed row", func(t *testing.T) {
			q, mock := newMockPostgresQueue(t)

			mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))

			require.NoError(t, tt.call(q))
		})

		t.Run(tt.name+" database error", func(t *testing.T) {
			q, mock := newMockPostgresQueue(t)

			mock.ExpectExec(`UPDATE jobs`).WillReturnError(sql.ErrConnDone)

			err := tt.call(q)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to update job status")
		})
	}
}

func TestPostgresQueue_Heartbeat(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE jobs\s+SET last_heartbeat_at`).
		WithArgs("job-1", domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Heartbeat(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_RecoverStale(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectQuery(`UPDATE jobs .* RETURNING job_id`).
		WithArgs(domain.JobStatusPending, domain.JobStatusRunning, float64(300)).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("job-1").AddRow("job-2"))

	n, err := q.RecoverStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_ListDead(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM jobs WHERE status = \$1 ORDER BY updated_at DESC, job_id DESC LIMIT 10`).
		WithArgs(domain.JobStatusFailed).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			"job-9", domain.JobTypeAITranslation, []byte(`{}`), domain.JobStatusFailed, 3, 3,
			"translator unavailable", "", now, now, now,
		))

	jobs, err := q.ListDead(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-9", jobs[0].ID)
	assert.Equal(t, "translator unavailable", jobs[0].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Requeue(t *testing.T) {
	ctx := context.Background()

	t.Run("failed job", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec(`UPDATE jobs`).
			WithArgs(domain.JobStatusPending, "job-1", domain.JobStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, q.Requeue(ctx, "job-1"))
	})

	t.Run("job not failed", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM jobs`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.JobStatusCompleted))

		assert.ErrorIs(t, q.Requeue(ctx, "job-1"), domain.ErrJobNotDead)
	})

	t.Run("job missing", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM jobs`).WillReturnRows(sqlmock.NewRows([]string{"status"}))

		assert.ErrorIs(t, q.Requeue(ctx, "job-1"), domain.ErrJobNotFound)
	})
}

func TestPostgresQueue_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending job", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec(`UPDATE jobs`).
			WithArgs(domain.JobStatusCanceled, "job-1", domain.JobStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, q.Cancel(ctx, "job-1"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("job already running", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM jobs`).
			WithArgs("job-1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.JobStatusRunning))

		err := q.Cancel(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrJobNotPending)
		assert.Contains(t, err.Error(), domain.JobStatusRunning)
	})

	t.Run("job missing", func(t *testing.T) {
		q, mock := newMockPostgresQueue(t)

		mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM jobs`).WillReturnRows(sqlmock.NewRows([]string{"status"}))

		assert.ErrorIs(t, q.Cancel(ctx, "job-1"), domain.ErrJobNotFound)
	})
}

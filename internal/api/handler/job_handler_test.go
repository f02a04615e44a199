package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/cms-worker/internal/api/dto"
	"github.com/cuongbtq/cms-worker/internal/api/storage"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testJobID = "8f14e45f-ceea-467f-a0e6-1c5d2a6f0c11"

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*domain.Job)
	return job, args.Error(1)
}

func (m *mockStore) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	args := m.Called(ctx, filter)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.Error(1)
}

func (m *mockStore) DeleteJob(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Enqueue(ctx context.Context, job *domain.Job) error {
	return m.Called(ctx, job).Error(0)
}

type mockDeadLetters struct {
	mock.Mock
}

func (m *mockDeadLetters) ListDead(ctx context.Context, limit int) ([]*domain.Job, error) {
	args := m.Called(ctx, limit)
	jobs, _ := args.Get(0).([]*domain.Job)
	return jobs, args.Error(1)
}

func (m *mockDeadLetters) Requeue(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

type mockCanceler struct {
	mock.Mock
}

func (m *mockCanceler) Cancel(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

type testEnv struct {
	engine      *gin.Engine
	store       *mockStore
	producer    *mockProducer
	deadLetters *mockDeadLetters
	canceler    *mockCanceler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store:       &mockStore{},
		producer:    &mockProducer{},
		deadLetters: &mockDeadLetters{},
		canceler:    &mockCanceler{},
	}
	h := NewJobHandler(&Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       env.store,
		Producer:    env.producer,
		DeadLetters: env.deadLetters,
		Canceler:    env.canceler,
	})
	h.newID = func() string { return testJobID }

	r := gin.New()
	r.POST("/api/v1/jobs", h.CreateJob)
	r.GET("/api/v1/jobs", h.ListJobs)
	r.GET("/api/v1/jobs/:job_id", h.GetJob)
	r.POST("/api/v1/jobs/:job_id/requeue", h.RequeueJob)
	r.POST("/api/v1/jobs/:job_id/cancel", h.CancelJob)
	r.DELETE("/api/v1/jobs/:job_id", h.DeleteJob)
	env.engine = r

	t.Cleanup(func() {
		env.store.AssertExpectations(t)
		env.producer.AssertExpectations(t)
		env.deadLetters.AssertExpectations(t)
		env.canceler.AssertExpectations(t)
	})
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func storedJob(id string, createdAt time.Time) domain.Job {
	return domain.Job{
		ID:        id,
		Type:      domain.JobTypeCacheInvalidation,
		Data:      json.RawMessage(`{"keys":["home"]}`),
		Status:    domain.JobStatusCompleted,
		Attempts:  1,
		RunAfter:  createdAt,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestCreateJob(t *testing.T) {
	t.Run("enqueues known job type", func(t *testing.T) {
		env := newTestEnv(t)
		env.producer.On("Enqueue", mock.Anything, mock.MatchedBy(func(j *domain.Job) bool {
			return j.ID == testJobID &&
				j.Type == domain.JobTypeAITranslation &&
				j.Status == domain.JobStatusPending &&
				j.MaxAttempts == 5 &&
				string(j.Data) == `{"text":"hello"}`
		})).Return(nil).Once()

		rec := env.do(http.MethodPost, "/api/v1/jobs",
			`{"type":"ai_translation","data":{"text":"hello"},"max_attempts":5}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		var got dto.JobDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, testJobID, got.JobID)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.JSONEq(t, `{"text":"hello"}`, string(got.Data))
	})

	t.Run("missing data defaults to empty object", func(t *testing.T) {
		env := newTestEnv(t)
		env.producer.On("Enqueue", mock.Anything, mock.MatchedBy(func(j *domain.Job) bool {
			return string(j.Data) == `{}` && j.MaxAttempts == 0
		})).Return(nil).Once()

		rec := env.do(http.MethodPost, "/api/v1/jobs", `{"type":"cache_invalidation"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed body", body: `{"type":`},
		{name: "missing type", body: `{"data":{}}`},
		{name: "unknown type", body: `{"type":"send_email","data":{}}`},
		{name: "data is an array", body: `{"type":"cache_invalidation","data":["a"]}`},
		{name: "data is a string", body: `{"type":"cache_invalidation","data":"keys"}`},
		{name: "max attempts out of range", body: `{"type":"cache_invalidation","max_attempts":1000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("duplicate id conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		env.producer.On("Enqueue", mock.Anything, mock.Anything).Return(domain.ErrJobExists).Once()

		rec := env.do(http.MethodPost, "/api/v1/jobs", `{"type":"cache_invalidation"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("queue failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.producer.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

		rec := env.do(http.MethodPost, "/api/v1/jobs", `{"type":"cache_invalidation"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "broker down")
	})
}

func TestGetJob(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		env := newTestEnv(t)
		job := storedJob(testJobID, created)
		env.store.On("GetJobByID", mock.Anything, testJobID).Return(&job, nil).Once()

		rec := env.do(http.MethodGet, "/api/v1/jobs/"+testJobID, "")

		require.Equal(t, http.StatusOK, rec.Code)
		var got dto.JobDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Equal(t, "2026-03-01T09:00:00Z", got.CreatedAt)
	})

	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.On("GetJobByID", mock.Anything, testJobID).Return(nil, domain.ErrJobNotFound).Once()

		rec := env.do(http.MethodGet, "/api/v1/jobs/"+testJobID, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodGet, "/api/v1/jobs/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListJobs(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("defaults page size and returns next cursor", func(t *testing.T) {
		env := newTestEnv(t)
		jobs := make([]domain.Job, defaultPageSize+1)
		for i := range jobs {
			jobs[i] = storedJob(testJobID, created.Add(-time.Duration(i)*time.Minute))
		}
		env.store.On("ListJobs", mock.Anything, storage.JobFilter{
			Status:   domain.JobStatusFailed,
			PageSize: defaultPageSize,
		}).Return(jobs, nil).Once()

		rec := env.do(http.MethodGet, "/api/v1/jobs?status=FAILED", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var got dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got.Jobs, defaultPageSize)
		require.NotEmpty(t, got.NextCursor)

		cursor, err := DecodeJobCursor(got.NextCursor)
		require.NoError(t, err)
		assert.True(t, jobs[defaultPageSize-1].CreatedAt.Equal(cursor.CreatedAt))
	})

	t.Run("last page has no cursor and clamps page size", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.On("ListJobs", mock.Anything, mock.MatchedBy(func(f storage.JobFilter) bool {
			return f.PageSize == maxPageSize && f.JobType == domain.JobTypeReleaseDeployment
		})).Return([]domain.Job{storedJob(testJobID, created)}, nil).Once()

		rec := env.do(http.MethodGet, "/api/v1/jobs?page_size=500&job_type=release_deployment", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var got dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got.Jobs, 1)
		assert.Empty(t, got.NextCursor)
	})

	t.Run("invalid status", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodGet, "/api/v1/jobs?status=DONE", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodGet, "/api/v1/jobs?cursor=%25%25", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.On("ListJobs", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

		rec := env.do(http.MethodGet, "/api/v1/jobs", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRequeueJob(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "requeued", wantCode: http.StatusAccepted},
		{name: "not found", err: domain.ErrJobNotFound, wantCode: http.StatusNotFound},
		{name: "not dead", err: domain.ErrJobNotDead, wantCode: http.StatusConflict},
		{name: "store failure", err: errors.New("connection reset"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.deadLetters.On("Requeue", mock.Anything, testJobID).Return(tt.err).Once()

			rec := env.do(http.MethodPost, "/api/v1/jobs/"+testJobID+"/requeue", "")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestCancelJob(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "canceled", wantCode: http.StatusOK},
		{name: "not found", err: domain.ErrJobNotFound, wantCode: http.StatusNotFound},
		{name: "already picked up", err: fmt.Errorf("%w: %s", domain.ErrJobNotPending, domain.JobStatusRunning), wantCode: http.StatusConflict},
		{name: "store failure", err: errors.New("connection reset"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.canceler.On("Cancel", mock.Anything, testJobID).Return(tt.err).Once()

			rec := env.do(http.MethodPost, "/api/v1/jobs/"+testJobID+"/cancel", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.err == nil {
				assert.JSONEq(t, `{"job_id":"`+testJobID+`","status":"CANCELED"}`, rec.Body.String())
			}
		})
	}

	t.Run("invalid id", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/v1/jobs/not-a-uuid/cancel", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeleteJob(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "deleted", wantCode: http.StatusNoContent},
		{name: "not found", err: domain.ErrJobNotFound, wantCode: http.StatusNotFound},
		{name: "still running", err: domain.ErrJobNotTerminal, wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.On("DeleteJob", mock.Anything, testJobID).Return(tt.err).Once()

			rec := env.do(http.MethodDelete, "/api/v1/jobs/"+testJobID, "")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC),
		JobID:     testJobID,
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeJobCursor("bm8tc2VwYXJhdG9y")
	assert.Error(t, err)
}

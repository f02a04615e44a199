package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/cms-worker/internal/api/storage"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/cuongbtq/cms-worker/internal/worker/queue"
)

// JobStore is the read and cleanup side of the jobs table
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       JobStore
	Producer    queue.Producer
	DeadLetters queue.DeadLetterStore
	Canceler    queue.Canceler

	// HealthCheck reports whether the backing database is reachable. Nil
	// means always healthy.
	HealthCheck func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	store       JobStore
	producer    queue.Producer
	deadLetters queue.DeadLetterStore
	canceler    queue.Canceler
	newID       func() string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		store:       deps.Store,
		producer:    deps.Producer,
		deadLetters: deps.DeadLetters,
		canceler:    deps.Canceler,
		newID:       newJobID,
	}
}

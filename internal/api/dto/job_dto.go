package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

type CreateJobRequest struct {
	Type        string          `json:"type" binding:"required"`
	Data        json.RawMessage `json:"data"`
	MaxAttempts int             `json:"max_attempts" binding:"omitempty,min=1,max=100"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	Data        json.RawMessage `json:"data"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	RunAfter    string          `json:"run_after"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// NewJobDTO renders a job for API responses
func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:       job.ID,
		JobType:     job.Type,
		Data:        job.Data,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		WorkerID:    job.WorkerID,
		RunAfter:    job.RunAfter.Format(time.RFC3339),
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}
}

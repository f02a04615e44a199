package domain

import (
	"encoding/json"
	"time"
)

// Job is a unit of deferred work. Type is fixed at creation; Data is only
// interpreted by the handler registered for Type.
type Job struct {
	ID          string          `db:"job_id" json:"id"`
	Type        string          `db:"job_type" json:"type"`
	Data        json.RawMessage `db:"payload" json:"data"`
	Status      string          `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	WorkerID    string          `db:"worker_id" json:"worker_id,omitempty"`
	RunAfter    time.Time       `db:"run_after" json:"run_after"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// NewJob builds a pending job ready to be enqueued
func NewJob(id, jobType string, data json.RawMessage, maxAttempts int) *Job {
	now := time.Now().UTC()
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return &Job{
		ID:          id,
		Type:        jobType,
		Data:        data,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// DecodeData unmarshals the job payload into v. Malformed payloads are
// reported as ErrInvalidPayload.
func (j *Job) DecodeData(v any) error {
	if len(j.Data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return &PayloadError{JobType: j.Type, Err: err}
	}
	return nil
}

// JobMessage represents a job notification carried by RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when enqueueing a job whose ID is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's already claimed
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrJobNotTerminal is returned when an operation requires a finished job
	ErrJobNotTerminal = errors.New("job is not in a terminal status")

	// ErrJobNotDead is returned when requeueing a job that has not been dead-lettered
	ErrJobNotDead = errors.New("job is not in FAILED status")

	// ErrJobNotPending is returned when canceling a job that has been picked up
	// or has finished
	ErrJobNotPending = errors.New("job is not in PENDING status")

	// ErrInvalidPayload is returned when job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrMaxRetriesExceeded is returned when a job has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrReleaseNotFound is returned when a deployment references a missing release
	ErrReleaseNotFound = errors.New("release not found")

	// ErrReleaseNotDeployable is returned when a release is still a draft
	ErrReleaseNotDeployable = errors.New("release is not ready for deployment")

	// ErrHandlerAlreadyRegistered is returned when a job type gets a second handler
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")
)

// PayloadError describes a payload that could not be decoded or validated
type PayloadError struct {
	JobType string
	Err     error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.JobType, e.Err)
}

func (e *PayloadError) Unwrap() []error {
	return []error{ErrInvalidPayload, e.Err}
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

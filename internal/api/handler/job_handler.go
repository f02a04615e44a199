package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/cms-worker/internal/api/dto"
	"github.com/cuongbtq/cms-worker/internal/api/storage"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func newJobID() string {
	return uuid.New().String()
}

// CreateJob handles POST /api/v1/jobs
// Enqueues a new background job
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !domain.IsKnownJobType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Unknown job type",
			"job_type":  req.Type,
			"job_types": domain.KnownJobTypes,
		})
		return
	}

	data, err := normalizeData(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "data must be a JSON object",
		})
		return
	}

	job := domain.NewJob(h.newID(), req.Type, data, req.MaxAttempts)
	if err := h.producer.Enqueue(c.Request.Context(), job); err != nil {
		if errors.Is(err, domain.ErrJobExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job already exists",
			})
			return
		}
		h.logger.Error("Failed to create job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
	)

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// normalizeData accepts a JSON object and treats a missing or null value as
// the empty object
func normalizeData(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return json.RawMessage(trimmed), nil
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		h.respondJobError(c, jobID, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.Status != "" && !isJobStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid status filter",
			"status": req.Status,
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// RequeueJob handles POST /api/v1/jobs/:job_id/requeue
// Moves a dead-lettered job back to the queue with a fresh attempt budget
func (h *JobHandler) RequeueJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.deadLetters.Requeue(c.Request.Context(), jobID); err != nil {
		h.respondJobError(c, jobID, "Failed to requeue job", err)
		return
	}

	h.logger.Info("Job requeued", slog.String("job_id", jobID))

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusPending,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Withdraws a job that no worker has picked up yet
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.canceler.Cancel(c.Request.Context(), jobID); err != nil {
		h.respondJobError(c, jobID, "Failed to cancel job", err)
		return
	}

	h.logger.Info("Job canceled", slog.String("job_id", jobID))

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusCanceled,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Permanently deletes a finished job record
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.store.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.respondJobError(c, jobID, "Failed to delete job", err)
		return
	}

	h.logger.Info("Job deleted", slog.String("job_id", jobID))
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")

	h.logger.Info("Job request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) respondJobError(c *gin.Context, jobID, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Job not found",
			"job_id": jobID,
		})
	case errors.Is(err, domain.ErrJobNotTerminal), errors.Is(err, domain.ErrJobNotDead),
		errors.Is(err, domain.ErrJobNotPending):
		c.JSON(http.StatusConflict, gin.H{
			"error":  err.Error(),
			"job_id": jobID,
		})
	default:
		h.logger.Error(message,
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": message,
		})
	}
}

func isJobStatus(status string) bool {
	switch status {
	case domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted,
		domain.JobStatusFailed, domain.JobStatusCanceled:
		return true
	default:
		return false
	}
}

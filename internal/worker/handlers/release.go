package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// ReleaseStore applies release deployments
type ReleaseStore interface {
	DeployRelease(ctx context.Context, releaseID, environment, jobID string) (*domain.Deployment, error)
}

// ReleaseDeploymentPayload is the data of a release_deployment job
type ReleaseDeploymentPayload struct {
	ReleaseID   string `json:"release_id"`
	Environment string `json:"environment"`
}

// ReleaseHandler deploys a release to an environment
type ReleaseHandler struct {
	releases ReleaseStore
	logger   *slog.Logger
}

// NewReleaseHandler creates the release_deployment handler
func NewReleaseHandler(releases ReleaseStore, logger *slog.Logger) *ReleaseHandler {
	return &ReleaseHandler{releases: releases, logger: logger}
}

// Handle runs one release_deployment job
func (h *ReleaseHandler) Handle(ctx context.Context, job *domain.Job) error {
	var p ReleaseDeploymentPayload
	if err := job.DecodeData(&p); err != nil {
		return err
	}
	if p.ReleaseID == "" || p.Environment == "" {
		return invalidPayload(domain.JobTypeReleaseDeployment, "release_id and environment are required")
	}

	deployment, err := h.releases.DeployRelease(ctx, p.ReleaseID, p.Environment, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrReleaseNotFound) || errors.Is(err, domain.ErrReleaseNotDeployable) {
			return err
		}
		return domain.NewRetryableError(err)
	}

	h.logger.Info("Release deployed",
		slog.String("job_id", job.ID),
		slog.String("release_id", deployment.ReleaseID),
		slog.String("environment", deployment.Environment),
		slog.Time("deployed_at", deployment.DeployedAt),
	)
	return nil
}

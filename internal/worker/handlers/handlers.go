// Package handlers implements the job types shipped with the worker.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cms-worker/internal/worker"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// Deps are the collaborators the shipped handlers need
type Deps struct {
	Translator Translator
	Variants   VariantStore
	Cache      Invalidator
	Releases   ReleaseStore
	Logger     *slog.Logger
}

// Register binds every shipped handler whose collaborators are present.
// Job types left unbound are dropped by the worker as unknown.
func Register(r *worker.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	if deps.Translator != nil && deps.Variants != nil {
		errs = append(errs, r.Register(domain.JobTypeAITranslation, NewTranslationHandler(deps.Translator, deps.Variants, logger)))
	} else {
		logger.Warn("AI translation handler disabled", slog.String("job_type", domain.JobTypeAITranslation))
	}
	if deps.Cache != nil {
		errs = append(errs, r.Register(domain.JobTypeCacheInvalidation, NewCacheHandler(deps.Cache, logger)))
	} else {
		logger.Warn("Cache invalidation handler disabled", slog.String("job_type", domain.JobTypeCacheInvalidation))
	}
	if deps.Releases != nil {
		errs = append(errs, r.Register(domain.JobTypeReleaseDeployment, NewReleaseHandler(deps.Releases, logger)))
	} else {
		logger.Warn("Release deployment handler disabled", slog.String("job_type", domain.JobTypeReleaseDeployment))
	}
	return errors.Join(errs...)
}

func invalidPayload(jobType, format string, args ...any) error {
	return &domain.PayloadError{JobType: jobType, Err: fmt.Errorf(format, args...)}
}

package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// Invalidator removes cached entries
type Invalidator interface {
	Delete(ctx context.Context, keys ...string) (int64, error)
	DeleteMatching(ctx context.Context, pattern string) (int64, error)
}

// CacheInvalidationPayload is the data of a cache_invalidation job. Keys are
// deleted verbatim; patterns use Redis glob syntax.
type CacheInvalidationPayload struct {
	Keys     []string `json:"keys"`
	Patterns []string `json:"patterns"`
}

func (p *CacheInvalidationPayload) validate() error {
	if len(p.Keys) == 0 && len(p.Patterns) == 0 {
		return invalidPayload(domain.JobTypeCacheInvalidation, "at least one of keys or patterns is required")
	}
	for _, k := range p.Keys {
		if k == "" {
			return invalidPayload(domain.JobTypeCacheInvalidation, "keys must not contain empty strings")
		}
	}
	for _, pattern := range p.Patterns {
		if strings.Trim(pattern, "*") == "" {
			return invalidPayload(domain.JobTypeCacheInvalidation, "pattern %q would match every key", pattern)
		}
	}
	return nil
}

// CacheHandler deletes cache entries named by the job
type CacheHandler struct {
	cache  Invalidator
	logger *slog.Logger
}

// NewCacheHandler creates the cache_invalidation handler
func NewCacheHandler(cache Invalidator, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{cache: cache, logger: logger}
}

// Handle runs one cache_invalidation job. Deleting keys that do not exist
// is not an error, so a retried job converges.
func (h *CacheHandler) Handle(ctx context.Context, job *domain.Job) error {
	var p CacheInvalidationPayload
	if err := job.DecodeData(&p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}

	var removed int64
	if len(p.Keys) > 0 {
		n, err := h.cache.Delete(ctx, p.Keys...)
		if err != nil {
			return domain.NewRetryableError(err)
		}
		removed += n
	}
	for _, pattern := range p.Patterns {
		n, err := h.cache.DeleteMatching(ctx, pattern)
		if err != nil {
			return domain.NewRetryableError(err)
		}
		removed += n
	}

	h.logger.Info("Cache invalidated",
		slog.String("job_id", job.ID),
		slog.Int("keys", len(p.Keys)),
		slog.Int("patterns", len(p.Patterns)),
		slog.Int64("removed", removed),
	)
	return nil
}

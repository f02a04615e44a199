package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	sentinel := errors.New("handled")

	require.NoError(t, r.Register(domain.JobTypeCacheInvalidation, HandlerFunc(func(context.Context, *domain.Job) error {
		return sentinel
	})))
	require.NoError(t, r.Register(domain.JobTypeAITranslation, HandlerFunc(func(context.Context, *domain.Job) error {
		return nil
	})))

	t.Run("lookup known type", func(t *testing.T) {
		h, ok := r.Lookup(domain.JobTypeCacheInvalidation)
		require.True(t, ok)
		assert.ErrorIs(t, h.Handle(context.Background(), &domain.Job{}), sentinel)
	})

	t.Run("lookup unknown type", func(t *testing.T) {
		h, ok := r.Lookup("bogus")
		assert.False(t, ok)
		assert.Nil(t, h)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		err := r.Register(domain.JobTypeCacheInvalidation, HandlerFunc(func(context.Context, *domain.Job) error { return nil }))
		assert.ErrorIs(t, err, domain.ErrHandlerAlreadyRegistered)
	})

	t.Run("missing handler", func(t *testing.T) {
		assert.Error(t, r.Register(domain.JobTypeReleaseDeployment, nil))
		assert.Error(t, r.Register("", HandlerFunc(func(context.Context, *domain.Job) error { return nil })))
	})

	t.Run("types are sorted", func(t *testing.T) {
		assert.Equal(t, []string{domain.JobTypeAITranslation, domain.JobTypeCacheInvalidation}, r.Types())
	})
}

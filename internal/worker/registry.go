package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// Handler performs the work for one job type. Returning an error wrapped
// with domain.NewRetryableError asks for another attempt; any other error
// is permanent.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Handle calls f(ctx, job)
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// Registry maps job types to handlers. It is filled once at startup and
// read by the worker loop afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to jobType. A type can only be bound once.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" || h == nil {
		return fmt.Errorf("register handler: job type and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("%w: %s", domain.ErrHandlerAlreadyRegistered, jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler bound to jobType
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

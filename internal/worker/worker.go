package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/queue"
)

// ErrAlreadyStarted is returned when Start is called on a running worker
var ErrAlreadyStarted = errors.New("worker already started")

const (
	defaultPollInterval       = 5 * time.Second
	defaultJobTimeout         = 5 * time.Minute
	defaultMaxAttempts        = 3
	defaultRetryBaseDelay     = 5 * time.Second
	defaultRetryMaxDelay      = 5 * time.Minute
	defaultBookkeepingTimeout = 10 * time.Second
)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Queue             queue.Queue
	Registry          *Registry
	PollInterval      time.Duration
	JobTimeout        time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	HeartbeatInterval time.Duration
	// BookkeepingTimeout bounds the Complete/Retry/Bury call made after the
	// worker context has been canceled
	BookkeepingTimeout time.Duration
}

// Worker pulls jobs from a queue and runs them one at a time
type Worker struct {
	logger             *slog.Logger
	queue              queue.Queue
	registry           *Registry
	pollInterval       time.Duration
	jobTimeout         time.Duration
	maxAttempts        int
	retryBaseDelay     time.Duration
	retryMaxDelay      time.Duration
	heartbeatInterval  time.Duration
	bookkeepingTimeout time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:             cfg.Logger,
		queue:              cfg.Queue,
		registry:           cfg.Registry,
		pollInterval:       cfg.PollInterval,
		jobTimeout:         cfg.JobTimeout,
		maxAttempts:        cfg.MaxAttempts,
		retryBaseDelay:     cfg.RetryBaseDelay,
		retryMaxDelay:      cfg.RetryMaxDelay,
		heartbeatInterval:  cfg.HeartbeatInterval,
		bookkeepingTimeout: cfg.BookkeepingTimeout,
		now:                time.Now,
		after:              time.After,
	}

	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.registry == nil {
		w.registry = NewRegistry()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = defaultJobTimeout
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBaseDelay <= 0 {
		w.retryBaseDelay = defaultRetryBaseDelay
	}
	if w.retryMaxDelay < w.retryBaseDelay {
		w.retryMaxDelay = max(defaultRetryMaxDelay, w.retryBaseDelay)
	}
	if w.bookkeepingTimeout <= 0 {
		w.bookkeepingTimeout = defaultBookkeepingTimeout
	}

	return w
}

// Start runs the poll loop until ctx is canceled or Stop is called. Jobs are
// processed sequentially; an empty queue or a queue error makes the loop
// wait one poll interval before asking again.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	defer close(done)
	defer cancel()

	w.logger.Info("Worker started",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Any("job_types", w.registry.Types()),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}

		if !w.poll(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
		case <-w.after(w.pollInterval):
		}
	}
}

// poll runs one iteration of the loop and reports whether the loop should
// wait before the next one
func (w *Worker) poll(ctx context.Context) bool {
	job, err := w.queue.FetchNext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.logger.Error("Failed to fetch job",
			slog.Any("error", err),
			slog.Duration("retry_after", w.pollInterval),
		)
		return true
	}
	if job == nil {
		return true
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Error("Failed to record job outcome",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return true
	}
	return false
}

// Stop cancels the poll loop and waits for the job in flight, if any, to be
// released. It is safe to call more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}

	w.logger.Info("Stopping worker...")
	cancel()
	<-done
	w.logger.Info("Worker stopped")
}

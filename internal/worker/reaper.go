package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/cms-worker/internal/worker/queue"
	"github.com/robfig/cron/v3"
)

// Reaper periodically returns jobs abandoned by crashed workers to the queue
type Reaper struct {
	cron       *cron.Cron
	recoverer  queue.Recoverer
	staleAfter time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// NewReaper schedules stale job recovery. Schedule accepts the standard
// five-field cron syntax and descriptors such as "@every 1m".
func NewReaper(recoverer queue.Recoverer, schedule string, staleAfter time.Duration, logger *slog.Logger) (*Reaper, error) {
	r := &Reaper{
		cron:       cron.New(),
		recoverer:  recoverer,
		staleAfter: staleAfter,
		timeout:    30 * time.Second,
		logger:     logger,
	}

	if _, err := r.cron.AddFunc(schedule, r.Reap); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start starts the schedule in the background
func (r *Reaper) Start() {
	r.cron.Start()
	r.logger.Info("Stale job reaper started",
		slog.Duration("stale_after", r.staleAfter),
	)
}

// Stop stops the schedule and waits for a running sweep to finish
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Stale job reaper stopped")
}

// Reap runs a single recovery sweep
func (r *Reaper) Reap() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.recoverer.RecoverStale(ctx, r.staleAfter)
	if err != nil {
		r.logger.Error("Failed to recover stale jobs",
			slog.Int("recovered", n),
			slog.Any("error", err),
		)
		return
	}
	if n > 0 {
		r.logger.Warn("Recovered stale jobs",
			slog.Int("recovered", n),
			slog.Duration("stale_after", r.staleAfter),
		)
	}
}

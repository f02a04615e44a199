// Package service runs the worker process: it acquires the application
// context, wires handlers into the poll loop and shuts everything down on
// SIGINT or SIGTERM.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/cms-worker/internal/appctx"
	"github.com/cuongbtq/cms-worker/internal/config"
	"github.com/cuongbtq/cms-worker/internal/translation"
	"github.com/cuongbtq/cms-worker/internal/worker"
	"github.com/cuongbtq/cms-worker/internal/worker/handlers"
	"github.com/cuongbtq/cms-worker/internal/worker/queue"
	"github.com/cuongbtq/cms-worker/internal/worker/storage"
)

// AcquireFunc opens the application context
type AcquireFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*appctx.Context, error)

// Service is the worker process lifecycle
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	acquire AcquireFunc
	signals []os.Signal
}

// New creates the worker service
func New(cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		logger:  logger,
		acquire: appctx.Acquire,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Run blocks until a termination signal arrives or ctx is canceled. It
// returns an error only when the service could not start or the poll loop
// failed; a normal shutdown returns nil.
func (s *Service) Run(ctx context.Context) error {
	ac, err := s.acquire(ctx, s.cfg, s.logger)
	if err != nil {
		s.logger.Error("Failed to start worker service",
			slog.Any("error", err),
		)
		return err
	}
	defer s.closeContext(ac)

	w, reaper, err := s.build(ac)
	if err != nil {
		s.logger.Error("Failed to start worker service",
			slog.Any("error", err),
		)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, s.signals...)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(sigCtx)
	}()
	if reaper != nil {
		reaper.Start()
		defer reaper.Stop()
	}

	s.logger.Info("Worker service started successfully",
		slog.String("worker_id", ac.WorkerID),
		slog.String("queue_backend", s.cfg.Queue.Backend),
	)

	var loopErr error
	select {
	case <-sigCtx.Done():
		s.logger.Info("Received shutdown signal, shutting down gracefully")
	case loopErr = <-errChan:
		if loopErr != nil {
			s.logger.Error("Worker error",
				slog.Any("error", loopErr),
			)
		}
	}

	s.stopWorker(w)
	return loopErr
}

// stopWorker waits for the in-flight job to be released, bounded by the
// configured shutdown timeout
func (s *Service) stopWorker(w *worker.Worker) {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	timeout := s.cfg.Worker.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		s.logger.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Duration("timeout", timeout),
		)
	}
}

func (s *Service) closeContext(ac *appctx.Context) {
	if err := ac.Close(); err != nil {
		s.logger.Error("Shutdown failed",
			slog.Any("error", err),
		)
		return
	}
	s.logger.Info("Worker service shutdown complete")
}

// build wires the shipped handlers to the collaborators available in ac
func (s *Service) build(ac *appctx.Context) (*worker.Worker, *worker.Reaper, error) {
	if ac.Queue == nil {
		return nil, nil, errors.New("application context has no job queue")
	}

	deps := handlers.Deps{
		Logger: s.logger.With(slog.String("component", "handlers")),
	}
	if ac.Cache != nil {
		deps.Cache = ac.Cache
	}
	if ac.DB != nil {
		store := storage.NewStorage(ac.DB, s.logger)
		deps.Variants = store
		deps.Releases = store
	}
	if tc := s.cfg.Translator; tc.Endpoint != "" {
		deps.Translator = translation.NewClient(translation.Config{
			Endpoint:  tc.Endpoint,
			APIKey:    tc.APIKey,
			Model:     tc.Model,
			Timeout:   tc.Timeout,
			RateLimit: tc.RateLimit,
			Burst:     tc.Burst,
		}, nil, s.logger)
	}

	registry := worker.NewRegistry()
	if err := handlers.Register(registry, deps); err != nil {
		return nil, nil, err
	}

	wc := s.cfg.Worker
	w := worker.NewWorker(&worker.Config{
		Logger:             s.logger,
		Queue:              ac.Queue,
		Registry:           registry,
		PollInterval:       wc.PollInterval,
		JobTimeout:         wc.JobTimeout,
		MaxAttempts:        wc.MaxAttempts,
		RetryBaseDelay:     wc.RetryBaseDelay,
		RetryMaxDelay:      wc.RetryMaxDelay,
		HeartbeatInterval:  wc.HeartbeatInterval,
		BookkeepingTimeout: wc.ShutdownTimeout,
	})

	recoverer, ok := ac.Queue.(queue.Recoverer)
	if !ok {
		return w, nil, nil
	}
	reaper, err := worker.NewReaper(recoverer, wc.ReaperSchedule, wc.StaleAfter,
		s.logger.With(slog.String("component", "reaper")))
	if err != nil {
		return nil, nil, err
	}
	return w, reaper, nil
}

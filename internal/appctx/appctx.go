// Package appctx owns the long-lived connections shared by a service: the
// database, the cache, the broker and the job queue built on top of them.
package appctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/cms-worker/internal/config"
	"github.com/cuongbtq/cms-worker/internal/worker/queue"
	"github.com/cuongbtq/cms-worker/shared/cache"
	"github.com/cuongbtq/cms-worker/shared/postgresql"
	"github.com/cuongbtq/cms-worker/shared/rabbitmq"
	"github.com/google/uuid"
)

type resource struct {
	name   string
	closer io.Closer
}

// Context holds the handles acquired at startup. Fields are nil when the
// configured backend does not need them.
type Context struct {
	Config   *config.Config
	Logger   *slog.Logger
	WorkerID string
	DB       *postgresql.Client
	Cache    *cache.Client
	Rabbit   *rabbitmq.Client
	Queue    queue.Backend

	resources []resource
	closeOnce sync.Once
	closeErr  error
}

// Acquire opens every connection the configuration calls for. If any of
// them fails, the ones already opened are closed before returning.
func Acquire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Context, error) {
	ac := &Context{
		Config:   cfg,
		Logger:   logger,
		WorkerID: newWorkerID(),
	}

	if err := ac.open(ctx); err != nil {
		if closeErr := ac.Close(); closeErr != nil {
			logger.Error("Failed to release partially acquired context",
				slog.Any("error", closeErr),
			)
		}
		return nil, err
	}
	return ac, nil
}

func (ac *Context) open(ctx context.Context) error {
	cfg := ac.Config

	if cfg.Queue.Backend != config.QueueBackendMemory {
		db, err := OpenDatabase(ctx, cfg, ac.Logger)
		if err != nil {
			return err
		}
		ac.DB = db
		ac.Track("postgresql", db)
	}

	if cfg.Redis.Addr != "" {
		c, err := cache.NewClient(ctx, cacheConfig(&cfg.Redis), ac.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		ac.Cache = c
		ac.Track("redis", c)
	}

	if cfg.Queue.Backend == config.QueueBackendRabbitMQ {
		rc, err := rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ, retryTiers(cfg)), ac.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		ac.Rabbit = rc
		ac.Track("rabbitmq", rc)
	}

	ac.Queue = ac.newQueue()
	return nil
}

func (ac *Context) newQueue() queue.Backend {
	logger := ac.Logger.With(slog.String("component", "queue"))

	switch ac.Config.Queue.Backend {
	case config.QueueBackendMemory:
		return queue.NewMemoryQueue()
	case config.QueueBackendRabbitMQ:
		store := queue.NewPostgresQueue(ac.DB.GetDB(), ac.WorkerID, logger)
		return queue.NewRabbitQueue(store, ac.Rabbit, logger)
	default:
		return queue.NewPostgresQueue(ac.DB.GetDB(), ac.WorkerID, logger)
	}
}

// OpenDatabase connects to the configured Postgres database on its own,
// for tools that need nothing else
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgresql.Client, error) {
	db, err := postgresql.NewClient(ctx, postgresConfig(&cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// Track adds c to the handles released by Close
func (ac *Context) Track(name string, c io.Closer) {
	ac.resources = append(ac.resources, resource{name: name, closer: c})
}

// Close releases every handle in reverse acquisition order. Only the first
// call does any work; later calls return the same result.
func (ac *Context) Close() error {
	ac.closeOnce.Do(func() {
		var errs []error
		for i := len(ac.resources) - 1; i >= 0; i-- {
			r := ac.resources[i]
			if err := r.closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", r.name, err))
			}
		}
		ac.closeErr = errors.Join(errs...)
	})
	return ac.closeErr
}

func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

func cacheConfig(cfg *config.RedisConfig) *cache.Config {
	return &cache.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ScanCount:    cfg.ScanCount,
	}
}

// retryTiers lists every delay the worker backoff produces, so a retry
// waits exactly its backoff in the broker
func retryTiers(cfg *config.Config) []time.Duration {
	if len(cfg.RabbitMQ.RetryDelays) > 0 {
		return cfg.RabbitMQ.RetryDelays
	}
	base, maxDelay := cfg.Worker.RetryBaseDelay, cfg.Worker.RetryMaxDelay
	if base <= 0 {
		return nil
	}
	var tiers []time.Duration
	for d := base; d < maxDelay; d *= 2 {
		tiers = append(tiers, d)
	}
	return append(tiers, max(base, maxDelay))
}

func rabbitConfig(cfg *config.RabbitMQConfig, retryDelays []time.Duration) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		RetryQueue:         cfg.RetryQueue,
		RetryDelays:        retryDelays,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ScanCount    int64
}

// Client wraps a Redis connection used for CMS content caches
type Client struct {
	rdb       *redis.Client
	scanCount int64
	logger    *slog.Logger
}

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to Redis",
		slog.String("addr", config.Addr),
		slog.Int("db", config.DB),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	scanCount := config.ScanCount
	if scanCount <= 0 {
		scanCount = 100
	}

	logger.Info("Successfully connected to Redis")

	return &Client{rdb: rdb, scanCount: scanCount, logger: logger}, nil
}

// Delete removes the given keys and returns how many existed
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := c.rdb.Unlink(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return n, nil
}

// DeleteMatching removes every key matching a glob pattern. Keys are
// collected with SCAN so large keyspaces never block the server.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		deleted int64
		batch   []string
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.Delete(ctx, batch...)
		if err != nil {
			return err
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, pattern, c.scanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= c.scanCount {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan keys matching %q: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	c.logger.Debug("Deleted keys by pattern",
		slog.String("pattern", pattern),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")

	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection",
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

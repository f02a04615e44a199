package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cuongbtq/cms-worker/internal/appctx"
	"github.com/cuongbtq/cms-worker/internal/config"
	"github.com/cuongbtq/cms-worker/shared/logger"
	"github.com/spf13/cobra"
)

type acquireFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*appctx.Context, error)

type commandContext struct {
	configPath string
	acquire    acquireFunc
}

func newCommandContext(acquire acquireFunc) *commandContext {
	return &commandContext{acquire: acquire}
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithContext(newCommandContext(appctx.Acquire))
}

func newRootCommandWithContext(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the CMS job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", defaultConfigPath, "Configuration file path")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newEnqueueCommand(ctx))
	rootCmd.AddCommand(newDeadCommand(ctx))
	rootCmd.AddCommand(newRequeueCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))

	return rootCmd
}

// loadConfig reads the configuration shared with the services. jobctl runs
// in its own process, so the in-memory backend is useless to it.
func (c *commandContext) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(strings.TrimSpace(c.configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Queue.Backend == config.QueueBackendMemory {
		return nil, errors.New("jobctl needs a persistent queue backend (postgres or rabbitmq)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newCLILogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return nil, err
	}
	return l.Logger, nil
}

// withApp acquires the application context for the duration of fn
func (c *commandContext) withApp(cmd *cobra.Command, fn func(ac *appctx.Context) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log, err := newCLILogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ac, err := c.acquire(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	runErr := fn(ac)
	if closeErr := ac.Close(); closeErr != nil {
		log.Warn("Failed to close connections", slog.Any("error", closeErr))
	}
	return runErr
}

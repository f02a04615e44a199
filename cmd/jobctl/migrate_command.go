package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cms-worker/internal/appctx"
	"github.com/cuongbtq/cms-worker/migrations"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Apply every pending migration, or move a fixed number of steps with --steps (negative rolls back).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			log, err := newCLILogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			db, err := appctx.OpenDatabase(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			src, err := iofs.New(migrations.FS, ".")
			if err != nil {
				return fmt.Errorf("migration source: %w", err)
			}

			driver, err := migratepg.WithInstance(db.GetDB().DB, &migratepg.Config{})
			if err != nil {
				return fmt.Errorf("migration driver: %w", err)
			}

			m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
			if err != nil {
				return fmt.Errorf("migrate init: %w", err)
			}

			if steps == 0 {
				err = m.Up()
			} else {
				err = m.Steps(steps)
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate: %w", err)
			}

			version, dirty, verr := m.Version()
			if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
				return fmt.Errorf("migration version: %w", verr)
			}
			log.Info("Migrations complete",
				slog.Uint64("version", uint64(version)),
				slog.Bool("dirty", dirty),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", version)
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply; negative rolls back")
	return cmd
}

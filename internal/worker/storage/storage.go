package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cms-worker/internal/worker/domain"
	"github.com/cuongbtq/cms-worker/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Storage handles the content tables written by job handlers
type Storage struct {
	client *postgresql.Client
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(client *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		client: client,
		logger: logger,
	}
}

// SaveTranslationVariant upserts the variant for its key, brand and locale.
// Running the same translation job twice leaves a single row.
func (s *Storage) SaveTranslationVariant(ctx context.Context, v *domain.TranslationVariant) error {
	query := `
		INSERT INTO translation_variants (
			translation_key_id, brand_id, locale, value, source, model, updated_at
		) VALUES (
			:translation_key_id, :brand_id, :locale, :value, :source, :model, NOW()
		)
		ON CONFLICT (translation_key_id, brand_id, locale) DO UPDATE
		SET value = EXCLUDED.value,
		    source = EXCLUDED.source,
		    model = EXCLUDED.model,
		    updated_at = NOW()
	`

	if _, err := s.client.GetDB().NamedExecContext(ctx, query, v); err != nil {
		return fmt.Errorf("failed to save translation variant: %w", err)
	}

	s.logger.Debug("Translation variant saved",
		slog.String("translation_key_id", v.TranslationKeyID),
		slog.String("brand_id", v.BrandID),
		slog.String("locale", v.Locale),
	)

	return nil
}

// DeployRelease marks a release deployed to environment and records the
// deployment, both in one transaction. Deploying the same release to the
// same environment again refreshes the existing deployment record.
func (s *Storage) DeployRelease(ctx context.Context, releaseID, environment, jobID string) (*domain.Deployment, error) {
	var deployment domain.Deployment

	err := s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM releases WHERE release_id = $1 FOR UPDATE`, releaseID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrReleaseNotFound, releaseID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock release: %w", err)
		}
		if status == domain.ReleaseStatusDraft {
			return fmt.Errorf("%w: %s is %s", domain.ErrReleaseNotDeployable, releaseID, status)
		}

		err = tx.GetContext(ctx, &deployment, `
			INSERT INTO release_deployments (release_id, environment, job_id, deployed_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (release_id, environment) DO UPDATE
			SET job_id = EXCLUDED.job_id,
			    deployed_at = EXCLUDED.deployed_at
			RETURNING release_id, environment, job_id, deployed_at
		`, releaseID, environment, jobID)
		if err != nil {
			return fmt.Errorf("failed to record deployment: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE releases
			SET status = $1,
			    updated_at = NOW()
			WHERE release_id = $2
		`, domain.ReleaseStatusDeployed, releaseID)
		if err != nil {
			return fmt.Errorf("failed to update release status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Release deployed",
		slog.String("release_id", releaseID),
		slog.String("environment", environment),
		slog.String("job_id", jobID),
	)

	return &deployment, nil
}

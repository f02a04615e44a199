package domain

import "time"

// Release status constants
const (
	ReleaseStatusDraft    = "DRAFT"
	ReleaseStatusReady    = "READY"
	ReleaseStatusDeployed = "DEPLOYED"
)

// VariantSourceAI marks translation variants produced by the translator
const VariantSourceAI = "ai"

// TranslationVariant is the translated value of a translation key for one
// brand and locale
type TranslationVariant struct {
	TranslationKeyID string    `db:"translation_key_id"`
	BrandID          string    `db:"brand_id"`
	Locale           string    `db:"locale"`
	Value            string    `db:"value"`
	Source           string    `db:"source"`
	Model            string    `db:"model"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Deployment records a release being deployed to an environment
type Deployment struct {
	ReleaseID   string    `db:"release_id"`
	Environment string    `db:"environment"`
	JobID       string    `db:"job_id"`
	DeployedAt  time.Time `db:"deployed_at"`
}

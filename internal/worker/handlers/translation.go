package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/cms-worker/internal/translation"
	"github.com/cuongbtq/cms-worker/internal/worker/domain"
)

// Translator produces a translation for a single text
type Translator interface {
	Translate(ctx context.Context, req translation.Request) (*translation.Result, error)
}

// VariantStore persists translated values
type VariantStore interface {
	SaveTranslationVariant(ctx context.Context, v *domain.TranslationVariant) error
}

// TranslationPayload is the data of an ai_translation job
type TranslationPayload struct {
	TranslationKeyID string `json:"translation_key_id"`
	BrandID          string `json:"brand_id"`
	SourceLocale     string `json:"source_locale"`
	TargetLocale     string `json:"target_locale"`
	SourceText       string `json:"source_text"`
}

func (p *TranslationPayload) validate() error {
	switch {
	case p.TranslationKeyID == "":
		return invalidPayload(domain.JobTypeAITranslation, "translation_key_id is required")
	case p.BrandID == "":
		return invalidPayload(domain.JobTypeAITranslation, "brand_id is required")
	case p.SourceLocale == "" || p.TargetLocale == "":
		return invalidPayload(domain.JobTypeAITranslation, "source_locale and target_locale are required")
	case strings.EqualFold(p.SourceLocale, p.TargetLocale):
		return invalidPayload(domain.JobTypeAITranslation, "target_locale must differ from source_locale")
	case strings.TrimSpace(p.SourceText) == "":
		return invalidPayload(domain.JobTypeAITranslation, "source_text is required")
	}
	return nil
}

// TranslationHandler machine-translates a translation key and stores the
// result as a variant for the target locale
type TranslationHandler struct {
	translator Translator
	variants   VariantStore
	logger     *slog.Logger
}

// NewTranslationHandler creates the ai_translation handler
func NewTranslationHandler(translator Translator, variants VariantStore, logger *slog.Logger) *TranslationHandler {
	return &TranslationHandler{
		translator: translator,
		variants:   variants,
		logger:     logger,
	}
}

// Handle runs one ai_translation job
func (h *TranslationHandler) Handle(ctx context.Context, job *domain.Job) error {
	var p TranslationPayload
	if err := job.DecodeData(&p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}

	res, err := h.translator.Translate(ctx, translation.Request{
		Text:         p.SourceText,
		SourceLocale: p.SourceLocale,
		TargetLocale: p.TargetLocale,
	})
	if err != nil {
		return classifyTranslationError(err)
	}

	variant := &domain.TranslationVariant{
		TranslationKeyID: p.TranslationKeyID,
		BrandID:          p.BrandID,
		Locale:           p.TargetLocale,
		Value:            res.Text,
		Source:           domain.VariantSourceAI,
		Model:            res.Model,
	}
	if err := h.variants.SaveTranslationVariant(ctx, variant); err != nil {
		return domain.NewRetryableError(err)
	}

	h.logger.Info("Translation variant stored",
		slog.String("job_id", job.ID),
		slog.String("translation_key_id", p.TranslationKeyID),
		slog.String("brand_id", p.BrandID),
		slog.String("target_locale", p.TargetLocale),
	)
	return nil
}

// classifyTranslationError keeps client-side rejections permanent and
// retries everything else
func classifyTranslationError(err error) error {
	var statusErr *translation.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return fmt.Errorf("translator rejected request: %w", err)
	}
	if errors.Is(err, translation.ErrEmptyTranslation) {
		return err
	}
	return domain.NewRetryableError(err)
}

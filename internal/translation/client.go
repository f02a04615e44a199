// Package translation is a client for the AI translation endpoint used by
// the ai_translation job.
package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrEmptyTranslation is returned when the endpoint answers without text
var ErrEmptyTranslation = errors.New("translation: empty result")

// Config holds translator endpoint settings
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	// RateLimit is the sustained request rate per second; 0 disables limiting
	RateLimit float64
	Burst     int
}

// Request is one text to translate
type Request struct {
	Text         string `json:"text"`
	SourceLocale string `json:"source_locale"`
	TargetLocale string `json:"target_locale"`
	Model        string `json:"model,omitempty"`
}

type response struct {
	Translation string `json:"translation"`
	Model       string `json:"model"`
}

// Result is a translated text and the model that produced it
type Result struct {
	Text  string
	Model string
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translation: HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// Client calls the translation endpoint
type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a translator client. Pass nil httpClient to use one
// with the configured timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		config:      cfg,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      logger,
	}
}

// Translate sends req to the endpoint
func (c *Client) Translate(ctx context.Context, req Request) (*Result, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("translation: rate limit: %w", err)
	}

	if req.Model == "" {
		req.Model = c.config.Model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("translation: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("translation: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("translation: request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("translation: decode response: %w", err)
	}
	if out.Translation == "" {
		return nil, ErrEmptyTranslation
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	c.logger.Debug("Translation received",
		slog.String("source_locale", req.SourceLocale),
		slog.String("target_locale", req.TargetLocale),
		slog.Duration("duration", time.Since(start)),
	)

	return &Result{Text: out.Translation, Model: out.Model}, nil
}

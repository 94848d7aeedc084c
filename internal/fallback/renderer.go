// Package fallback renders targets through a third-party screenshot API when
// the local headless-browser path is unavailable or fails.
package fallback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/toolhub/shotpipe/internal/capture"
)

// Config controls candidate construction and per-attempt budgets.
type Config struct {
	BaseURL        string
	Width          int
	MinWidth       int
	WidthStep      int
	AttemptTimeout time.Duration
	RequestsPerSec float64
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 1440
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 800
	}
	if c.WidthStep <= 0 {
		c.WidthStep = 200
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 1
	}
	return c
}

// Renderer implements capture.FallbackRenderer over the external HTTP API.
type Renderer struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Renderer. The base URL is required; without it the fallback
// path is simply not wired.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fallback base url is required")
	}
	cfg = cfg.withDefaults()
	return &Renderer{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:  logger,
	}, nil
}

type candidate struct {
	mode  string
	width int
}

// candidates returns the ordered attempts: fullpage at the requested width,
// then standard, then standard at a reduced width. The width degradation
// accommodates services that reject overly large render requests.
func (r *Renderer) candidates() []candidate {
	reduced := r.cfg.Width - r.cfg.WidthStep
	if reduced < r.cfg.MinWidth {
		reduced = r.cfg.MinWidth
	}
	return []candidate{
		{mode: "fullpage", width: r.cfg.Width},
		{mode: "standard", width: r.cfg.Width},
		{mode: "standard", width: reduced},
	}
}

// Render tries each candidate once, in order, and returns the first image.
// A failed candidate is abandoned, never retried. All candidates failing
// wraps capture.ErrFallbackExhausted.
func (r *Renderer) Render(ctx context.Context, target string) ([]byte, error) {
	var lastErr error
	for _, c := range r.candidates() {
		data, err := r.attempt(ctx, c, target)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fallback render: %w", ctx.Err())
		}
		r.logger.Warn("fallback candidate failed",
			zap.String("url", target),
			zap.String("mode", c.mode),
			zap.Int("width", c.width),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("%w for %s: %v", capture.ErrFallbackExhausted, target, lastErr)
}

func (r *Renderer) attempt(ctx context.Context, c candidate, target string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/get/%s/width/%d/%s",
		r.cfg.BaseURL, c.mode, c.width, url.QueryEscape(target))

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warn("close fallback response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("render service returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read render body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("render service returned empty body")
	}
	return data, nil
}

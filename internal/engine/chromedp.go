// Package engine drives headless Chrome to capture per-region screenshots.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
	"github.com/toolhub/shotpipe/internal/metrics"
)

// Config controls browser and capture behavior.
type Config struct {
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ScrollSettle      time.Duration
	FullpageQuality   int
}

func (c Config) withDefaults() Config {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1440
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 900
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 1200 * time.Millisecond
	}
	if c.ScrollSettle <= 0 {
		c.ScrollSettle = 600 * time.Millisecond
	}
	if c.FullpageQuality <= 0 {
		c.FullpageQuality = 90
	}
	return c
}

// Chromedp implements capture.Capturer on a long-lived exec allocator.
// Each target gets its own tab context so a crashed or hung page cannot
// poison later targets.
type Chromedp struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	sampler     capture.Sampler
	detector    capture.Detector
	logger      *zap.Logger
}

// New builds the engine and its exec allocator.
func New(cfg Config, detector capture.Detector, logger *zap.Logger) (*Chromedp, error) {
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		sampler:     capture.NewSampler(),
		detector:    detector,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, tearing down the browser process.
func (e *Chromedp) Close() {
	e.allocCancel()
}

// metricsJS reads scroll geometry from the live DOM after navigation settles.
const metricsJS = `({
	scrollHeight: document.documentElement.scrollHeight,
	clientHeight: document.documentElement.clientHeight,
	viewportHeight: window.innerHeight
})`

// Capture navigates to the URL and returns the duplicate-filtered region
// captures. Navigation and browser failures wrap capture.ErrNavigation so
// the runner can degrade to the fallback renderer.
func (e *Chromedp) Capture(ctx context.Context, url string) ([]capture.CapturedImage, error) {
	tabCtx, cancelTab := chromedp.NewContext(e.allocator)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	pm, err := e.navigate(taskCtx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrNavigation, err)
	}

	images, err := e.captureRegions(taskCtx, url, pm, false)
	if err != nil {
		return nil, err
	}

	// One alternate-offset pass when every viewport region rendered the
	// same and the page actually scrolls. Never more than one.
	if e.detector.AllDuplicate(viewportOnly(images)) && pm.MaxScroll() > 0 {
		e.logger.Info("regions collide, re-sampling at alternate offsets",
			zap.String("url", url),
			zap.Int("max_scroll", pm.MaxScroll()),
		)
		retried, retryErr := e.captureRegions(taskCtx, url, pm, true)
		if retryErr != nil {
			e.logger.Warn("alternate-offset pass failed, keeping first pass",
				zap.String("url", url), zap.Error(retryErr))
		} else {
			images = retried
		}
	}

	full, err := e.captureFullpage(taskCtx)
	if err != nil {
		e.logger.Warn("fullpage capture failed", zap.String("url", url), zap.Error(err))
	} else {
		images = append(images, full)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no region produced bytes for %s", capture.ErrCaptureEmpty, url)
	}

	kept, dropped := e.detector.Filter(images)
	e.recordDrops(url, dropped)
	kept = supplementThinSet(kept, images)
	return kept, nil
}

func (e *Chromedp) recordDrops(url string, dropped []capture.CapturedImage) {
	for _, d := range dropped {
		metrics.RegionDropped(string(d.Region))
		e.logger.Debug("dropped duplicate region",
			zap.String("url", url),
			zap.String("region", string(d.Region)),
			zap.String("fingerprint", d.Fingerprint),
		)
	}
}

func (e *Chromedp) navigate(ctx context.Context, url string) (capture.PageMetrics, error) {
	var pm capture.PageMetrics
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(e.cfg.ViewportWidth), int64(e.cfg.ViewportHeight)),
		e.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(e.cfg.SettleDelay),
		chromedp.Evaluate(metricsJS, &pm),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return capture.PageMetrics{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	return pm, nil
}

func (e *Chromedp) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if e.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (e *Chromedp) captureRegions(
	ctx context.Context,
	url string,
	pm capture.PageMetrics,
	alternate bool,
) ([]capture.CapturedImage, error) {
	offsets := e.sampler.Offsets(pm, alternate)
	images := make([]capture.CapturedImage, 0, len(offsets))
	for _, off := range offsets {
		var buf []byte
		tasks := chromedp.Tasks{
			chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d)", off.Y), nil),
			chromedp.Sleep(e.cfg.ScrollSettle),
			chromedp.CaptureScreenshot(&buf),
		}
		if err := chromedp.Run(ctx, tasks); err != nil {
			return nil, fmt.Errorf("%w: capture %s at %d: %v", capture.ErrNavigation, off.Region, off.Y, err)
		}
		if len(buf) == 0 {
			// Scoped to this region; the others still count.
			e.logger.Warn("empty region capture",
				zap.String("url", url),
				zap.String("region", string(off.Region)),
			)
			continue
		}
		images = append(images, capture.CapturedImage{
			Region:      off.Region,
			Bytes:       buf,
			Fingerprint: capture.Fingerprint(buf),
		})
	}
	return images, nil
}

func (e *Chromedp) captureFullpage(ctx context.Context) (capture.CapturedImage, error) {
	var buf []byte
	tasks := chromedp.Tasks{
		chromedp.Evaluate("window.scrollTo(0, 0)", nil),
		chromedp.Sleep(e.cfg.ScrollSettle),
		chromedp.FullScreenshot(&buf, e.cfg.FullpageQuality),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return capture.CapturedImage{}, fmt.Errorf("fullpage screenshot: %w", err)
	}
	if len(buf) == 0 {
		return capture.CapturedImage{}, fmt.Errorf("fullpage screenshot: %w", capture.ErrCaptureEmpty)
	}
	return capture.CapturedImage{
		Region:      capture.RegionFullpage,
		Bytes:       buf,
		Fingerprint: capture.Fingerprint(buf),
	}, nil
}

// supplementThinSet re-adds the fullpage capture when duplicate filtering
// left fewer than two distinct images, so a genuinely captured target never
// ships a single thin viewport slice as its whole set.
func supplementThinSet(kept, all []capture.CapturedImage) []capture.CapturedImage {
	if len(kept) >= 2 {
		return kept
	}
	for _, img := range kept {
		if img.Region == capture.RegionFullpage {
			return kept
		}
	}
	for _, img := range all {
		if img.Region == capture.RegionFullpage {
			return append(kept, img)
		}
	}
	return kept
}

func viewportOnly(images []capture.CapturedImage) []capture.CapturedImage {
	var out []capture.CapturedImage
	for _, img := range images {
		if img.Region != capture.RegionFullpage {
			out = append(out, img)
		}
	}
	return out
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

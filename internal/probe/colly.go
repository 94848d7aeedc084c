// Package probe performs cheap reachability checks before browser time is
// spent on a target.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/toolhub/shotpipe/internal/capture"
)

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Colly implements capture.Prober with a single plain HTTP GET. A target
// whose DNS or TCP connection fails here is routed around the headless
// browser entirely.
type Colly struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Colly prober.
func New(cfg Config) *Colly {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Colly{cfg: cfg, base: c}
}

// Probe fetches the URL once. Only transport-level failures (DNS, refused
// connections, timeouts) count as unreachable; an HTTP error status means
// the server answered, and the browser may still render something useful.
func (p *Colly) Probe(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probe canceled: %w", err)
	}

	collector := p.base.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)

	var (
		transportErr error
		answered     bool
	)
	collector.OnResponse(func(_ *colly.Response) {
		answered = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			answered = true
			return
		}
		transportErr = err
	})

	if err := collector.Visit(url); err != nil && !answered {
		return fmt.Errorf("%w: %s: %v", capture.ErrUnreachable, url, err)
	}
	if !answered && transportErr != nil {
		return fmt.Errorf("%w: %s: %v", capture.ErrUnreachable, url, transportErr)
	}
	return nil
}

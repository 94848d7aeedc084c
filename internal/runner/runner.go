// Package runner orchestrates the per-target capture pipeline over a
// worklist of tool websites.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
	"github.com/toolhub/shotpipe/internal/metrics"
	"github.com/toolhub/shotpipe/internal/progress"
)

// Config controls batch behavior.
type Config struct {
	// BatchSize is the number of targets per group; groups are separated
	// by BatchPause to avoid hammering the browser pool and target sites.
	BatchSize     int
	BatchPause    time.Duration
	TargetTimeout time.Duration
	TotalBudget   time.Duration
	// Limit caps the worklist for partial or test runs; <= 0 means all.
	Limit int
	// Workers bounds intra-batch parallelism. Each worker drives its own
	// browser tab context; tabs are never shared.
	Workers     int
	ResultTopic string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 2 * time.Second
	}
	if c.TargetTimeout <= 0 {
		c.TargetTimeout = 90 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Workers > c.BatchSize {
		c.Workers = c.BatchSize
	}
	return c
}

// Runner executes the capture pipeline target by target. Every error is
// absorbed into the target's own result; one target can never abort the
// batch.
type Runner struct {
	capturer   capture.Capturer
	fallback   capture.FallbackRenderer
	transcoder capture.Transcoder
	gateway    capture.Gateway
	tools      capture.ToolStore
	prober     capture.Prober
	publisher  capture.Publisher
	clock      capture.Clock
	cfg        Config
	logger     *zap.Logger
	progress   progress.Emitter
}

// SetProgress attaches an optional progress emitter. Must be called before
// RunBatch or ProcessTarget; a nil emitter disables the event stream.
func (r *Runner) SetProgress(emitter progress.Emitter) {
	r.progress = emitter
}

func (r *Runner) emit(evt progress.Event) {
	if r.progress == nil {
		return
	}
	evt.TS = r.clock.Now()
	r.progress.Emit(evt)
}

// New constructs a Runner. The fallback renderer, prober, and publisher are
// optional; a nil value disables that path.
func New(
	capturer capture.Capturer,
	fallback capture.FallbackRenderer,
	transcoder capture.Transcoder,
	gateway capture.Gateway,
	tools capture.ToolStore,
	prober capture.Prober,
	publisher capture.Publisher,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		capturer:   capturer,
		fallback:   fallback,
		transcoder: transcoder,
		gateway:    gateway,
		tools:      tools,
		prober:     prober,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// RunBatch processes the whole worklist in fixed-size groups and returns the
// aggregated summary.
func (r *Runner) RunBatch(ctx context.Context) (capture.BatchSummary, error) {
	if r.cfg.TotalBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TotalBudget)
		defer cancel()
	}

	targets, err := r.tools.ListTargets(ctx, r.cfg.Limit)
	if err != nil {
		return capture.BatchSummary{}, fmt.Errorf("list targets: %w", err)
	}
	r.logger.Info("batch starting",
		zap.Int("targets", len(targets)),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Int("workers", r.cfg.Workers),
	)
	r.emit(progress.Event{Stage: progress.StageBatchStart, Note: fmt.Sprintf("%d targets", len(targets))})

	summary := capture.BatchSummary{}
	for start := 0; start < len(targets); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		results := r.processGroup(ctx, targets[start:end])
		for _, res := range results {
			summary.Processed++
			if res.Success {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			summary.Results = append(summary.Results, res)
		}

		if end < len(targets) {
			if err := sleepCtx(ctx, r.cfg.BatchPause); err != nil {
				r.logger.Warn("batch budget elapsed, stopping early",
					zap.Int("processed", summary.Processed),
					zap.Int("remaining", len(targets)-end),
				)
				break
			}
		}
	}

	r.emit(progress.Event{
		Stage: progress.StageBatchDone,
		Note:  fmt.Sprintf("%d/%d succeeded", summary.Succeeded, summary.Processed),
	})
	r.logSummary(summary)
	return summary, nil
}

func (r *Runner) processGroup(ctx context.Context, group []capture.Target) []capture.TargetResult {
	results := make([]capture.TargetResult, len(group))
	if r.cfg.Workers <= 1 {
		for i, target := range group {
			results[i] = r.ProcessTarget(ctx, target)
		}
		return results
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.cfg.Workers)
	for i, target := range group {
		wg.Add(1)
		go func(idx int, t capture.Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = r.ProcessTarget(ctx, t)
		}(i, target)
	}
	wg.Wait()
	return results
}

// ProcessTarget runs one target through the full state machine. It never
// returns an error: failures are folded into the result.
func (r *Runner) ProcessTarget(ctx context.Context, target capture.Target) capture.TargetResult {
	start := r.clock.Now()
	result := capture.TargetResult{
		ToolID: target.ToolID,
		URL:    target.URL,
		State:  capture.StatePending,
	}
	r.emit(progress.Event{Stage: progress.StageTargetStart, ToolID: target.ToolID})

	targetCtx := ctx
	if r.cfg.TargetTimeout > 0 {
		var cancel context.CancelFunc
		targetCtx, cancel = context.WithTimeout(ctx, r.cfg.TargetTimeout)
		defer cancel()
	}

	images, err := r.acquireImages(targetCtx, target, &result)
	if err != nil {
		return r.fail(&result, start, err)
	}

	result.State = capture.StateTranscoding
	assets := make([]capture.TranscodedAsset, 0, len(images))
	for _, img := range images {
		asset, terr := r.transcoder.Transcode(img.Region, img.Bytes)
		if terr != nil {
			// The transcoder degrades internally; an error here means the
			// buffer is unusable outright.
			r.logger.Warn("transcode failed, dropping region",
				zap.String("tool_id", target.ToolID),
				zap.String("region", string(img.Region)),
				zap.Error(terr),
			)
			continue
		}
		assets = append(assets, asset)
		result.Regions = append(result.Regions, capture.RegionOutcome{
			Region:      asset.Region,
			Bytes:       len(asset.Bytes),
			Fingerprint: img.Fingerprint,
			ContentType: asset.ContentType,
		})
		metrics.RegionKept(string(img.Region))
		r.emit(progress.Event{
			Stage:  progress.StageRegionKept,
			ToolID: target.ToolID,
			Region: string(asset.Region),
			Bytes:  int64(len(asset.Bytes)),
		})
	}
	if len(assets) == 0 {
		return r.fail(&result, start, fmt.Errorf("%w: no usable assets", capture.ErrCaptureEmpty))
	}

	result.State = capture.StateUploading
	set, err := r.gateway.Persist(targetCtx, target.ToolID, assets)
	if err != nil {
		metrics.Upload("failed")
		return r.fail(&result, start, err)
	}
	metrics.Upload("ok")

	result.State = capture.StateCompleted
	result.Success = true
	result.URLs = set.URLs
	result.Duration = r.clock.Now().Sub(start)
	metrics.ObserveTarget("success", "", result.Duration)
	r.emit(progress.Event{
		Stage:  progress.StageTargetDone,
		ToolID: target.ToolID,
		Dur:    result.Duration,
	})
	r.publishResult(result)

	r.logger.Info("target completed",
		zap.String("tool_id", target.ToolID),
		zap.Int("screenshots", len(set.URLs)),
		zap.Bool("used_fallback", result.UsedFallback),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// acquireImages obtains captures via the local browser, degrading to the
// fallback renderer on navigation-class failures.
func (r *Runner) acquireImages(
	ctx context.Context,
	target capture.Target,
	result *capture.TargetResult,
) ([]capture.CapturedImage, error) {
	result.State = capture.StateCapturing

	var captureErr error
	if r.prober != nil {
		if err := r.prober.Probe(ctx, target.URL); err != nil {
			r.logger.Warn("preflight probe failed, skipping browser",
				zap.String("tool_id", target.ToolID),
				zap.Error(err),
			)
			captureErr = err
		}
	}

	if captureErr == nil {
		images, err := r.capturer.Capture(ctx, target.URL)
		if err == nil {
			result.State = capture.StateDeduping
			return images, nil
		}
		captureErr = err
		r.logger.Warn("local capture failed",
			zap.String("tool_id", target.ToolID),
			zap.String("url", target.URL),
			zap.Error(err),
		)
	}

	if r.fallback == nil || ctx.Err() != nil {
		return nil, captureErr
	}

	result.State = capture.StateFallback
	result.UsedFallback = true
	r.emit(progress.Event{Stage: progress.StageFallbackUsed, ToolID: target.ToolID})
	data, err := r.fallback.Render(ctx, target.URL)
	if err != nil {
		metrics.FallbackResult("failed")
		return nil, err
	}
	metrics.FallbackResult("ok")

	// The fallback image substitutes for the required hero region and flows
	// through transcode and upload exactly like a local capture.
	return []capture.CapturedImage{{
		Region:      capture.RegionHero,
		Bytes:       data,
		Fingerprint: capture.Fingerprint(data),
	}}, nil
}

func (r *Runner) fail(result *capture.TargetResult, start time.Time, err error) capture.TargetResult {
	result.State = capture.StateFailed
	result.ErrorText = err.Error()
	result.Duration = r.clock.Now().Sub(start)
	metrics.ObserveTarget("failure", capture.FailureReason(err), result.Duration)
	r.emit(progress.Event{
		Stage:  progress.StageTargetError,
		ToolID: result.ToolID,
		Dur:    result.Duration,
		Note:   capture.FailureReason(err),
	})
	r.publishResult(*result)
	r.logger.Error("target failed",
		zap.String("tool_id", result.ToolID),
		zap.String("url", result.URL),
		zap.String("reason", capture.FailureReason(err)),
		zap.Error(err),
	)
	return *result
}

func (r *Runner) publishResult(result capture.TargetResult) {
	if r.publisher == nil {
		return
	}
	// Publishing is best effort and must not block the pipeline for long.
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.publisher.Publish(pubCtx, r.cfg.ResultTopic, result); err != nil {
		r.logger.Warn("publish result failed",
			zap.String("tool_id", result.ToolID),
			zap.Error(err),
		)
	}
}

func (r *Runner) logSummary(summary capture.BatchSummary) {
	r.logger.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	for _, f := range summary.Failures() {
		r.logger.Warn("batch failure",
			zap.String("tool_id", f.ToolID),
			zap.String("url", f.URL),
			zap.String("error", f.ErrorText),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
	"github.com/toolhub/shotpipe/internal/gateway"
	"github.com/toolhub/shotpipe/internal/progress"
	pubmemory "github.com/toolhub/shotpipe/internal/publisher/memory"
	storagememory "github.com/toolhub/shotpipe/internal/storage/memory"
	storememory "github.com/toolhub/shotpipe/internal/store/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeCapturer struct {
	mu      sync.Mutex
	failFor map[string]error
	calls   []string
}

func (f *fakeCapturer) Capture(_ context.Context, url string) ([]capture.CapturedImage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err, ok := f.failFor[url]; ok {
		return nil, err
	}
	hero := []byte("hero:" + url)
	full := []byte("full:" + url)
	return []capture.CapturedImage{
		{Region: capture.RegionHero, Bytes: hero, Fingerprint: capture.Fingerprint(hero)},
		{Region: capture.RegionFullpage, Bytes: full, Fingerprint: capture.Fingerprint(full)},
	}, nil
}

type fakeFallback struct {
	err   error
	calls []string
}

func (f *fakeFallback) Render(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("fallback:" + url), nil
}

type rawTranscoder struct{}

func (rawTranscoder) Transcode(region capture.Region, raw []byte) (capture.TranscodedAsset, error) {
	return capture.TranscodedAsset{
		Region:      region,
		Bytes:       raw,
		ContentType: "image/jpeg",
	}, nil
}

type failingProber struct{ err error }

func (p failingProber) Probe(_ context.Context, _ string) error { return p.err }

type harness struct {
	runner    *Runner
	tools     *storememory.ToolStore
	objects   *storagememory.ObjectStore
	publisher *pubmemory.Publisher
	capturer  *fakeCapturer
	fallback  *fakeFallback
}

func newHarness(t *testing.T, cfg Config, prober capture.Prober, fb *fakeFallback, targets ...capture.Target) *harness {
	t.Helper()

	tools := storememory.NewToolStore(targets...)
	objects := storagememory.NewObjectStore()
	clock := fakeClock{now: time.Unix(1700000000, 0)}
	gw := gateway.New(objects, tools, clock, gateway.Config{}, zap.NewNop())
	capturer := &fakeCapturer{failFor: map[string]error{}}
	publisher := pubmemory.NewPublisher()

	var fallback capture.FallbackRenderer
	if fb != nil {
		fallback = fb
	}

	r := New(capturer, fallback, rawTranscoder{}, gw, tools, prober, publisher, clock, cfg, zap.NewNop())
	return &harness{
		runner:    r,
		tools:     tools,
		objects:   objects,
		publisher: publisher,
		capturer:  capturer,
		fallback:  fb,
	}
}

func TestProcessTargetSuccess(t *testing.T) {
	t.Parallel()

	target := capture.Target{ToolID: "tool-1", URL: "https://one.example.com"}
	h := newHarness(t, Config{}, nil, nil, target)

	result := h.runner.ProcessTarget(context.Background(), target)
	require.True(t, result.Success)
	require.Equal(t, capture.StateCompleted, result.State)
	require.Len(t, result.URLs, 2)
	require.Contains(t, result.URLs[0], "/hero.jpg")
	require.Contains(t, result.URLs[1], "/fullpage.jpg")
	require.Equal(t, result.URLs, h.tools.Screenshots("tool-1"))
	require.Len(t, h.publisher.Messages(), 1)

	require.Len(t, result.Regions, 2)
	require.Equal(t, capture.RegionHero, result.Regions[0].Region)
	require.Equal(t, capture.RegionFullpage, result.Regions[1].Region)
	for _, region := range result.Regions {
		require.Positive(t, region.Bytes)
		require.Equal(t, "image/jpeg", region.ContentType)
		require.NotEmpty(t, region.Fingerprint)
	}
}

func TestFallbackSubstitution(t *testing.T) {
	t.Parallel()

	target := capture.Target{ToolID: "tool-2", URL: "https://down.example.com"}
	fb := &fakeFallback{}
	h := newHarness(t, Config{}, nil, fb, target)
	h.capturer.failFor[target.URL] = fmt.Errorf("%w: dns", capture.ErrNavigation)

	result := h.runner.ProcessTarget(context.Background(), target)
	require.True(t, result.Success)
	require.True(t, result.UsedFallback)
	require.Equal(t, []string{target.URL}, fb.calls)

	// The fallback image persists exactly like a local hero capture.
	require.Len(t, result.URLs, 1)
	require.Contains(t, result.URLs[0], "/hero.jpg")
	data, contentType, ok := h.objects.Object("tools/tool-2/hero.jpg")
	require.True(t, ok)
	require.Equal(t, []byte("fallback:"+target.URL), data)
	require.Equal(t, "image/jpeg", contentType)
}

func TestFallbackExhaustedMarksTargetFailed(t *testing.T) {
	t.Parallel()

	target := capture.Target{ToolID: "tool-3", URL: "https://gone.example.com"}
	fb := &fakeFallback{err: fmt.Errorf("%w: all candidates", capture.ErrFallbackExhausted)}
	h := newHarness(t, Config{}, nil, fb, target)
	h.capturer.failFor[target.URL] = capture.ErrNavigation

	result := h.runner.ProcessTarget(context.Background(), target)
	require.False(t, result.Success)
	require.Equal(t, capture.StateFailed, result.State)
	require.Contains(t, result.ErrorText, "fallback candidates exhausted")
	require.Empty(t, h.tools.Screenshots("tool-3"))
}

func TestNoFallbackConfigured(t *testing.T) {
	t.Parallel()

	target := capture.Target{ToolID: "tool-4", URL: "https://err.example.com"}
	h := newHarness(t, Config{}, nil, nil, target)
	h.capturer.failFor[target.URL] = capture.ErrNavigation

	result := h.runner.ProcessTarget(context.Background(), target)
	require.False(t, result.Success)
	require.Equal(t, capture.StateFailed, result.State)
}

func TestProberFailureRoutesToFallback(t *testing.T) {
	t.Parallel()

	target := capture.Target{ToolID: "tool-5", URL: "https://unreachable.example.com"}
	fb := &fakeFallback{}
	prober := failingProber{err: fmt.Errorf("%w: dns", capture.ErrUnreachable)}
	h := newHarness(t, Config{}, prober, fb, target)

	result := h.runner.ProcessTarget(context.Background(), target)
	require.True(t, result.Success)
	require.True(t, result.UsedFallback)
	// The browser was never consulted.
	require.Empty(t, h.capturer.calls)
}

func TestBatchFaultIsolation(t *testing.T) {
	t.Parallel()

	targets := make([]capture.Target, 5)
	for i := range targets {
		targets[i] = capture.Target{
			ToolID: fmt.Sprintf("tool-%d", i+1),
			URL:    fmt.Sprintf("https://site-%d.example.com", i+1),
		}
	}
	fb := &fakeFallback{err: errors.New("render service down")}
	h := newHarness(t, Config{BatchSize: 5, BatchPause: time.Millisecond}, nil, fb, targets...)
	h.capturer.failFor[targets[2].URL] = capture.ErrNavigation

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.Processed)
	require.Equal(t, 4, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)

	failures := summary.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "tool-3", failures[0].ToolID)

	for _, id := range []string{"tool-1", "tool-2", "tool-4", "tool-5"} {
		require.NotEmpty(t, h.tools.Screenshots(id), "tool %s should have screenshots", id)
	}
}

func TestBatchLimit(t *testing.T) {
	t.Parallel()

	targets := []capture.Target{
		{ToolID: "tool-1", URL: "https://one.example.com"},
		{ToolID: "tool-2", URL: "https://two.example.com"},
		{ToolID: "tool-3", URL: "https://three.example.com"},
	}
	h := newHarness(t, Config{Limit: 2, BatchPause: time.Millisecond}, nil, nil, targets...)

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
}

func TestBatchParallelWorkers(t *testing.T) {
	t.Parallel()

	targets := make([]capture.Target, 4)
	for i := range targets {
		targets[i] = capture.Target{
			ToolID: fmt.Sprintf("tool-%d", i+1),
			URL:    fmt.Sprintf("https://p-%d.example.com", i+1),
		}
	}
	h := newHarness(t, Config{BatchSize: 4, Workers: 3, BatchPause: time.Millisecond}, nil, nil, targets...)

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Succeeded)
	// Results keep worklist order regardless of worker interleaving.
	for i, res := range summary.Results {
		require.Equal(t, fmt.Sprintf("tool-%d", i+1), res.ToolID)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 5, cfg.BatchSize)
	require.Equal(t, 2*time.Second, cfg.BatchPause)
	require.Equal(t, 1, cfg.Workers)

	capped := Config{BatchSize: 2, Workers: 8}.withDefaults()
	require.Equal(t, 2, capped.Workers)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

func TestRunBatchEmitsProgress(t *testing.T) {
	t.Parallel()

	targets := []capture.Target{
		{ToolID: "tool-1", URL: "https://one.example.com"},
		{ToolID: "tool-2", URL: "https://two.example.com"},
	}
	h := newHarness(t, Config{BatchSize: 2, BatchPause: time.Millisecond}, nil, nil, targets...)
	emitter := &recordingEmitter{}
	h.runner.SetProgress(emitter)

	summary, err := h.runner.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Succeeded)

	stages := emitter.stages()
	require.Equal(t, progress.StageBatchStart, stages[0])
	require.Equal(t, progress.StageBatchDone, stages[len(stages)-1])

	counts := map[progress.Stage]int{}
	for _, s := range stages {
		counts[s]++
	}
	require.Equal(t, 2, counts[progress.StageTargetStart])
	require.Equal(t, 2, counts[progress.StageTargetDone])
	require.Equal(t, 4, counts[progress.StageRegionKept]) // hero + fullpage per target
	require.Zero(t, counts[progress.StageTargetError])
}

func TestProcessTargetEmitsErrorStage(t *testing.T) {
	t.Parallel()

	target := capture.Target{ToolID: "tool-1", URL: "https://down.example.com"}
	h := newHarness(t, Config{}, nil, nil, target)
	h.capturer.failFor[target.URL] = capture.ErrNavigation
	emitter := &recordingEmitter{}
	h.runner.SetProgress(emitter)

	result := h.runner.ProcessTarget(context.Background(), target)
	require.False(t, result.Success)

	stages := emitter.stages()
	require.Contains(t, stages, progress.StageTargetError)
	require.NotContains(t, stages, progress.StageTargetDone)
}

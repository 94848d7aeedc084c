// Package capture defines core types shared across the screenshot pipeline.
package capture

import "time"

// Region names a semantically distinct slice of a rendered page.
type Region string

// Regions captured per target, in persistence order.
const (
	RegionHero     Region = "hero"
	RegionFeatures Region = "features"
	RegionPricing  Region = "pricing"
	RegionFullpage Region = "fullpage"
)

// RegionOrder is the fixed priority and persistence ordering. Downstream
// consumers index the persisted URL list positionally, so this never changes.
var RegionOrder = []Region{RegionHero, RegionFeatures, RegionPricing, RegionFullpage}

// Required reports whether the region must survive duplicate filtering.
// Hero is required so a target that captured successfully never persists an
// empty screenshot set.
func (r Region) Required() bool {
	return r == RegionHero
}

// Priority returns the region's rank in RegionOrder, lower keeps first.
func (r Region) Priority() int {
	for i, candidate := range RegionOrder {
		if candidate == r {
			return i
		}
	}
	return len(RegionOrder)
}

// Target is one worklist entry: a tool record whose website gets captured.
type Target struct {
	ToolID string `json:"tool_id"`
	URL    string `json:"url"`
}

// PageMetrics holds the scroll geometry read from a live page after the
// initial navigation settles.
type PageMetrics struct {
	ScrollHeight   int `json:"scrollHeight"`
	ClientHeight   int `json:"clientHeight"`
	ViewportHeight int `json:"viewportHeight"`
}

// MaxScroll returns the largest meaningful scroll offset for the page.
func (m PageMetrics) MaxScroll() int {
	visible := m.ClientHeight
	if m.ViewportHeight < visible {
		visible = m.ViewportHeight
	}
	max := m.ScrollHeight - visible
	if max < 0 {
		return 0
	}
	return max
}

// RegionOffset pairs a viewport region with its scroll position.
type RegionOffset struct {
	Region Region
	Y      int
}

// CapturedImage is one raw screenshot buffer plus its dedupe fingerprint.
// It lives only for the processing window of a single target.
type CapturedImage struct {
	Region      Region
	Bytes       []byte
	Fingerprint string
}

// TranscodedAsset is a web-ready encoding of a captured image. The gateway
// derives its storage key from the region and content type.
type TranscodedAsset struct {
	Region      Region
	Bytes       []byte
	ContentType string
}

// ScreenshotSet is the per-tool record written after a successful run.
type ScreenshotSet struct {
	ToolID  string    `json:"tool_id"`
	URLs    []string  `json:"urls"`
	Version time.Time `json:"version"`
}

// TargetState tracks a target through the pipeline state machine.
type TargetState string

// Pipeline states. Completed and Failed are terminal.
const (
	StatePending     TargetState = "pending"
	StateCapturing   TargetState = "capturing"
	StateDeduping    TargetState = "deduping"
	StateFallback    TargetState = "fallback_rendering"
	StateTranscoding TargetState = "transcoding"
	StateUploading   TargetState = "uploading"
	StateCompleted   TargetState = "completed"
	StateFailed      TargetState = "failed"
)

// TargetResult is the per-target outcome recorded by the batch runner.
type TargetResult struct {
	ToolID       string          `json:"tool_id"`
	URL          string          `json:"url"`
	State        TargetState     `json:"state"`
	Success      bool            `json:"success"`
	UsedFallback bool            `json:"used_fallback"`
	URLs         []string        `json:"urls,omitempty"`
	Regions      []RegionOutcome `json:"regions,omitempty"`
	ErrorText    string          `json:"error,omitempty"`
	Duration     time.Duration
}

// RegionOutcome records one stored region for debug output and result events.
type RegionOutcome struct {
	Region      Region `json:"region"`
	Bytes       int    `json:"bytes"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// BatchSummary aggregates per-target outcomes for one batch run.
type BatchSummary struct {
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []TargetResult `json:"results"`
}

// Failures returns the failed results for summary logging.
func (s BatchSummary) Failures() []TargetResult {
	var failed []TargetResult
	for _, r := range s.Results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}

package capture

import (
	"context"
	"time"
)

// Capturer drives a headless browser against one target URL and returns the
// raw per-region buffers, fingerprinted and duplicate-filtered.
type Capturer interface {
	Capture(ctx context.Context, url string) ([]CapturedImage, error)
}

// FallbackRenderer obtains a single representative image from an external
// rendering service when the local capture path fails.
type FallbackRenderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Transcoder converts a raw capture to a web-friendly encoding.
type Transcoder interface {
	Transcode(region Region, raw []byte) (TranscodedAsset, error)
}

// ObjectStore writes image objects and resolves their public URLs.
type ObjectStore interface {
	// Upload writes data at path with overwrite semantics, so re-running a
	// target replaces its prior objects instead of accumulating orphans.
	Upload(ctx context.Context, path string, contentType string, data []byte) error
	PublicURL(path string) string
}

// BucketEnsurer is implemented by object stores that can create their bucket
// on first use.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// ToolStore reads the capture worklist and writes back screenshot URL lists.
type ToolStore interface {
	ListTargets(ctx context.Context, limit int) ([]Target, error)
	GetTarget(ctx context.Context, toolID string) (Target, error)
	UpdateScreenshots(ctx context.Context, toolID string, urls []string) error
}

// Gateway persists one target's transcoded assets and updates its record.
type Gateway interface {
	Persist(ctx context.Context, toolID string, assets []TranscodedAsset) (ScreenshotSet, error)
}

// Publisher pushes per-target completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Prober performs a cheap reachability check before browser time is spent.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

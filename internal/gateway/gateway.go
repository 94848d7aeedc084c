// Package gateway persists transcoded screenshots and updates tool records.
package gateway

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
)

// Config controls object naming.
type Config struct {
	PathPrefix string
}

// Gateway uploads assets under deterministic per-tool keys and writes the
// resulting public URL list back to the tool record in one update.
type Gateway struct {
	objects capture.ObjectStore
	tools   capture.ToolStore
	clock   capture.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Gateway.
func New(
	objects capture.ObjectStore,
	tools capture.ToolStore,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
) *Gateway {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "tools"
	}
	return &Gateway{
		objects: objects,
		tools:   tools,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// ObjectPath returns the deterministic storage key for a region's asset.
// Re-runs of the same tool overwrite these keys instead of accumulating
// orphaned objects.
func (g *Gateway) ObjectPath(toolID string, asset capture.TranscodedAsset) string {
	ext := "jpg"
	if asset.ContentType != "image/jpeg" {
		ext = "png"
	}
	return fmt.Sprintf("%s/%s/%s.%s", g.cfg.PathPrefix, toolID, asset.Region, ext)
}

// Persist uploads every asset and updates the tool record with whichever
// URLs succeeded, in fixed region order. A failed region upload is logged
// and skipped; only a run where every upload failed is an error.
func (g *Gateway) Persist(
	ctx context.Context,
	toolID string,
	assets []capture.TranscodedAsset,
) (capture.ScreenshotSet, error) {
	if len(assets) == 0 {
		return capture.ScreenshotSet{}, fmt.Errorf("no assets to persist for tool %s", toolID)
	}

	ordered := make([]capture.TranscodedAsset, len(assets))
	copy(ordered, assets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Region.Priority() < ordered[j].Region.Priority()
	})

	version := g.clock.Now()
	var urls []string
	var lastErr error
	for _, asset := range ordered {
		path := g.ObjectPath(toolID, asset)
		if err := g.objects.Upload(ctx, path, asset.ContentType, asset.Bytes); err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", capture.ErrUpload, path, err)
			g.logger.Warn("region upload failed",
				zap.String("tool_id", toolID),
				zap.String("region", string(asset.Region)),
				zap.Error(err),
			)
			continue
		}
		urls = append(urls, fmt.Sprintf("%s?v=%d", g.objects.PublicURL(path), version.Unix()))
	}

	if len(urls) == 0 {
		return capture.ScreenshotSet{}, fmt.Errorf("all uploads failed for tool %s: %w", toolID, lastErr)
	}

	if err := g.tools.UpdateScreenshots(ctx, toolID, urls); err != nil {
		return capture.ScreenshotSet{}, fmt.Errorf("update tool %s screenshots: %w", toolID, err)
	}

	if lastErr != nil {
		g.logger.Warn("persisted partial screenshot set",
			zap.String("tool_id", toolID),
			zap.Int("uploaded", len(urls)),
			zap.Int("requested", len(ordered)),
		)
	}

	return capture.ScreenshotSet{
		ToolID:  toolID,
		URLs:    urls,
		Version: version,
	}, nil
}

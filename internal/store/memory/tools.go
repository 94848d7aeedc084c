// Package memory provides an in-memory tool store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/toolhub/shotpipe/internal/capture"
)

// ToolStore keeps targets and screenshot URL lists in maps.
type ToolStore struct {
	mu          sync.RWMutex
	targets     []capture.Target
	screenshots map[string][]string
}

// NewToolStore creates a ToolStore seeded with the given targets.
func NewToolStore(targets ...capture.Target) *ToolStore {
	return &ToolStore{
		targets:     append([]capture.Target(nil), targets...),
		screenshots: make(map[string][]string),
	}
}

// ListTargets returns up to limit targets; limit <= 0 means all.
func (s *ToolStore) ListTargets(_ context.Context, limit int) ([]capture.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]capture.Target(nil), s.targets...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetTarget finds a target by tool ID.
func (s *ToolStore) GetTarget(_ context.Context, toolID string) (capture.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.targets {
		if t.ToolID == toolID {
			return t, nil
		}
	}
	return capture.Target{}, fmt.Errorf("tool %s not found", toolID)
}

// UpdateScreenshots replaces the URL list for a tool.
func (s *ToolStore) UpdateScreenshots(_ context.Context, toolID string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots[toolID] = append([]string(nil), urls...)
	return nil
}

// Screenshots returns the stored URL list for a tool.
func (s *ToolStore) Screenshots(toolID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.screenshots[toolID]...)
}

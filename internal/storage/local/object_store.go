// Package local implements a local filesystem object store for development.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem object store.
type Config struct {
	// BaseDir is the root directory where objects will be stored.
	BaseDir string `mapstructure:"base_dir"`
}

// ObjectStore writes screenshot objects to the local filesystem.
type ObjectStore struct {
	baseDir string
}

// New creates a filesystem-backed object store, verifying the base
// directory exists and is writable.
func New(cfg Config) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err != nil && os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &ObjectStore{baseDir: cfg.BaseDir}, nil
}

// EnsureBucket is satisfied by the base directory existing.
func (s *ObjectStore) EnsureBucket(_ context.Context) error {
	return nil
}

// Upload writes data to a file under the base directory, overwriting any
// previous object at the same path.
func (s *ObjectStore) Upload(_ context.Context, path string, _ string, data []byte) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}

	fullPath := filepath.Join(s.baseDir, path)

	// Reject path traversal out of the base directory.
	cleanBase := filepath.Clean(s.baseDir)
	cleanFull := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// PublicURL returns a file:// URI for the object.
func (s *ObjectStore) PublicURL(path string) string {
	return fmt.Sprintf("file://%s", filepath.Join(s.baseDir, path))
}

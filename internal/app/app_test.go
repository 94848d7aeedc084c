package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/config"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.DB.Backend = "memory"
	return cfg
}

func TestNew_MemoryBackends(t *testing.T) {
	a, err := New(context.Background(), baseConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Runner())
	require.NotNil(t, a.Tools())
	require.NotNil(t, a.Objects())
}

func TestNew_LocalStorageCreatesDir(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Backend = "local"
	cfg.Storage.BaseDir = filepath.Join(t.TempDir(), "shots")

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.DirExists(t, cfg.Storage.BaseDir)
}

func TestNew_UnknownStorageBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Backend = "s3"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown storage backend")
}

func TestNew_UnknownDBBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DB.Backend = "mysql"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown db backend")
}

func TestNew_FallbackRequiresValidConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Fallback.BaseURL = "https://render.example.com"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	a.Close()
}

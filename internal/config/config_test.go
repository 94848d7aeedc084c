package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 1440, cfg.Capture.ViewportWidth)
	require.Equal(t, 900, cfg.Capture.ViewportHeight)
	require.Equal(t, 85, cfg.Capture.JPEGQuality)
	require.InDelta(t, 0.9, cfg.Dedupe.Threshold, 1e-9)
	require.InDelta(t, 0.7, cfg.Dedupe.HashWeight, 1e-9)
	require.Equal(t, 5, cfg.Batch.Size)
	require.Equal(t, 1, cfg.Batch.Workers)
	require.Equal(t, 90, cfg.Batch.TargetTimeoutSec)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "tools", cfg.Storage.PathPrefix)
	require.Equal(t, "memory", cfg.DB.Backend)
	require.Equal(t, 64, cfg.Queue.Depth)
	require.True(t, cfg.Probe.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
batch:
  size: 3
  workers: 2
storage:
  backend: memory
dedupe:
  threshold: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3, cfg.Batch.Size)
	require.Equal(t, 2, cfg.Batch.Workers)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.InDelta(t, 0.8, cfg.Dedupe.Threshold, 1e-9)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SHOTPIPE_SERVER_PORT", "7070")
	t.Setenv("SHOTPIPE_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("gcs requires bucket", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Backend = "gcs"
		cfg.Storage.Bucket = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		cfg := base()
		cfg.DB.Backend = "postgres"
		cfg.DB.DSN = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("unknown storage backend", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Backend = "s3"
		require.Error(t, cfg.Validate())
	})

	t.Run("workers bounded", func(t *testing.T) {
		cfg := base()
		cfg.Batch.Workers = 9
		require.Error(t, cfg.Validate())
	})

	t.Run("threshold range", func(t *testing.T) {
		cfg := base()
		cfg.Dedupe.Threshold = 1.5
		require.Error(t, cfg.Validate())
	})

	t.Run("pubsub needs topic", func(t *testing.T) {
		cfg := base()
		cfg.PubSub.Enabled = true
		cfg.PubSub.ProjectID = "proj"
		cfg.PubSub.TopicName = ""
		require.Error(t, cfg.Validate())
	})
}

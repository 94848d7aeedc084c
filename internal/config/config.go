// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Dedupe   DedupeConfig   `mapstructure:"dedupe"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CaptureConfig governs the headless-browser capture engine.
type CaptureConfig struct {
	ViewportWidth   int    `mapstructure:"viewport_width"`
	ViewportHeight  int    `mapstructure:"viewport_height"`
	UserAgent       string `mapstructure:"user_agent"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	SettleMs        int    `mapstructure:"settle_ms"`
	ScrollSettleMs  int    `mapstructure:"scroll_settle_ms"`
	FullpageQuality int    `mapstructure:"fullpage_quality"`
	JPEGQuality     int    `mapstructure:"jpeg_quality"`
}

// DedupeConfig tunes the duplicate detector. These are empirically tuned
// defaults, not derived values.
type DedupeConfig struct {
	Threshold    float64 `mapstructure:"threshold"`
	HashWeight   float64 `mapstructure:"hash_weight"`
	LengthWeight float64 `mapstructure:"length_weight"`
}

// FallbackConfig configures the third-party render API fallback.
type FallbackConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Width             int     `mapstructure:"width"`
	MinWidth          int     `mapstructure:"min_width"`
	WidthStep         int     `mapstructure:"width_step"`
	AttemptTimeoutSec int     `mapstructure:"attempt_timeout_seconds"`
	RequestsPerSec    float64 `mapstructure:"requests_per_second"`
}

// BatchConfig governs the batch runner.
type BatchConfig struct {
	Size             int    `mapstructure:"size"`
	PauseSec         int    `mapstructure:"pause_seconds"`
	TargetTimeoutSec int    `mapstructure:"target_timeout_seconds"`
	TotalBudgetSec   int    `mapstructure:"total_budget_seconds"`
	Limit            int    `mapstructure:"limit"`
	Workers          int    `mapstructure:"workers"`
	ResultTopic      string `mapstructure:"result_topic"`
}

// ProbeConfig controls the preflight reachability check.
type ProbeConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TimeoutSec int  `mapstructure:"timeout_seconds"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // gcs, local, memory
	Bucket        string `mapstructure:"bucket"`
	ProjectID     string `mapstructure:"project_id"`
	PathPrefix    string `mapstructure:"path_prefix"`
	BaseDir       string `mapstructure:"base_dir"`
	CacheMaxAgeHr int    `mapstructure:"cache_max_age_hours"`
}

// DBConfig controls access to the relational tool store.
type DBConfig struct {
	Backend string `mapstructure:"backend"` // postgres, memory
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// PubSubConfig holds metadata for result-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig bounds the on-demand capture request queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("capture.viewport_width", 1440)
	v.SetDefault("capture.viewport_height", 900)
	v.SetDefault("capture.user_agent", "shotpipe/1.0 (+https://github.com/toolhub/shotpipe)")
	v.SetDefault("capture.nav_timeout_seconds", 30)
	v.SetDefault("capture.settle_ms", 1200)
	v.SetDefault("capture.scroll_settle_ms", 600)
	v.SetDefault("capture.fullpage_quality", 90)
	v.SetDefault("capture.jpeg_quality", 85)

	v.SetDefault("dedupe.threshold", 0.9)
	v.SetDefault("dedupe.hash_weight", 0.7)
	v.SetDefault("dedupe.length_weight", 0.3)

	v.SetDefault("fallback.width", 1440)
	v.SetDefault("fallback.min_width", 800)
	v.SetDefault("fallback.width_step", 200)
	v.SetDefault("fallback.attempt_timeout_seconds", 10)
	v.SetDefault("fallback.requests_per_second", 1.0)

	v.SetDefault("batch.size", 5)
	v.SetDefault("batch.pause_seconds", 2)
	v.SetDefault("batch.target_timeout_seconds", 90)
	v.SetDefault("batch.total_budget_seconds", 0)
	v.SetDefault("batch.limit", 0)
	v.SetDefault("batch.workers", 1)
	v.SetDefault("batch.result_topic", "screenshot-results")

	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.timeout_seconds", 10)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.path_prefix", "tools")
	v.SetDefault("storage.base_dir", "data/screenshots")
	v.SetDefault("storage.cache_max_age_hours", 720)

	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.table", "tools")

	v.SetDefault("pubsub.enabled", false)

	v.SetDefault("queue.depth", 64)

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Capture.ViewportWidth <= 0 || c.Capture.ViewportHeight <= 0 {
		return fmt.Errorf("capture viewport dimensions must be > 0")
	}
	if c.Dedupe.Threshold <= 0 || c.Dedupe.Threshold > 1 {
		return fmt.Errorf("dedupe.threshold must be in (0, 1]")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be > 0")
	}
	if c.Batch.Workers < 1 || c.Batch.Workers > 5 {
		return fmt.Errorf("batch.workers must be between 1 and 5")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.DB.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db backend %q", c.DB.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

// NavTimeout returns the capture navigation timeout as a duration.
func (c CaptureConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Settle returns the post-navigation settle delay.
func (c CaptureConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// ScrollSettle returns the per-offset settle delay.
func (c CaptureConfig) ScrollSettle() time.Duration {
	return time.Duration(c.ScrollSettleMs) * time.Millisecond
}

// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
	"github.com/toolhub/shotpipe/internal/clock/system"
	"github.com/toolhub/shotpipe/internal/config"
	"github.com/toolhub/shotpipe/internal/engine"
	"github.com/toolhub/shotpipe/internal/fallback"
	"github.com/toolhub/shotpipe/internal/gateway"
	"github.com/toolhub/shotpipe/internal/probe"
	"github.com/toolhub/shotpipe/internal/progress"
	"github.com/toolhub/shotpipe/internal/progress/sinks"
	pubsubpub "github.com/toolhub/shotpipe/internal/publisher/pubsub"
	"github.com/toolhub/shotpipe/internal/runner"
	gcsstore "github.com/toolhub/shotpipe/internal/storage/gcs"
	localstore "github.com/toolhub/shotpipe/internal/storage/local"
	memobjects "github.com/toolhub/shotpipe/internal/storage/memory"
	memtools "github.com/toolhub/shotpipe/internal/store/memory"
	pgtools "github.com/toolhub/shotpipe/internal/store/postgres"
	"github.com/toolhub/shotpipe/internal/transcode"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup and handed to the commands that need it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	objects   capture.ObjectStore
	tools     capture.ToolStore
	engine    *engine.Chromedp
	runner    *runner.Runner
	publisher *pubsubpub.Publisher
	hub       *progress.Hub

	pgStore *pgtools.ToolStore
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Tools exposes the configured tool store.
func (a *App) Tools() capture.ToolStore { return a.tools }

// Objects exposes the configured object store.
func (a *App) Objects() capture.ObjectStore { return a.objects }

// Runner returns the batch runner wired with all pipeline components.
func (a *App) Runner() *runner.Runner { return a.runner }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// New creates and initializes an App from configuration. It fails fast if
// any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if err := a.initObjectStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initToolStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}

	detector := capture.Detector{
		Threshold:    cfg.Dedupe.Threshold,
		HashWeight:   cfg.Dedupe.HashWeight,
		LengthWeight: cfg.Dedupe.LengthWeight,
	}

	eng, err := engine.New(engine.Config{
		ViewportWidth:     cfg.Capture.ViewportWidth,
		ViewportHeight:    cfg.Capture.ViewportHeight,
		UserAgent:         cfg.Capture.UserAgent,
		NavigationTimeout: cfg.Capture.NavTimeout(),
		SettleDelay:       cfg.Capture.Settle(),
		ScrollSettle:      cfg.Capture.ScrollSettle(),
		FullpageQuality:   cfg.Capture.FullpageQuality,
	}, detector, logger)
	if err != nil {
		return nil, fmt.Errorf("init capture engine: %w", err)
	}
	a.engine = eng

	var renderer capture.FallbackRenderer
	if cfg.Fallback.BaseURL != "" {
		r, err := fallback.New(fallback.Config{
			BaseURL:        cfg.Fallback.BaseURL,
			Width:          cfg.Fallback.Width,
			MinWidth:       cfg.Fallback.MinWidth,
			WidthStep:      cfg.Fallback.WidthStep,
			AttemptTimeout: time.Duration(cfg.Fallback.AttemptTimeoutSec) * time.Second,
			RequestsPerSec: cfg.Fallback.RequestsPerSec,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init fallback renderer: %w", err)
		}
		renderer = r
	} else {
		logger.Info("no fallback base URL configured; fallback path disabled")
	}

	var prober capture.Prober
	if cfg.Probe.Enabled {
		prober = probe.New(probe.Config{
			UserAgent: cfg.Capture.UserAgent,
			Timeout:   time.Duration(cfg.Probe.TimeoutSec) * time.Second,
		})
	}

	clock := system.New()
	gw := gateway.New(a.objects, a.tools, clock, gateway.Config{
		PathPrefix: cfg.Storage.PathPrefix,
	}, logger)

	var publisher capture.Publisher
	if a.publisher != nil {
		publisher = a.publisher
	}

	a.runner = runner.New(
		eng,
		renderer,
		transcode.NewJPEG(cfg.Capture.JPEGQuality, logger),
		gw,
		a.tools,
		prober,
		publisher,
		clock,
		runner.Config{
			BatchSize:     cfg.Batch.Size,
			BatchPause:    time.Duration(cfg.Batch.PauseSec) * time.Second,
			TargetTimeout: time.Duration(cfg.Batch.TargetTimeoutSec) * time.Second,
			TotalBudget:   time.Duration(cfg.Batch.TotalBudgetSec) * time.Second,
			Limit:         cfg.Batch.Limit,
			Workers:       cfg.Batch.Workers,
			ResultTopic:   cfg.Batch.ResultTopic,
		},
		logger,
	)

	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	if promSink, err := sinks.NewPrometheusSink(nil); err != nil {
		// Collectors survive across App instances within one process.
		logger.Warn("progress collectors already registered, skipping prometheus sink", zap.Error(err))
	} else {
		hubSinks = append(hubSinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
	a.runner.SetProgress(a.hub)

	return a, nil
}

func (a *App) initObjectStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init GCS client: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{
			Bucket:       a.cfg.Storage.Bucket,
			ProjectID:    a.cfg.Storage.ProjectID,
			CacheControl: time.Duration(a.cfg.Storage.CacheMaxAgeHr) * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("init GCS object store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		a.logger.Info("using GCS object store", zap.String("bucket", a.cfg.Storage.Bucket))
		a.objects = store
	case "local":
		if err := os.MkdirAll(a.cfg.Storage.BaseDir, 0o750); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
		store, err := localstore.New(localstore.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local object store: %w", err)
		}
		a.logger.Info("using local object store", zap.String("dir", a.cfg.Storage.BaseDir))
		a.objects = store
	case "memory":
		a.logger.Info("using in-memory object store; screenshots are not persisted")
		a.objects = memobjects.NewObjectStore()
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initToolStore(ctx context.Context) error {
	switch a.cfg.DB.Backend {
	case "postgres":
		store, err := pgtools.NewToolStore(ctx, pgtools.Config{
			DSN:   a.cfg.DB.DSN,
			Table: a.cfg.DB.Table,
		})
		if err != nil {
			return fmt.Errorf("init postgres tool store: %w", err)
		}
		a.logger.Info("using postgres tool store", zap.String("table", a.cfg.DB.Table))
		a.pgStore = store
		a.tools = store
	case "memory":
		a.logger.Info("using in-memory tool store")
		a.tools = memtools.NewToolStore()
	default:
		return fmt.Errorf("unknown db backend %q", a.cfg.DB.Backend)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := pubsubpub.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.logger.Info("publishing results to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
	a.publisher = pub
	return nil
}

// Close shuts down all services held by the App.
func (a *App) Close() {
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	// Sync failures on stderr are expected on some platforms.
	_ = a.logger.Sync()
}

// Package app builds and owns the long-lived crawler services, acting as the
// dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/kenyalaw-crawler/internal/api"
	"github.com/JakeFAU/kenyalaw-crawler/internal/clock/system"
	"github.com/JakeFAU/kenyalaw-crawler/internal/config"
	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/dispatcher"
	"github.com/JakeFAU/kenyalaw-crawler/internal/events"
	"github.com/JakeFAU/kenyalaw-crawler/internal/events/sinks"
	"github.com/JakeFAU/kenyalaw-crawler/internal/fetcher/backoff"
	collyfetcher "github.com/JakeFAU/kenyalaw-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/kenyalaw-crawler/internal/hash/sha256"
	"github.com/JakeFAU/kenyalaw-crawler/internal/id/uuid"
	"github.com/JakeFAU/kenyalaw-crawler/internal/listing"
	"github.com/JakeFAU/kenyalaw-crawler/internal/metrics"
	"github.com/JakeFAU/kenyalaw-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/kenyalaw-crawler/internal/progress"
	pubsubpublisher "github.com/JakeFAU/kenyalaw-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/kenyalaw-crawler/internal/report"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/gcs"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/local"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/memory"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/postgres"
	"github.com/JakeFAU/kenyalaw-crawler/internal/worker"
)

// App holds every service a crawl needs. It is built once per command and
// closed when the command returns.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	hub     *events.Hub

	progress   crawler.ProgressStore
	pgProgress *postgres.ProgressStore
	blobs      crawler.BlobStore
	gcsStore   *gcs.BlobStore
	publisher  *pubsubpublisher.Publisher

	engine *crawler.Engine
	server *api.Server

	started atomic.Bool
	closed  atomic.Bool
}

// New builds the services described by cfg. On failure everything opened so
// far is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New(nil)}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.logger.Info("Building application services",
		zap.String("output_dir", cfg.Output.Dir),
		zap.String("progress_backend", cfg.Progress.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(a.metrics.Registry())
	if err != nil {
		return nil, fmt.Errorf("prometheus event sink: %w", err)
	}
	a.hub = events.NewHub(events.Config{Logger: logger.Named("events")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)

	if err := a.setupProgress(ctx); err != nil {
		return nil, err
	}
	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.setupEngine(ctx); err != nil {
		return nil, err
	}
	if cfg.Server.Addr != "" {
		a.server = api.NewServer(a.progress, a.engine, api.Options{
			APIKey:         cfg.Server.APIKey,
			RequestTimeout: cfg.Server.RequestTimeout,
			Ready:          a.ready,
			Metrics:        a.metrics,
			Logger:         logger,
		})
	}
	a.logger.Info("Application services initialized")
	return a, nil
}

func (a *App) outputPath(name string) string {
	return filepath.Join(a.cfg.Output.Dir, name)
}

func (a *App) setupProgress(ctx context.Context) error {
	fresh := !a.cfg.Crawler.Resume
	switch a.cfg.Progress.Backend {
	case config.BackendPostgres:
		pgCfg := a.cfg.Progress.Postgres
		pgCfg.Fresh = fresh
		store, err := postgres.NewProgressStore(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("postgres progress store: %w", err)
		}
		a.pgProgress, a.progress = store, store
		a.logger.Info("Using Postgres progress store", zap.String("checkpoint", pgCfg.Checkpoint))
	default:
		path := a.outputPath(a.cfg.Output.ProgressFile)
		if fresh {
			a.progress = progress.OpenFresh(path, a.logger.Named("progress"))
		} else {
			a.progress = progress.Open(path, a.logger.Named("progress"))
		}
		a.logger.Info("Using progress file", zap.String("path", path), zap.Bool("fresh", fresh))
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcs.Open(ctx, a.cfg.Storage.GCS, a.logger)
		if err != nil {
			return fmt.Errorf("gcs blob store: %w", err)
		}
		a.gcsStore, a.blobs = store, store
		a.logger.Info("Using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
	case config.BackendMemory:
		a.blobs = memory.NewBlobStore()
		a.logger.Info("Using in-memory storage backend")
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		if err := store.EnsureDirs(worker.CourtDirectories()...); err != nil {
			return fmt.Errorf("create court directories: %w", err)
		}
		a.blobs = store
		a.logger.Info("Using local storage backend", zap.String("path", a.cfg.Output.Dir))
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		a.logger.Debug("Pub/Sub notifications disabled")
		return nil
	}
	pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.Config, a.logger)
	if err != nil {
		return fmt.Errorf("pubsub publisher: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupEngine(ctx context.Context) error {
	clock := system.New()
	random := crawler.NewRandom(a.cfg.Crawler.Seed)

	errLog, err := report.NewErrorLog(a.outputPath(a.cfg.Output.ErrorLog), clock, a.progress, a.logger)
	if err != nil {
		return err
	}
	csvSink, err := report.NewMetadataCSV(a.outputPath(a.cfg.Output.MetadataFile))
	if err != nil {
		return err
	}
	var mirrors []crawler.MetadataSink
	if a.pgProgress != nil && a.cfg.Progress.Postgres.MirrorMetadata {
		mirror, err := a.pgProgress.MetadataStore(ctx, a.cfg.Progress.Postgres.AutoMigrate)
		if err != nil {
			return err
		}
		mirrors = append(mirrors, mirror)
		a.logger.Info("Mirroring metadata to Postgres")
	}
	metadata := report.NewMetadataFanout(csvSink, a.logger, mirrors...)

	limiter := ratelimit.New(a.cfg.HTTP.RateLimit, a.metrics.ObserveRateLimitDelay)
	fetcher := backoff.New(
		collyfetcher.New(collyfetcher.Config{
			Timeout:     a.cfg.HTTP.Timeout,
			MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
		}),
		a.cfg.HTTP.Retry,
		backoff.WithLimiter(limiter),
		backoff.WithRandom(random),
		backoff.WithClock(clock),
		backoff.WithMetrics(a.metrics),
		backoff.WithEmitter(a.hub),
		backoff.WithErrorSink(errLog),
		backoff.WithLogger(a.logger),
	)

	enum, err := listing.New(a.cfg.Site, fetcher, a.progress, errLog, a.logger)
	if err != nil {
		return fmt.Errorf("listing enumerator: %w", err)
	}

	deps := worker.Deps{
		Fetcher:  fetcher,
		Progress: a.progress,
		Errors:   errLog,
		Metadata: metadata,
		Blobs:    a.blobs,
		Hasher:   sha256.New(),
		Clock:    clock,
		Random:   random,
		Metrics:  a.metrics,
		Logger:   a.logger,
	}
	workerCfg := worker.Config{
		MinDelay:    a.cfg.Crawler.MinDelay,
		MaxDelay:    a.cfg.Crawler.MaxDelay,
		ContentType: a.cfg.Storage.ContentType,
		Readability: a.cfg.Crawler.Readability,
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
		workerCfg.Topic = a.cfg.PubSub.Topic
	}
	proc, err := worker.New(deps, workerCfg)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	a.engine, err = crawler.NewEngine(
		crawler.EngineConfig{
			MaxPages:    a.cfg.Crawler.MaxPages,
			StartPage:   a.cfg.Crawler.StartPage,
			Resume:      a.cfg.Crawler.Resume,
			MinDelay:    a.cfg.Crawler.MinDelay,
			MaxDelay:    a.cfg.Crawler.MaxDelay,
			DedupWindow: a.cfg.Crawler.DedupWindow,
		},
		enum,
		dispatcher.New(a.cfg.Crawler.Workers, a.logger),
		proc,
		a.progress,
		crawler.WithSummaryWriter(report.NewSummaryFile(a.outputPath(a.cfg.Output.SummaryFile))),
		crawler.WithErrorSink(errLog),
		crawler.WithEmitter(a.hub),
		crawler.WithClock(clock),
		crawler.WithIDGenerator(uuid.New()),
		crawler.WithRandom(random),
		crawler.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	a.logger.Info("Crawler configured",
		zap.Int("workers", a.cfg.Crawler.Workers),
		zap.Int("max_pages", a.cfg.Crawler.MaxPages),
		zap.Int("start_page", a.cfg.Crawler.StartPage),
		zap.Bool("resume", a.cfg.Crawler.Resume),
		zap.Float64("rps", a.cfg.HTTP.RateLimit.RPS),
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Progress returns the checkpoint store in use.
func (a *App) Progress() crawler.ProgressStore {
	return a.progress
}

// Engine returns the configured crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Run crawls until the engine finishes or ctx ends. When a status server is
// configured it runs alongside the crawl and stops once the crawl returns.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	a.started.Store(true)
	if a.server == nil {
		return a.engine.Run(ctx)
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, gctx := errgroup.WithContext(serverCtx)

	var summary crawler.Summary
	g.Go(func() error {
		defer stopServer()
		var err error
		summary, err = a.engine.Run(gctx)
		return err
	})
	g.Go(func() error {
		return a.server.ListenAndServe(gctx, a.cfg.Server.Addr)
	})
	err := g.Wait()
	return summary, err
}

func (a *App) ready() error {
	if a.closed.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Close flushes progress when a crawl ran and releases every client. It is safe to call more
// than once.
func (a *App) Close(ctx context.Context) {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.logger.Info("Shutting down application services")
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("Event hub close failed", zap.Error(err))
		}
	}
	if a.started.Load() {
		if err := a.progress.Flush(ctx); err != nil {
			a.logger.Warn("Final progress flush failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Pub/Sub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("GCS client close failed", zap.Error(err))
		}
	}
	if a.pgProgress != nil {
		a.pgProgress.Close()
	}
	// Sync fails on non-file sinks like stderr; nothing useful can be done then.
	_ = a.logger.Sync()
}

// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the crawl and schema commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/config"
	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	pubmem "github.com/JakeFAU/dealnews-crawler/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/dealnews-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/dealnews-crawler/internal/snapshot"
	"github.com/JakeFAU/dealnews-crawler/internal/storage/fallback"
	"github.com/JakeFAU/dealnews-crawler/internal/storage/gcs"
	"github.com/JakeFAU/dealnews-crawler/internal/storage/local"
	"github.com/JakeFAU/dealnews-crawler/internal/storage/postgres"
	"github.com/JakeFAU/dealnews-crawler/internal/telemetry"
)

// App holds the shared, long-lived services: the store gateway and its insert
// engines, the snapshot store, the announcement publisher, and the fallback
// file. It is built once per command and closed by the root command.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	gateway    *postgres.Gateway
	deals      *postgres.DealStore
	satellites *postgres.SatelliteStore
	snapshots  *snapshot.Store
	publisher  crawler.Publisher
	fallback   *fallback.Sink

	closers []func() error
}

// Option customizes service construction, mostly for tests.
type Option func(*options)

type options struct {
	gatewayOpts []postgres.Option
	blobs       crawler.BlobStore
	publisher   crawler.Publisher
}

// WithGatewayOptions forwards options to the store gateway.
func WithGatewayOptions(opts ...postgres.Option) Option {
	return func(o *options) { o.gatewayOpts = append(o.gatewayOpts, opts...) }
}

// WithBlobStore replaces the configured snapshot backend.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithPublisher replaces the configured announcement publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// NewApp creates and initializes the services described by cfg. An
// unreachable store is not an error: the gateway degrades to disabled and
// records go to the fallback file.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing application services")

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: telemetry.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	a.gateway = postgres.NewGateway(storeConfig(cfg.Store), logger, o.gatewayOpts...)
	a.gateway.Open(ctx)
	a.closers = append(a.closers, func() error { a.gateway.Close(); return nil })
	if !a.gateway.Disabled() {
		if err := a.gateway.EnsureSchema(ctx); err != nil {
			logger.Error("schema setup failed; continuing with store disabled", zap.Error(err))
			a.gateway.Disable("schema setup failed")
		}
	}
	a.deals = postgres.NewDealStore(a.gateway, logger)
	a.satellites = postgres.NewSatelliteStore(a.gateway, logger)

	blobs := o.blobs
	if blobs == nil && cfg.Snapshot.Enabled {
		b, err := a.buildBlobStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		blobs = b
	}
	a.snapshots = snapshot.New(blobs, snapshot.Config{
		Enabled: cfg.Snapshot.Enabled,
		Buffer:  cfg.Snapshot.Buffer,
	}, logger)
	a.closers = append(a.closers, func() error { a.snapshots.Close(); return nil })

	pub := o.publisher
	if pub == nil {
		p, err := a.buildPublisher(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		pub = p
	}
	a.publisher = pub

	if cfg.Fallback.Enabled {
		sink, err := fallback.Open(cfg.Fallback.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open fallback: %w", err)
		}
		a.fallback = sink
		a.closers = append(a.closers, sink.Close)
	}

	logger.Info("application services initialized",
		zap.Bool("store_disabled", a.gateway.Disabled()),
		zap.Bool("snapshots", a.snapshots.Enabled()),
		zap.Bool("fallback", a.fallback != nil),
		zap.String("announce", cfg.Announce.Provider),
	)
	return a, nil
}

func storeConfig(c config.StoreConfig) postgres.Config {
	return postgres.Config{
		Host:           c.Host,
		Port:           c.Port,
		User:           c.User,
		Password:       c.Password,
		Database:       c.Database,
		SSLMode:        c.SSLMode,
		ConnectTimeout: c.ConnectTimeout,
		MaxConns:       c.MaxConns,
		Disabled:       c.Disabled,
	}
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Snapshot.Backend {
	case config.BackendGCS:
		b, err := gcs.New(ctx, gcs.Config{Bucket: a.cfg.Snapshot.GCSBucket, Prefix: a.cfg.Snapshot.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshots: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		a.logger.Info("using gcs snapshot backend", zap.String("bucket", a.cfg.Snapshot.GCSBucket))
		return b, nil
	default:
		b, err := local.New(local.Config{BaseDir: a.cfg.Snapshot.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshots: %w", err)
		}
		a.logger.Info("using local snapshot backend", zap.String("dir", a.cfg.Snapshot.Dir))
		return b, nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Announce.Provider {
	case config.ProviderPubSub:
		p, err := pubsubpub.New(ctx, a.cfg.Announce.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case config.ProviderMemory:
		p := pubmem.New()
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return nil, nil
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the services were built from.
func (a *App) Config() config.Config { return a.cfg }

// Gateway exposes the store gateway.
func (a *App) Gateway() *postgres.Gateway { return a.gateway }

// Publisher returns the announcement publisher, nil when announcements are off.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// EnsureSchema creates the tables and indices, failing when the store is not
// reachable.
func (a *App) EnsureSchema(ctx context.Context) error {
	if a.gateway.Disabled() {
		return fmt.Errorf("ensure schema: %w", postgres.ErrDisabled)
	}
	if err := a.gateway.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close shuts services down in reverse order of construction. Queued
// snapshots are flushed before the store and the fallback file close.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

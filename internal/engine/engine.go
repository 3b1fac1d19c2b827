// Package engine wires configuration into a ready-to-use detection and
// resolution pipeline shared by the CLI and the HTTP API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/detection"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/enrichment"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/patterns"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms/registry"
)

type Engine struct {
	Config    *config.Config
	Logger    *logger.Logger
	Telemetry telemetry.Recorder
	Registry  *patterns.Registry
	Scanner   *detection.Scanner
	Clients   *platforms.ClientMap
	Cache     *cache.Cache
	Enricher  *enrichment.Enricher

	newClient platforms.ClientFactory
	store     cache.SnapshotStore
}

// Option overrides a component, mostly for tests.
type Option func(*Engine)

func WithClients(clients *platforms.ClientMap) Option {
	return func(e *Engine) { e.Clients = clients }
}

func WithClientFactory(f platforms.ClientFactory) Option {
	return func(e *Engine) { e.newClient = f }
}

func WithTelemetry(r telemetry.Recorder) Option {
	return func(e *Engine) { e.Telemetry = r }
}

// WithSnapshotStore replaces the Redis store built from the config.
func WithSnapshotStore(store cache.SnapshotStore) Option {
	return func(e *Engine) { e.store = store }
}

// New builds every component from cfg. A configured Redis that cannot be
// reached is logged and the cache runs in memory only.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	e := &Engine{
		Config:    cfg,
		Logger:    log.WithComponent("engine"),
		Registry:  patterns.Default(),
		newClient: registry.NewClient,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.Telemetry == nil {
		rec, err := telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		e.Telemetry = rec
	}

	if e.Clients == nil {
		clients, err := registry.BuildClientMap(cfg.Platforms)
		if err != nil {
			return nil, fmt.Errorf("failed to build platform clients: %w", err)
		}
		e.Clients = clients
	}

	if e.store == nil && cfg.Redis.Addr != "" {
		s, err := cache.NewRedisStore(cfg.Redis)
		if err != nil {
			e.Logger.Warnw("Cache snapshots disabled",
				"redis_addr", cfg.Redis.Addr,
				"error", err,
			)
		} else {
			e.store = s
		}
	}

	e.Scanner = detection.NewScanner(e.Registry, detection.WithContextWindow(cfg.Scanner.ContextWindow))
	e.Cache = cache.New(e.Clients, cache.Options{
		EntityTypes:    cfg.Cache.EntityTypes,
		MaxAge:         cfg.Cache.MaxAge,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		SafetyTimeout:  cfg.Cache.SafetyTimeout,
		Store:          e.store,
		Logger:         log,
		Recorder:       e.Telemetry,
	})
	e.Enricher = enrichment.New(e.Scanner, e.Cache, e.Clients, enrichment.Options{
		Concurrency:         cfg.Resolver.Concurrency,
		SearchTimeout:       cfg.Resolver.SearchTimeout,
		LiveSearch:          cfg.Resolver.LiveSearch,
		MinEntityNameLength: cfg.Scanner.MinEntityNameLength,
	})

	e.Logger.Infow("Engine initialized",
		"platforms", e.Clients.IDs(),
		"snapshots", e.store != nil,
		"live_search", cfg.Resolver.LiveSearch,
	)
	return e, nil
}

// Context attaches the telemetry recorder to ctx, and the engine logger
// unless a request-scoped one is already there.
func (e *Engine) Context(ctx context.Context) context.Context {
	ctx = logger.WithDefaultLogger(ctx, e.Logger)
	return telemetry.WithRecorder(ctx, e.Telemetry)
}

// Warm loads persisted snapshots and refreshes whatever is still stale.
func (e *Engine) Warm(ctx context.Context) error {
	ctx = e.Context(ctx)
	start := time.Now()
	loaded, err := e.Cache.LoadSnapshots(ctx)
	if err != nil {
		e.Logger.LogError(ctx, err, "cache.load_snapshots")
	}

	err = e.Cache.RefreshStale(ctx)

	e.Logger.LogDuration(ctx, "cache.warm", start,
		"snapshots_loaded", loaded,
		"entities", e.Cache.Stats().TotalEntities,
	)
	return err
}

// TestConnection tests a saved platform or the credentials in req.
func (e *Engine) TestConnection(ctx context.Context, req platforms.ConnectionTestRequest) platforms.ConnectionTestResponse {
	return platforms.TestPlatformConnection(e.Context(ctx), req, platforms.ConnectionDeps{
		Clients:   e.Clients,
		Settings:  e.Config.Platform,
		NewClient: e.newClient,
		Timeout:   e.Config.Resolver.ConnectionTimeout,
	})
}

// Close releases the snapshot store connection and flushes telemetry.
func (e *Engine) Close() error {
	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close snapshot store: %w", err))
		}
	}
	if err := e.Telemetry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

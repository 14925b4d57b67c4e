// Package app wires configuration, storage, datasources, servers and
// indexes into one runtime shared by the CLI, the daemon, the HTTP API and
// the MCP server.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/backend/bleveindex"
	"github.com/Aman-CERP/amansearch/internal/backend/database"
	"github.com/Aman-CERP/amansearch/internal/config"
	"github.com/Aman-CERP/amansearch/internal/datasource"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

// Options tune how an App is built.
type Options struct {
	// ConfigPath is the file that index changes are written to. Empty
	// disables persisting index changes.
	ConfigPath string

	// SkipLoad leaves datasource files unread and tracking untouched.
	SkipLoad bool

	// NoTelemetry disables query metrics.
	NoTelemetry bool

	Logger *slog.Logger
}

// App is a running search installation.
type App struct {
	Config      *config.Config
	DB          *store.DB
	Datasources *datasource.Registry
	Documents   map[string]*datasource.Documents
	Coordinator *index.Coordinator
	Manager     *index.Manager
	Cache       index.ResultCache
	Metrics     *telemetry.QueryMetrics

	configPath string
	closers    []func() error
	logger     *slog.Logger
}

// New opens the database, loads the datasources and builds every server and
// index of cfg. Unless opts.SkipLoad is set, tracking is synchronized with
// the loaded documents before New returns.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:      cfg,
		Datasources: datasource.NewRegistry(),
		Documents:   make(map[string]*datasource.Documents),
		configPath:  opts.ConfigPath,
		logger:      logger,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	sources := make([]index.FileSource, 0, len(cfg.Datasources))
	for _, dc := range cfg.Datasources {
		docs := datasource.NewDocuments(datasource.DocumentsConfig{
			ID:         dc.ID,
			Label:      dc.Label,
			Properties: dc.Properties,
			Bundles:    dc.Bundles,
			URLPattern: dc.URLPattern,
			PageSize:   dc.PageSize,
		})
		a.Datasources.Register(docs)
		a.Documents[dc.ID] = docs
		if len(dc.Files) > 0 {
			sources = append(sources, index.FileSource{Datasource: docs, Files: dc.Files})
		}
	}
	a.Coordinator = index.NewCoordinator(index.CoordinatorConfig{Sources: sources, Logger: logger})
	if !opts.SkipLoad {
		if err := a.Coordinator.LoadAll(ctx); err != nil {
			return nil, err
		}
	}

	backends := backend.NewRegistry()
	if err := database.Register(backends); err != nil {
		return nil, err
	}
	if err := bleveindex.Register(backends); err != nil {
		return nil, err
	}

	cache, err := a.buildCache(ctx)
	if err != nil {
		return nil, err
	}
	a.Cache = cache

	if !opts.NoTelemetry {
		ms, err := telemetry.NewSQLMetricsStore(ctx, db)
		if err != nil {
			return nil, err
		}
		a.Metrics = telemetry.NewQueryMetrics(ms)
		a.closers = append(a.closers, a.Metrics.Close)
	}

	mgr, err := index.NewManager(ctx, index.ManagerOptions{
		DB:          db,
		DataDir:     cfg.DataDir,
		Backends:    backends,
		Datasources: a.Datasources,
		Cache:       cache,
		Logger:      logger,
	}, cfg.Servers, cfg.Indexes)
	if err != nil {
		return nil, err
	}
	a.Manager = mgr
	a.closers = append(a.closers, mgr.Close)

	mgr.Subscribe()
	// Without loaded documents every tracked item would look deleted.
	if !opts.SkipLoad {
		if err := mgr.SyncTracking(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("app_ready",
		slog.String("driver", db.Dialect().Name()),
		slog.Int("servers", len(cfg.Servers)),
		slog.Int("indexes", len(cfg.Indexes)),
		slog.Int("datasources", len(cfg.Datasources)))
	return a, nil
}

func (a *App) buildCache(ctx context.Context) (index.ResultCache, error) {
	switch a.Config.Cache.Backend {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheRedis:
		rc := a.Config.Cache.Redis
		ttl, err := rc.TTLDuration()
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeConfigInvalid, "invalid redis ttl", err)
		}
		client, err := index.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		return index.NewRedisCache(client, ttl, a.logger), nil
	default:
		return index.NewLRUCache(a.Config.Cache.Size), nil
	}
}

// Index returns the index with the given ID.
func (a *App) Index(id string) (*index.Index, error) {
	return a.Manager.Index(id)
}

// ConfigPath returns the file index changes are written to.
func (a *App) ConfigPath() string { return a.configPath }

// SaveIndex applies the current configuration of idx and persists it to
// the config file.
func (a *App) SaveIndex(ctx context.Context, idx *index.Index) (*index.SaveResult, error) {
	res, err := idx.Save(ctx)
	if err != nil {
		return nil, err
	}
	ic := idx.Config()
	a.Config.SetIndex(ic)
	if a.configPath != "" {
		if err := config.SaveIndex(a.configPath, ic); err != nil {
			return res, amanerrors.New(amanerrors.ErrCodeConfigInvalid, "failed to persist index configuration", err)
		}
	}
	return res, nil
}

// Close releases everything New acquired, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

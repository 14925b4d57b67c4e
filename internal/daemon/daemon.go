package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/ui"
	"github.com/Aman-CERP/amansearch/internal/watcher"
)

const cronJobName = "index_cron"

// Daemon serves one App over a Unix socket while indexing on a schedule,
// reloading watched datasource files and checking consistency when idle.
type Daemon struct {
	cfg    Config
	app    *app.App
	logger *slog.Logger

	server      *Server
	scheduler   *Scheduler
	maintenance *MaintenanceManager
	lock        *InstanceLock

	mu          sync.RWMutex
	watcherType string
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// NewDaemon creates a daemon serving a. The daemon does not own a; the
// caller closes it after Start returns.
func NewDaemon(cfg Config, a *app.App, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if a == nil {
		return nil, errors.New("daemon requires an app")
	}
	d := &Daemon{cfg: cfg, app: a, logger: slog.Default(), watcherType: "disabled"}
	for _, opt := range opts {
		opt(d)
	}
	d.server = NewServer(cfg.SocketPath, cfg.Timeout, d.logger)
	d.server.SetHandler(d)
	d.scheduler = NewScheduler(d.logger)
	d.maintenance = NewMaintenanceManager(cfg.Maintenance, func(ctx context.Context) ([]app.CheckResult, error) {
		return a.Check(ctx, nil, cfg.Maintenance.Repair)
	}, d.logger)
	d.lock = NewInstanceLock(cfg.LockPath)
	return d, nil
}

// Start runs the daemon until ctx is cancelled. It fails with
// ErrAlreadyRunning when another daemon uses the same lock file.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = d.lock.Release() }()

	if err := WritePID(d.cfg.PIDPath); err != nil {
		return err
	}
	defer func() { _ = RemovePID(d.cfg.PIDPath) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.cfg.Schedule != "" {
		if err := d.scheduler.Add(cronJobName, d.cfg.Schedule, d.runCron); err != nil {
			return err
		}
	}
	d.scheduler.Start()
	defer d.scheduler.Stop(d.cfg.ShutdownGracePeriod)

	if d.cfg.Watch {
		stop, err := d.startWatcher(ctx)
		if err != nil {
			d.logger.Warn("watcher_start_failed", slog.String("error", err.Error()))
		} else {
			defer stop()
		}
	}

	d.maintenance.Start(ctx)
	defer d.maintenance.Stop()

	d.logger.Info("daemon_started",
		slog.String("socket", d.cfg.SocketPath),
		slog.String("schedule", d.cfg.Schedule),
		slog.Int("indexes", len(d.app.Manager.Indexes())))

	err := d.server.ListenAndServe(ctx)
	d.logger.Info("daemon_stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) runCron(ctx context.Context) error {
	counts, err := d.app.RunCron(ctx)
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		d.logger.Info("cron_indexed", slog.Int("items", total), slog.Int("indexes", len(counts)))
	}
	return err
}

// startWatcher reloads datasource files as they change. The returned
// function stops the watcher and waits for the event loop to exit.
func (d *Daemon) startWatcher(ctx context.Context) (func(), error) {
	paths := d.app.Coordinator.Paths()
	if len(paths) == 0 {
		return func() {}, nil
	}
	w := watcher.New(watcher.Options{Debounce: d.cfg.WatchDebounce})
	d.mu.Lock()
	d.watcherType = w.Mode()
	d.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx, paths); err != nil && ctx.Err() == nil {
			d.logger.Warn("watcher_stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case events, ok := <-w.Events():
				if !ok {
					return
				}
				if err := d.app.Coordinator.HandleEvents(ctx, events); err != nil {
					d.logger.Warn("reload_failed", slog.String("error", err.Error()))
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				d.logger.Warn("watcher_error", slog.String("error", err.Error()))
			case <-ctx.Done():
				return
			}
		}
	}()
	d.logger.Info("watcher_started", slog.String("mode", w.Mode()), slog.Int("files", len(paths)))

	return func() {
		_ = w.Close()
		wg.Wait()
	}, nil
}

// Search implements RequestHandler.
func (d *Daemon) Search(ctx context.Context, params SearchParams) (*app.SearchResponse, error) {
	d.maintenance.OnActivity()
	return d.app.Search(ctx, params.Index, &params.Query)
}

// Autocomplete implements RequestHandler.
func (d *Daemon) Autocomplete(ctx context.Context, params AutocompleteParams) ([]backend.Suggestion, error) {
	d.maintenance.OnActivity()
	return d.app.Autocomplete(ctx, params.Index, params.Input, params.Limit)
}

// Index implements RequestHandler. Without explicit indexes it runs one
// cron pass; otherwise it drains the named indexes up to Limit items.
func (d *Daemon) Index(ctx context.Context, params IndexParams) (*IndexResult, error) {
	d.maintenance.OnActivity()
	if len(params.Indexes) == 0 && params.Limit == 0 {
		counts, err := d.app.RunCron(ctx)
		if err != nil {
			return nil, err
		}
		res := &IndexResult{Indexed: counts, Remaining: d.remaining(ctx)}
		for _, n := range counts {
			res.Items += n
		}
		return res, nil
	}
	r := ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	res, err := d.app.IndexItems(ctx, r, params.Indexes, index.RunnerConfig{Limit: params.Limit})
	if err != nil {
		return nil, err
	}
	return &IndexResult{Items: res.Items, Remaining: res.Remaining}, nil
}

func (d *Daemon) remaining(ctx context.Context) int {
	total := 0
	for _, idx := range d.app.Manager.Indexes() {
		if st, err := idx.TrackingStatus(ctx); err == nil {
			total += st.Remaining
		}
	}
	return total
}

// Status implements RequestHandler.
func (d *Daemon) Status(ctx context.Context) (*StatusResult, error) {
	info, err := d.app.Status(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	res := &StatusResult{
		Watcher:  d.watcherType,
		Schedule: d.cfg.Schedule,
		Driver:   info.DatabaseDriver,
		DBSize:   info.DatabaseSize,
	}
	d.mu.RUnlock()
	if next, ok := d.scheduler.Next(cronJobName); ok {
		res.NextRun = next.Format(time.RFC3339)
	}
	if last, ok := d.scheduler.LastRun(cronJobName); ok {
		res.LastRun = last.Format(time.RFC3339)
	}
	if last, _ := d.maintenance.LastCheck(); !last.IsZero() {
		res.LastCheck = last.Format(time.RFC3339)
	}
	for _, st := range info.Indexes {
		res.Indexes = append(res.Indexes, IndexStatus{
			ID:        st.ID,
			Server:    st.Server,
			Status:    st.ServerStatus,
			Indexed:   st.Indexed,
			Total:     st.Total,
			ReadOnly:  st.ReadOnly,
			Disabled:  !st.Enabled,
			Remaining: st.Remaining(),
		})
		res.ItemsTotal += st.Total
	}
	return res, nil
}

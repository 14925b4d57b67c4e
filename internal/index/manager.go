package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/datasource"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/processor"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/tracker"
)

// ManagerOptions are the shared collaborators of all servers and indexes.
type ManagerOptions struct {
	// DB holds trackers and database backend tables (required).
	DB *store.DB

	// DataDir is where file-based backends keep their data.
	DataDir string

	// Backends builds server backends (required).
	Backends *backend.Registry

	// Processors defaults to processor.DefaultRegistry().
	Processors *processor.Registry

	// Datasources is required.
	Datasources *datasource.Registry

	Fields *field.Helper
	Cache  ResultCache
	Logger *slog.Logger
}

// Manager owns the configured servers and indexes.
type Manager struct {
	mu      sync.RWMutex
	opts    ManagerOptions
	servers map[string]*backend.Server
	indexes map[string]*Index
	logger  *slog.Logger
}

// NewManager builds all servers and indexes and registers enabled indexes
// with their servers.
func NewManager(ctx context.Context, opts ManagerOptions, servers []backend.ServerConfig, indexes []Config) (*Manager, error) {
	if opts.DB == nil || opts.Backends == nil || opts.Datasources == nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInternal, "manager dependencies are incomplete", nil)
	}
	if opts.Processors == nil {
		opts.Processors = processor.DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		opts:    opts,
		servers: make(map[string]*backend.Server),
		indexes: make(map[string]*Index),
		logger:  opts.Logger,
	}
	if err := tracker.EnsureSchema(ctx, opts.DB); err != nil {
		return nil, err
	}

	for _, sc := range servers {
		if _, ok := m.servers[sc.ID]; ok {
			_ = m.Close()
			return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "Duplicate server ID '%s'.", sc.ID)
		}
		s, err := backend.NewServer(opts.Backends, backend.Deps{DB: opts.DB, DataDir: opts.DataDir, Logger: opts.Logger}, sc)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.servers[sc.ID] = s
	}

	for _, ic := range indexes {
		if _, ok := m.indexes[ic.ID]; ok {
			_ = m.Close()
			return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "Duplicate index ID '%s'.", ic.ID)
		}
		idx, err := m.build(ctx, ic)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.indexes[ic.ID] = idx
	}
	return m, nil
}

func (m *Manager) build(ctx context.Context, ic Config) (*Index, error) {
	var server *backend.Server
	if ic.Server != "" {
		s, ok := m.servers[ic.Server]
		if !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "The server with ID '%s' could not be retrieved for index '%s'.", ic.Server, ic.ID)
		}
		server = s
	}
	idx, err := New(ctx, ic, Deps{
		Server:      server,
		Servers:     m.Server,
		Datasources: m.opts.Datasources,
		Processors:  m.opts.Processors,
		Trackers:    m.trackerFactory,
		Fields:      m.opts.Fields,
		Cache:       m.opts.Cache,
		Logger:      m.logger,
	})
	if err != nil {
		return nil, err
	}
	if ic.Enabled && server.IsAvailable() {
		if err := server.Backend().AddIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (m *Manager) trackerFactory(ctx context.Context, indexID, order string) (tracker.Tracker, error) {
	return tracker.New(ctx, m.opts.DB, indexID, tracker.Options{Order: order})
}

// Server returns a server by ID.
func (m *Manager) Server(id string) (*backend.Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	return s, ok
}

// Servers returns all servers sorted by ID.
func (m *Manager) Servers() []*backend.Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*backend.Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Index returns an index by ID.
func (m *Manager) Index(id string) (*Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[id]
	if !ok {
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigNotFound, "Unknown index '%s'.", id).
			WithSuggestion("Run 'amansearch status' to list the configured indexes")
	}
	return idx, nil
}

// Indexes returns all indexes sorted by ID.
func (m *Manager) Indexes() []*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Configs returns the current configuration of all indexes.
func (m *Manager) Configs() []Config {
	indexes := m.Indexes()
	out := make([]Config, len(indexes))
	for i, idx := range indexes {
		out[i] = idx.Config()
	}
	return out
}

// SyncTracking reconciles the trackers of all enabled indexes with the
// current datasource contents.
func (m *Manager) SyncTracking(ctx context.Context) error {
	for _, idx := range m.Indexes() {
		if err := idx.SyncTracking(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe forwards datasource change notifications to every index.
// Datasources that do not publish changes are skipped.
func (m *Manager) Subscribe() {
	for _, id := range m.opts.Datasources.IDs() {
		ds, err := m.opts.Datasources.Get(id)
		if err != nil {
			continue
		}
		pub, ok := ds.(interface{ Subscribe(datasource.Listener) })
		if !ok {
			continue
		}
		pub.Subscribe(func(ctx context.Context, c datasource.Change) {
			for _, idx := range m.Indexes() {
				idx.HandleChange(ctx, c)
			}
		})
	}
}

// Close releases all servers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.servers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package backend defines the storage and search engine interface behind a
// server, and the registry of backend plugins.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// Optional features a backend may support.
const (
	FeatureFacets           = "search_api_facets"
	FeatureFacetsOperatorOr = "search_api_facets_operator_or"
	FeatureRandomSort       = "search_api_random_sort"
	FeatureAutocomplete     = "search_api_autocomplete"
)

// Index is what a backend needs from an index.
type Index interface {
	query.Index
	item.Index
	Fields() []*field.Field
	// FieldRenames maps old to new IDs of fields renamed since the last
	// save.
	FieldRenames() map[string]string
	// IsValidProcessor reports whether a processor is enabled.
	IsValidProcessor(id string) bool
}

// Backend stores indexed items and executes searches.
type Backend interface {
	PluginID() string
	SupportsFeature(feature string) bool
	SupportsDataType(t field.Type) bool

	AddIndex(ctx context.Context, idx Index) error
	// UpdateIndex adapts storage to changed fields and reports whether
	// the stored data must be reindexed.
	UpdateIndex(ctx context.Context, idx Index) (bool, error)
	RemoveIndex(ctx context.Context, indexID string) error

	// IndexItems stores items and returns the IDs that were stored.
	// Per-item failures are logged and skipped.
	IndexItems(ctx context.Context, idx Index, items []*item.Item) ([]string, error)
	DeleteItems(ctx context.Context, idx Index, ids []string) error
	// DeleteAllIndexItems deletes all items, or those of one datasource.
	DeleteAllIndexItems(ctx context.Context, idx Index, datasourceID string) error
	// IndexedItemIDs lists the stored item IDs.
	IndexedItemIDs(ctx context.Context, idx Index) ([]string, error)

	// Search executes q and fills q.Results().
	Search(ctx context.Context, idx Index, q *query.Query) error

	Close() error
}

// Suggestion is one autocomplete suggestion.
type Suggestion struct {
	Suggestion  string `json:"suggestion"`
	Suffix      string `json:"suffix"`
	ResultCount int    `json:"result_count"`
}

// Autocompleter is implemented by backends supporting FeatureAutocomplete.
type Autocompleter interface {
	// Autocomplete suggests completions for incompleteKey, the last word of
	// userInput. q carries the rest of the search.
	Autocomplete(ctx context.Context, idx Index, q *query.Query, incompleteKey, userInput string) ([]Suggestion, error)
}

// Deps are the collaborators handed to backend factories.
type Deps struct {
	DB      *store.DB
	DataDir string
	Logger  *slog.Logger
}

// Factory builds a configured backend.
type Factory func(deps Deps, config map[string]any) (Backend, error)

// Descriptor describes a backend plugin.
type Descriptor struct {
	ID          string
	Label       string
	Description string
}

// Registry maps backend IDs to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

type registration struct {
	desc    Descriptor
	factory Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a backend plugin.
func (r *Registry) Register(d Descriptor, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.ID]; ok {
		return amanerrors.New(amanerrors.ErrCodeInternal, fmt.Sprintf("backend %q registered twice", d.ID), nil)
	}
	r.entries[d.ID] = registration{desc: d, factory: f}
	return nil
}

// Descriptors lists the registered backends by ID.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Build creates a backend instance.
func (r *Registry) Build(id string, deps Deps, config map[string]any) (Backend, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "The backend with ID '%s' could not be retrieved.", id)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return e.factory(deps, config)
}

// ServerConfig describes a server.
type ServerConfig struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool           `yaml:"enabled" json:"enabled"`
	Backend     string         `yaml:"backend" json:"backend"`
	Config      map[string]any `yaml:"backend_config,omitempty" json:"backend_config,omitempty"`
}

// Server binds a backend instance to its configuration.
type Server struct {
	cfg     ServerConfig
	backend Backend
}

// NewServer builds the server's backend from reg.
func NewServer(reg *Registry, deps Deps, cfg ServerConfig) (*Server, error) {
	b, err := reg.Build(cfg.Backend, deps, cfg.Config)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, backend: b}, nil
}

// NewServerWithBackend wraps an existing backend.
func NewServerWithBackend(cfg ServerConfig, b Backend) *Server {
	return &Server{cfg: cfg, backend: b}
}

func (s *Server) ID() string              { return s.cfg.ID }
func (s *Server) Name() string            { return s.cfg.Name }
func (s *Server) Config() ServerConfig    { return s.cfg }
func (s *Server) Backend() Backend        { return s.backend }
func (s *Server) Status() bool            { return s.cfg.Enabled }
func (s *Server) SetEnabled(enabled bool) { s.cfg.Enabled = enabled }

// IsAvailable reports whether the server can index and search.
func (s *Server) IsAvailable() bool {
	return s != nil && s.cfg.Enabled && s.backend != nil
}

// SupportsFeature reports backend support for a feature.
func (s *Server) SupportsFeature(feature string) bool {
	return s != nil && s.backend != nil && s.backend.SupportsFeature(feature)
}

// SupportsDataType reports backend support for a custom data type.
func (s *Server) SupportsDataType(t field.Type) bool {
	return s != nil && s.backend != nil && s.backend.SupportsDataType(t)
}

// Close releases the backend.
func (s *Server) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

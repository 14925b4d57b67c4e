// Package database implements a search backend on plain relational tables.
//
// Every index gets a denormalized table with one row per item, one table
// per multi-valued non-text field and a shared word table holding the
// scored words of all fulltext fields. Keyword search, conditions, sorting
// and facets are compiled into SQL against these tables, so the backend
// works the same on SQLite, MySQL and PostgreSQL.
package database

import (
	"context"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// PluginID identifies the backend in server configuration.
const PluginID = "search_api_db"

// ScoreMultiplier converts float scores to the stored integers.
const ScoreMultiplier = 1000

// maxScore is the largest storable word score.
const maxScore = 4294967295

// Matching modes.
const (
	MatchWords   = "words"
	MatchPartial = "partial"
	MatchPrefix  = "prefix"
)

// AutocompleteConfig selects the suggestion methods.
type AutocompleteConfig struct {
	SuggestSuffix bool `yaml:"suggest_suffix"`
	SuggestWords  bool `yaml:"suggest_words"`
}

// Config is the backend configuration.
type Config struct {
	// MinChars is the minimum length of indexed and searched words.
	MinChars int `yaml:"min_chars"`
	// Matching is words, partial or prefix.
	Matching     string             `yaml:"matching"`
	Autocomplete AutocompleteConfig `yaml:"autocomplete"`
	// AutocompleteMaxOccurrences drops suggestions found in more than this
	// share of the results.
	AutocompleteMaxOccurrences float64 `yaml:"autocomplete_max_occurrences"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MinChars:                   1,
		Matching:                   MatchWords,
		Autocomplete:               AutocompleteConfig{SuggestSuffix: true, SuggestWords: true},
		AutocompleteMaxOccurrences: 0.9,
	}
}

// ParseConfig decodes a server's backend configuration onto the defaults.
func ParseConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) > 0 {
		data, err := yaml.Marshal(raw)
		if err != nil {
			return cfg, amanerrors.New(amanerrors.ErrCodeConfigInvalid, "invalid database backend configuration", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, amanerrors.New(amanerrors.ErrCodeConfigInvalid, "invalid database backend configuration", err)
		}
	}
	if cfg.MinChars < 1 {
		cfg.MinChars = 1
	}
	switch cfg.Matching {
	case "":
		cfg.Matching = MatchWords
	case MatchWords, MatchPartial, MatchPrefix:
	default:
		return cfg, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "unknown matching mode %q", cfg.Matching)
	}
	if cfg.AutocompleteMaxOccurrences <= 0 || cfg.AutocompleteMaxOccurrences > 1 {
		cfg.AutocompleteMaxOccurrences = 0.9
	}
	return cfg, nil
}

// Backend is the relational search backend.
type Backend struct {
	db     *store.DB
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	infos map[string]*indexInfo
}

var (
	_ backend.Backend       = (*Backend)(nil)
	_ backend.Autocompleter = (*Backend)(nil)
)

// New returns a backend on db.
func New(ctx context.Context, db *store.DB, cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{db: db, cfg: cfg, logger: logger, infos: make(map[string]*indexInfo)}
	if err := b.ensureInfoTable(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Register adds the backend to reg.
func Register(reg *backend.Registry) error {
	return reg.Register(backend.Descriptor{
		ID:          PluginID,
		Label:       "Database",
		Description: "Indexes items in the storage database and searches them with SQL.",
	}, func(deps backend.Deps, raw map[string]any) (backend.Backend, error) {
		if deps.DB == nil {
			return nil, amanerrors.New(amanerrors.ErrCodeBackendUnavailable, "the database backend needs a storage database", nil)
		}
		cfg, err := ParseConfig(raw)
		if err != nil {
			return nil, err
		}
		return New(context.Background(), deps.DB, cfg, deps.Logger)
	})
}

// Config returns the backend configuration.
func (b *Backend) Config() Config { return b.cfg }

func (b *Backend) PluginID() string { return PluginID }

func (b *Backend) SupportsFeature(feature string) bool {
	switch feature {
	case backend.FeatureFacets, backend.FeatureFacetsOperatorOr,
		backend.FeatureRandomSort, backend.FeatureAutocomplete:
		return true
	}
	return false
}

// SupportsDataType reports support for custom types; only the canonical
// types are stored natively.
func (b *Backend) SupportsDataType(t field.Type) bool {
	for _, c := range field.CanonicalTypes() {
		if c == t {
			return true
		}
	}
	return false
}

// Close is a no-op; the storage database is owned by the caller.
func (b *Backend) Close() error { return nil }

func (b *Backend) partialMatches() bool {
	return b.cfg.Matching == MatchPartial || b.cfg.Matching == MatchPrefix
}

// Package datasource provides the source objects an index is built from.
package datasource

import (
	"context"
	"sort"
	"sync"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
)

// Datasource supplies items of one kind.
type Datasource interface {
	ID() string
	Label() string
	PropertyDefinitions() map[string]*field.PropertyDefinition

	// Load returns the object for rawID, or false when it does not exist.
	Load(ctx context.Context, rawID string) (item.Data, bool, error)
	// LoadMultiple returns the existing objects among rawIDs.
	LoadMultiple(ctx context.Context, rawIDs []string) (map[string]item.Data, error)
	// ItemIDs returns one page of raw IDs; an empty page ends the listing.
	ItemIDs(ctx context.Context, page int) ([]string, error)

	Bundles() map[string]string
	ItemBundle(obj item.Data) string
	ItemLanguage(obj item.Data) string
	ItemURL(obj item.Data) (string, bool)
}

// ChangeKind says what happened to a set of items.
type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Change is a notification about raw IDs of one datasource.
type Change struct {
	DatasourceID string
	Kind         ChangeKind
	RawIDs       []string
}

// Listener receives change notifications.
type Listener func(ctx context.Context, c Change)

// Registry holds the configured datasources.
type Registry struct {
	mu          sync.RWMutex
	datasources map[string]Datasource
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{datasources: make(map[string]Datasource)}
}

// Register adds ds, replacing any datasource with the same ID.
func (r *Registry) Register(ds Datasource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasources[ds.ID()] = ds
}

// Get returns a datasource by ID.
func (r *Registry) Get(id string) (Datasource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.datasources[id]
	if !ok {
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "The datasource with ID '%s' could not be retrieved.", id)
	}
	return ds, nil
}

// IDs returns the registered IDs in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.datasources))
	for id := range r.datasources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Selection is a default/selected pair: with Default true everything
// except Selected is included, otherwise only Selected.
type Selection struct {
	Default  bool     `yaml:"default" json:"default"`
	Selected []string `yaml:"selected,omitempty" json:"selected,omitempty"`
}

// Allows reports whether value passes the selection.
func (s Selection) Allows(value string) bool {
	listed := false
	for _, v := range s.Selected {
		if v == value {
			listed = true
			break
		}
	}
	return s.Default != listed
}

// Equal reports whether two selections are the same.
func (s Selection) Equal(o Selection) bool {
	if s.Default != o.Default || len(s.Selected) != len(o.Selected) {
		return false
	}
	a := append([]string(nil), s.Selected...)
	b := append([]string(nil), o.Selected...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Filter restricts an index to some bundles and languages of a
// datasource.
type Filter struct {
	Bundles   Selection `yaml:"bundles" json:"bundles"`
	Languages Selection `yaml:"languages" json:"languages"`
}

// AllowAll is the filter that excludes nothing.
var AllowAll = Filter{Bundles: Selection{Default: true}, Languages: Selection{Default: true}}

// Allows reports whether obj passes the filter.
func (f Filter) Allows(ds Datasource, obj item.Data) bool {
	return f.Bundles.Allows(ds.ItemBundle(obj)) && f.Languages.Allows(ds.ItemLanguage(obj))
}

// Equal reports whether two filters are the same.
func (f Filter) Equal(o Filter) bool {
	return f.Bundles.Equal(o.Bundles) && f.Languages.Equal(o.Languages)
}

// FilteredIDs walks all pages of ds and returns the raw IDs passing f.
func FilteredIDs(ctx context.Context, ds Datasource, f Filter) ([]string, error) {
	var out []string
	for page := 0; ; page++ {
		ids, err := ds.ItemIDs(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return out, nil
		}
		objs, err := ds.LoadMultiple(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			obj, ok := objs[id]
			if ok && f.Allows(ds, obj) {
				out = append(out, id)
			}
		}
	}
}

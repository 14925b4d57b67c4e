package query

import (
	"github.com/Aman-CERP/amansearch/internal/item"
)

// ResultSet holds the results of a query.
type ResultSet struct {
	query       *Query
	count       int
	items       []*item.Item
	byID        map[string]*item.Item
	warnings    []string
	ignoredKeys []string
	extra       map[string]any
}

// NewResultSet returns an empty result set for q.
func NewResultSet(q *Query) *ResultSet {
	return &ResultSet{query: q, byID: make(map[string]*item.Item), extra: make(map[string]any)}
}

// Query returns the executed query.
func (r *ResultSet) Query() *Query { return r.query }

// Count is the total number of matches, regardless of the range.
func (r *ResultSet) Count() int { return r.count }

// SetCount sets the total count.
func (r *ResultSet) SetCount(n int) { r.count = n }

// Items returns the result items in order.
func (r *ResultSet) Items() []*item.Item { return r.items }

// Item returns a result item by ID.
func (r *ResultSet) Item(id string) (*item.Item, bool) {
	it, ok := r.byID[id]
	return it, ok
}

// AddItem appends an item; an item with the same ID is replaced in place.
func (r *ResultSet) AddItem(it *item.Item) {
	if _, ok := r.byID[it.ID()]; ok {
		for i, existing := range r.items {
			if existing.ID() == it.ID() {
				r.items[i] = it
			}
		}
	} else {
		r.items = append(r.items, it)
	}
	r.byID[it.ID()] = it
}

// SetItems replaces the result items.
func (r *ResultSet) SetItems(items []*item.Item) {
	r.items = nil
	r.byID = make(map[string]*item.Item, len(items))
	for _, it := range items {
		r.AddItem(it)
	}
}

// Warnings returns the collected warnings.
func (r *ResultSet) Warnings() []string { return r.warnings }

// AddWarning records a warning once.
func (r *ResultSet) AddWarning(w string) {
	for _, e := range r.warnings {
		if e == w {
			return
		}
	}
	r.warnings = append(r.warnings, w)
}

// IgnoredKeys returns keys that were dropped from the search.
func (r *ResultSet) IgnoredKeys() []string { return r.ignoredKeys }

// AddIgnoredKey records an ignored key once.
func (r *ResultSet) AddIgnoredKey(k string) {
	for _, e := range r.ignoredKeys {
		if e == k {
			return
		}
	}
	r.ignoredKeys = append(r.ignoredKeys, k)
}

// ExtraData returns backend or processor specific data.
func (r *ResultSet) ExtraData(key string) (any, bool) {
	v, ok := r.extra[key]
	return v, ok
}

// SetExtraData stores extra data.
func (r *ResultSet) SetExtraData(key string, v any) {
	r.extra[key] = v
}

// AllExtraData returns the extra data map.
func (r *ResultSet) AllExtraData() map[string]any { return r.extra }

// FacetResults returns the facet terms keyed by facet key.
func (r *ResultSet) FacetResults() map[string][]FacetTerm {
	f, _ := r.extra[OptionFacets].(map[string][]FacetTerm)
	return f
}

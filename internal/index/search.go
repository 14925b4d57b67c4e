package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// Search executes q: preprocess_query processors, the backend search and
// postprocess_query processors. Warnings end up in q.Results().
func (idx *Index) Search(ctx context.Context, q *query.Query) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.cfg.Enabled {
		return amanerrors.Newf(amanerrors.ErrCodeIndexDisabled, "Cannot search on a disabled index (%s).", idx.cfg.ID)
	}
	if err := idx.requireServer(); err != nil {
		return err
	}
	if q.SearchID() == "" {
		q.SetSearchID(uuid.NewString())
	}
	start := time.Now()

	if !q.MarkPreExecuted() {
		if err := idx.chain.PreprocessQuery(ctx, q); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to preprocess query", err)
		}
	}
	if reason, aborted := q.WasAborted(); aborted {
		idx.logger.Debug("index_search_aborted", slog.String("search_id", q.SearchID()), slog.String("reason", reason))
		return nil
	}

	key := q.CacheKey()
	cached := false
	if idx.cache != nil {
		if snap, ok := idx.cache.Get(ctx, idx.cfg.ID, key); ok {
			snap.apply(idx, q.Results())
			cached = true
		}
	}
	if !cached {
		if err := idx.server.Backend().Search(ctx, idx, q); err != nil {
			return err
		}
		if idx.cache != nil {
			idx.cache.Put(ctx, idx.cfg.ID, key, snapshotOf(q.Results()))
		}
	}

	if err := idx.chain.PostprocessResults(ctx, q.Results()); err != nil {
		return amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to postprocess results", err)
	}
	idx.logger.Debug("index_search_executed",
		slog.String("search_id", q.SearchID()),
		slog.Int("count", q.Results().Count()),
		slog.Bool("cached", cached),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Autocomplete suggests completions for the last word of userInput.
func (idx *Index) Autocomplete(ctx context.Context, q *query.Query, incompleteKey, userInput string) ([]backend.Suggestion, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.cfg.Enabled {
		return nil, amanerrors.Newf(amanerrors.ErrCodeIndexDisabled, "Cannot search on a disabled index (%s).", idx.cfg.ID)
	}
	if err := idx.requireServer(); err != nil {
		return nil, err
	}
	ac, ok := idx.server.Backend().(backend.Autocompleter)
	if !ok || !idx.server.SupportsFeature(backend.FeatureAutocomplete) {
		return nil, amanerrors.Newf(amanerrors.ErrCodeUnsupportedFeature, "The server of index '%s' does not support autocompletion.", idx.cfg.ID)
	}
	if !q.MarkPreExecuted() {
		if err := idx.chain.PreprocessQuery(ctx, q); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to preprocess query", err)
		}
	}
	return ac.Autocomplete(ctx, idx, q, incompleteKey, userInput)
}

// cachedItem is the cached part of a result item.
type cachedItem struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt,omitempty"`
}

// Snapshot is the cacheable form of a backend result.
type Snapshot struct {
	Count       int                          `json:"count"`
	Items       []cachedItem                 `json:"items"`
	Warnings    []string                     `json:"warnings,omitempty"`
	IgnoredKeys []string                     `json:"ignored_keys,omitempty"`
	Facets      map[string][]query.FacetTerm `json:"facets,omitempty"`
}

func snapshotOf(rs *query.ResultSet) *Snapshot {
	s := &Snapshot{
		Count:       rs.Count(),
		Warnings:    append([]string(nil), rs.Warnings()...),
		IgnoredKeys: append([]string(nil), rs.IgnoredKeys()...),
		Facets:      rs.FacetResults(),
	}
	for _, it := range rs.Items() {
		s.Items = append(s.Items, cachedItem{ID: it.ID(), Score: it.Score(), Excerpt: it.Excerpt()})
	}
	return s
}

func (s *Snapshot) apply(idx *Index, rs *query.ResultSet) {
	items := make([]*item.Item, 0, len(s.Items))
	for _, ci := range s.Items {
		it := item.New(idx, ci.ID, nil)
		it.SetScore(ci.Score)
		it.SetExcerpt(ci.Excerpt)
		items = append(items, it)
	}
	rs.SetItems(items)
	rs.SetCount(s.Count)
	for _, w := range s.Warnings {
		rs.AddWarning(w)
	}
	for _, k := range s.IgnoredKeys {
		rs.AddIgnoredKey(k)
	}
	if s.Facets != nil {
		rs.SetExtraData(query.OptionFacets, s.Facets)
	}
}

func (idx *Index) invalidate(ctx context.Context) {
	if idx.cache != nil {
		idx.cache.Invalidate(ctx, idx.cfg.ID)
	}
}

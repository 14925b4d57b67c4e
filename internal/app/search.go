package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
	"github.com/Aman-CERP/amansearch/internal/ui"
)

// ResultItem is one search hit.
type ResultItem struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Excerpt  string  `json:"excerpt,omitempty"`
	URL      string  `json:"url,omitempty"`
	Language string  `json:"language,omitempty"`
}

// SearchResponse is the outcome of a search.
type SearchResponse struct {
	Index       string                       `json:"index"`
	SearchID    string                       `json:"search_id,omitempty"`
	Count       int                          `json:"count"`
	Items       []ResultItem                 `json:"items"`
	Facets      map[string][]query.FacetTerm `json:"facets,omitempty"`
	Warnings    []string                     `json:"warnings,omitempty"`
	IgnoredKeys []string                     `json:"ignored_keys,omitempty"`
	Took        time.Duration                `json:"took_ns"`
}

// Search runs req against the index and records query metrics.
func (a *App) Search(ctx context.Context, indexID string, req *query.Request) (*SearchResponse, error) {
	idx, err := a.Index(indexID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &query.Request{}
	}
	q, err := req.Build(idx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := idx.Search(ctx, q); err != nil {
		return nil, err
	}
	took := time.Since(start)

	rs := q.Results()
	resp := &SearchResponse{
		Index:       indexID,
		SearchID:    q.SearchID(),
		Count:       rs.Count(),
		Items:       make([]ResultItem, 0, len(rs.Items())),
		Facets:      rs.FacetResults(),
		Warnings:    rs.Warnings(),
		IgnoredKeys: rs.IgnoredKeys(),
		Took:        took,
	}
	for _, it := range rs.Items() {
		ri := ResultItem{
			ID:       it.ID(),
			Score:    it.Score(),
			Excerpt:  it.Excerpt(),
			Language: it.Language(),
		}
		if u, ok := idx.ItemURL(ctx, it); ok {
			ri.URL = u
		}
		resp.Items = append(resp.Items, ri)
	}

	a.record(indexID, q, resp.Count, took)
	a.logger.Debug("search_executed",
		slog.String("index", indexID),
		slog.Int("count", resp.Count),
		slog.Duration("took", took))
	return resp, nil
}

func (a *App) record(indexID string, q *query.Query, count int, took time.Duration) {
	if a.Metrics == nil {
		return
	}
	keys := ""
	if k := q.OriginalKeys(); k != nil {
		keys = strings.Join(k.Words(true), " ")
	}
	conditions := 0
	if g := q.ConditionGroup(); g != nil {
		g.Walk(func(*query.Condition) { conditions++ })
	}
	a.Metrics.Record(telemetry.QueryEvent{
		Index:       indexID,
		Keys:        keys,
		QueryType:   telemetry.ClassifyQuery(keys, conditions),
		ResultCount: count,
		Latency:     took,
		Timestamp:   time.Now(),
	})
}

// Autocomplete suggests completions of the last word of input. The index
// must live on a server supporting autocompletion.
func (a *App) Autocomplete(ctx context.Context, indexID, input string, limit int) ([]backend.Suggestion, error) {
	idx, err := a.Index(indexID)
	if err != nil {
		return nil, err
	}
	input = strings.TrimLeft(input, " ")
	incomplete := input
	if i := strings.LastIndexByte(input, ' '); i >= 0 {
		incomplete = input[i+1:]
	}
	if incomplete == "" {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, "nothing to complete", nil).
			WithSuggestion("Pass at least one character")
	}
	q := idx.Query()
	if rest := strings.TrimSpace(strings.TrimSuffix(input, incomplete)); rest != "" {
		q.SetRawKeys(rest)
	}
	if limit > 0 {
		q.Range(0, limit)
	}
	return idx.Autocomplete(ctx, q, incomplete, input)
}

// IndexItems drains the tracker queues of the given indexes, or of all
// enabled indexes when ids is empty.
func (a *App) IndexItems(ctx context.Context, r ui.Renderer, ids []string, cfg index.RunnerConfig) (*index.RunnerResult, error) {
	indexes, err := a.selectIndexes(ids)
	if err != nil {
		return nil, err
	}
	runner, err := index.NewRunner(index.RunnerDependencies{Renderer: r, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = a.Config.Scheduler.Concurrency
	}
	return runner.RunAll(ctx, indexes, cfg)
}

func (a *App) selectIndexes(ids []string) ([]*index.Index, error) {
	if len(ids) == 0 {
		var out []*index.Index
		for _, idx := range a.Manager.Indexes() {
			if idx.Status() && !idx.IsReadOnly() {
				out = append(out, idx)
			}
		}
		return out, nil
	}
	out := make([]*index.Index, 0, len(ids))
	for _, id := range ids {
		idx, err := a.Index(id)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// Status reports the state of every index.
func (a *App) Status(ctx context.Context) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		DatabaseDriver: a.DB.Dialect().Name(),
		DatabaseSize:   a.DB.Size(),
	}
	for _, idx := range a.Manager.Indexes() {
		st, err := a.IndexStatus(ctx, idx)
		if err != nil {
			return info, err
		}
		info.Indexes = append(info.Indexes, st)
	}
	return info, nil
}

// IndexStatus reports the state of one index.
func (a *App) IndexStatus(ctx context.Context, idx *index.Index) (ui.IndexStatus, error) {
	cfg := idx.Config()
	st := ui.IndexStatus{
		ID:          cfg.ID,
		Name:        idx.Name(),
		Server:      cfg.Server,
		Enabled:     cfg.Enabled,
		ReadOnly:    cfg.ReadOnly,
		Datasources: idx.DatasourceIDs(),
		Fields:      len(cfg.Fields),
	}
	switch srv := idx.Server(); {
	case srv == nil:
		st.ServerStatus = "offline"
	case srv.IsAvailable():
		st.Backend = srv.Config().Backend
		st.ServerStatus = "ready"
	default:
		st.Backend = srv.Config().Backend
		st.ServerStatus = "offline"
	}
	ts, err := idx.TrackingStatus(ctx)
	if err != nil {
		st.ServerStatus = "error"
		return st, err
	}
	st.Total = ts.Total
	st.Indexed = ts.Indexed
	return st, nil
}

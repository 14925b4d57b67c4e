package index

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/amansearch/internal/datasource"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/tracker"
)

// IndexItems indexes up to limit pending items, of one datasource or all
// when datasourceID is empty. A negative limit uses the cron limit. It
// returns the number of processed items, including items dropped by
// processors. Disabled and read-only indexes index nothing.
func (idx *Index) IndexItems(ctx context.Context, limit int, datasourceID string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.cfg.Enabled || idx.cfg.ReadOnly {
		return 0, nil
	}
	if limit < 0 {
		limit = idx.cfg.Options.CronLimit
	}
	if limit == 0 {
		return 0, nil
	}
	if err := idx.requireServer(); err != nil {
		return 0, err
	}

	ids, err := idx.tracker.RemainingItems(ctx, limit, datasourceID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	items, err := idx.loadItems(ctx, ids)
	if err != nil {
		return 0, err
	}

	var gone []string
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		idx.logger.Info("index_items_vanished", slog.Int("count", len(gone)))
		if err := idx.tracker.TrackItemsDeleted(ctx, gone); err != nil {
			return 0, err
		}
	}

	processed, err := idx.indexSpecificItems(ctx, items)
	if err != nil {
		return 0, err
	}
	return len(processed), nil
}

// IndexSpecificItems indexes the given items regardless of their tracker
// state and returns the IDs of processed items.
func (idx *Index) IndexSpecificItems(ctx context.Context, items map[string]*item.Item) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.cfg.Enabled || idx.cfg.ReadOnly || len(items) == 0 {
		return nil, nil
	}
	if err := idx.requireServer(); err != nil {
		return nil, err
	}
	return idx.indexSpecificItems(ctx, items)
}

func (idx *Index) indexSpecificItems(ctx context.Context, items map[string]*item.Item) ([]string, error) {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	batch := make([]*item.Item, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, items[id])
	}

	kept, err := idx.chain.AlterItems(ctx, batch)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeIndexFailed, "failed to alter items", err)
	}
	survivors := make(map[string]bool, len(kept))
	for _, it := range kept {
		survivors[it.ID()] = true
	}
	var rejected []string
	for _, id := range ids {
		if !survivors[id] {
			rejected = append(rejected, id)
		}
	}

	extracted := make([]*item.Item, 0, len(kept))
	for _, it := range kept {
		if _, err := it.Fields(ctx); err != nil {
			idx.logger.Warn("index_item_extraction_failed",
				slog.String("item", it.ID()),
				slog.String("error", err.Error()))
			continue
		}
		extracted = append(extracted, it)
	}

	processed, err := idx.chain.PreprocessIndexItems(ctx, extracted)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeIndexFailed, "failed to preprocess items", err)
	}
	// Items removed while preprocessing count as rejected.
	inPreprocessed := make(map[string]bool, len(processed))
	for _, it := range processed {
		inPreprocessed[it.ID()] = true
	}
	for _, it := range extracted {
		if !inPreprocessed[it.ID()] {
			rejected = append(rejected, it.ID())
		}
	}

	var stored []string
	if len(processed) > 0 {
		stored, err = idx.server.Backend().IndexItems(ctx, idx, processed)
		if err != nil {
			return nil, err
		}
	}
	if len(rejected) > 0 {
		// Rejected items were already removed from the server, if present.
		if err := idx.server.Backend().DeleteItems(ctx, idx, rejected); err != nil {
			idx.logger.Warn("index_rejected_delete_failed", slog.String("error", err.Error()))
		}
	}

	done := append(append([]string(nil), stored...), rejected...)
	if len(done) > 0 {
		if err := idx.tracker.TrackItemsIndexed(ctx, done); err != nil {
			return nil, err
		}
		idx.invalidate(ctx)
	}
	idx.logger.Info("index_items_indexed",
		slog.Int("requested", len(ids)),
		slog.Int("stored", len(stored)),
		slog.Int("rejected", len(rejected)))
	return done, nil
}

// LoadItemsMultiple loads the items for combined IDs. IDs whose objects
// no longer exist or no longer pass the datasource filter are omitted.
func (idx *Index) LoadItemsMultiple(ctx context.Context, ids []string) (map[string]*item.Item, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loadItems(ctx, ids)
}

func (idx *Index) loadItems(ctx context.Context, ids []string) (map[string]*item.Item, error) {
	byDatasource := make(map[string][]string)
	for _, id := range ids {
		ds, raw := field.SplitCombinedID(id)
		byDatasource[ds] = append(byDatasource[ds], raw)
	}
	out := make(map[string]*item.Item, len(ids))
	for dsID, raws := range byDatasource {
		dsCfg, ok := idx.cfg.Datasources[dsID]
		if !ok {
			continue
		}
		ds, err := idx.datasources.Get(dsID)
		if err != nil {
			return nil, err
		}
		objs, err := ds.LoadMultiple(ctx, raws)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeIndexFailed, "failed to load items of datasource "+dsID, err)
		}
		filter := dsCfg.Filter()
		for raw, obj := range objs {
			if !filter.Allows(ds, obj) {
				continue
			}
			obj := obj
			id := field.CreateCombinedID(dsID, raw)
			it := item.New(idx, id, &obj)
			if lang := ds.ItemLanguage(obj); lang != "" {
				it.SetLanguage(lang)
			}
			out[id] = it
		}
	}
	return out, nil
}

// HandleChange applies a datasource change notification.
func (idx *Index) HandleChange(ctx context.Context, c datasource.Change) {
	var err error
	switch c.Kind {
	case datasource.Inserted:
		err = idx.TrackItemsInserted(ctx, c.DatasourceID, c.RawIDs)
	case datasource.Updated:
		err = idx.TrackItemsUpdated(ctx, c.DatasourceID, c.RawIDs)
	case datasource.Deleted:
		err = idx.TrackItemsDeleted(ctx, c.DatasourceID, c.RawIDs)
	}
	if err != nil {
		idx.logger.Warn("index_change_failed",
			slog.String("datasource", c.DatasourceID),
			slog.String("kind", c.Kind.String()),
			slog.String("error", err.Error()))
	}
}

// TrackItemsInserted starts tracking new items of a datasource and, with
// index_directly, indexes them right away.
func (idx *Index) TrackItemsInserted(ctx context.Context, datasourceID string, rawIDs []string) error {
	return idx.trackChanged(ctx, datasourceID, rawIDs, false)
}

// TrackItemsUpdated marks changed items as pending.
func (idx *Index) TrackItemsUpdated(ctx context.Context, datasourceID string, rawIDs []string) error {
	return idx.trackChanged(ctx, datasourceID, rawIDs, true)
}

func (idx *Index) trackChanged(ctx context.Context, datasourceID string, rawIDs []string, updated bool) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if _, ok := idx.cfg.Datasources[datasourceID]; !ok || !idx.cfg.Enabled || len(rawIDs) == 0 {
		return nil
	}

	ids := make([]string, len(rawIDs))
	for i, raw := range rawIDs {
		ids[i] = field.CreateCombinedID(datasourceID, raw)
	}
	items, err := idx.loadItems(ctx, ids)
	if err != nil {
		return err
	}
	var allowed, excluded []string
	for _, id := range ids {
		if _, ok := items[id]; ok {
			allowed = append(allowed, id)
		} else {
			excluded = append(excluded, id)
		}
	}

	if updated {
		err = idx.tracker.TrackItemsUpdated(ctx, allowed)
		if err == nil && len(excluded) > 0 {
			err = idx.untrack(ctx, excluded)
		}
	} else {
		err = idx.tracker.TrackItemsInserted(ctx, allowed)
	}
	if err != nil {
		return err
	}

	// Read-only indexes keep tracking so they can catch up later.
	if idx.cfg.Options.IndexDirectly && !idx.cfg.ReadOnly && len(items) > 0 && idx.server.IsAvailable() {
		if _, err := idx.indexSpecificItems(ctx, items); err != nil {
			idx.logger.Warn("index_directly_failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// TrackItemsDeleted stops tracking deleted items and removes them from
// the server.
func (idx *Index) TrackItemsDeleted(ctx context.Context, datasourceID string, rawIDs []string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if _, ok := idx.cfg.Datasources[datasourceID]; !ok || !idx.cfg.Enabled || len(rawIDs) == 0 {
		return nil
	}
	ids := make([]string, len(rawIDs))
	for i, raw := range rawIDs {
		ids[i] = field.CreateCombinedID(datasourceID, raw)
	}
	return idx.untrack(ctx, ids)
}

func (idx *Index) untrack(ctx context.Context, ids []string) error {
	if err := idx.tracker.TrackItemsDeleted(ctx, ids); err != nil {
		return err
	}
	if idx.cfg.ReadOnly || !idx.server.IsAvailable() {
		return nil
	}
	if err := idx.server.Backend().DeleteItems(ctx, idx, ids); err != nil {
		return err
	}
	idx.invalidate(ctx)
	return nil
}

// Reindex marks all tracked items as pending. Indexed data stays
// searchable until it is replaced.
func (idx *Index) Reindex(ctx context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.reindex(ctx)
}

func (idx *Index) reindex(ctx context.Context) error {
	if idx.cfg.ReadOnly || !idx.cfg.Enabled {
		return nil
	}
	idx.logger.Info("index_reindex_scheduled")
	return idx.tracker.TrackAllItemsUpdated(ctx, "")
}

// Clear deletes all indexed data and schedules a reindex.
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.clear(ctx)
}

func (idx *Index) clear(ctx context.Context) error {
	if idx.cfg.ReadOnly || !idx.cfg.Enabled {
		return nil
	}
	if idx.server.IsAvailable() {
		if err := idx.server.Backend().DeleteAllIndexItems(ctx, idx, ""); err != nil {
			return err
		}
		idx.invalidate(ctx)
	}
	return idx.reindex(ctx)
}

// RebuildTracker drops all tracking information and tracks every item of
// every datasource anew as pending.
func (idx *Index) RebuildTracker(ctx context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.cfg.Enabled {
		return nil
	}
	if err := idx.tracker.TrackAllItemsDeleted(ctx, ""); err != nil {
		return err
	}
	for _, ds := range idx.DatasourceIDs() {
		if err := idx.startTracking(ctx, ds); err != nil {
			return err
		}
	}
	return nil
}

// SyncTracking reconciles the tracker with the items every datasource
// currently provides. Used after datasources were loaded without change
// notifications.
func (idx *Index) SyncTracking(ctx context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.cfg.Enabled {
		return nil
	}
	for _, ds := range idx.DatasourceIDs() {
		if err := idx.syncTracking(ctx, ds); err != nil {
			return err
		}
	}
	return nil
}

// startTracking tracks all items of a datasource that pass its filter.
func (idx *Index) startTracking(ctx context.Context, datasourceID string) error {
	ds, err := idx.datasources.Get(datasourceID)
	if err != nil {
		return err
	}
	raws, err := datasource.FilteredIDs(ctx, ds, idx.cfg.Datasources[datasourceID].Filter())
	if err != nil {
		return err
	}
	ids := make([]string, len(raws))
	for i, raw := range raws {
		ids[i] = field.CreateCombinedID(datasourceID, raw)
	}
	return idx.tracker.TrackItemsInserted(ctx, ids)
}

// stopTracking forgets a datasource's items in the tracker and on the
// server.
func (idx *Index) stopTracking(ctx context.Context, datasourceID string) error {
	if err := idx.tracker.TrackAllItemsDeleted(ctx, datasourceID); err != nil {
		return err
	}
	if idx.cfg.ReadOnly || !idx.server.IsAvailable() {
		return nil
	}
	return idx.server.Backend().DeleteAllIndexItems(ctx, idx, datasourceID)
}

// syncTracking reconciles the tracked items of a datasource with the
// items that currently pass its filter. New items become pending, items
// no longer included are untracked and removed from the server.
func (idx *Index) syncTracking(ctx context.Context, datasourceID string) error {
	ds, err := idx.datasources.Get(datasourceID)
	if err != nil {
		return err
	}
	raws, err := datasource.FilteredIDs(ctx, ds, idx.cfg.Datasources[datasourceID].Filter())
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(raws))
	for _, raw := range raws {
		want[field.CreateCombinedID(datasourceID, raw)] = true
	}

	tracked, err := trackedItems(ctx, idx.tracker, datasourceID)
	if err != nil {
		return err
	}
	var insert, remove []string
	for id := range want {
		if !tracked[id] {
			insert = append(insert, id)
		}
	}
	for id := range tracked {
		if !want[id] {
			remove = append(remove, id)
		}
	}
	sort.Strings(insert)
	sort.Strings(remove)
	if len(remove) > 0 {
		if err := idx.untrack(ctx, remove); err != nil {
			return err
		}
	}
	if len(insert) > 0 {
		if err := idx.tracker.TrackItemsInserted(ctx, insert); err != nil {
			return err
		}
	}
	if len(insert)+len(remove) > 0 {
		idx.logger.Info("index_tracking_synced",
			slog.String("datasource", datasourceID),
			slog.Int("inserted", len(insert)),
			slog.Int("removed", len(remove)))
	}
	return nil
}

func trackedItems(ctx context.Context, t tracker.Tracker, datasourceID string) (map[string]bool, error) {
	indexed, err := t.IndexedItems(ctx, datasourceID)
	if err != nil {
		return nil, err
	}
	pending, err := t.RemainingItems(ctx, -1, datasourceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(indexed)+len(pending))
	for _, id := range indexed {
		out[id] = true
	}
	for _, id := range pending {
		out[id] = true
	}
	return out, nil
}

// Status summarizes the tracker state of the index.
type Status struct {
	IndexID     string                    `json:"index_id"`
	Enabled     bool                      `json:"enabled"`
	ReadOnly    bool                      `json:"read_only"`
	Server      string                    `json:"server,omitempty"`
	Total       int                       `json:"total"`
	Indexed     int                       `json:"indexed"`
	Remaining   int                       `json:"remaining"`
	Datasources map[string]tracker.Counts `json:"datasources"`
}

// Progress returns the indexed share in percent.
func (s Status) Progress() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Indexed) * 100 / float64(s.Total)
}

// TrackingStatus returns the tracker counts of the index.
func (idx *Index) TrackingStatus(ctx context.Context) (Status, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	st := Status{
		IndexID:     idx.cfg.ID,
		Enabled:     idx.cfg.Enabled,
		ReadOnly:    idx.cfg.ReadOnly,
		Server:      idx.cfg.Server,
		Datasources: make(map[string]tracker.Counts),
	}
	counts, err := idx.tracker.Status(ctx)
	if err != nil {
		return st, err
	}
	for _, ds := range idx.DatasourceIDs() {
		c := counts[ds]
		st.Datasources[ds] = c
		st.Total += c.Total
		st.Indexed += c.Indexed
		st.Remaining += c.Remaining
	}
	return st, nil
}

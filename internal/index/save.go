package index

import (
	"context"
	"log/slog"
	"reflect"
	"sort"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/processor"
)

// SaveResult reports what a save did to the stored data.
type SaveResult struct {
	// Reindexed is set when all tracked items were marked pending.
	Reindexed bool `json:"reindexed"`
	// Cleared is set when the index data was deleted from the server.
	Cleared bool `json:"cleared"`
	// ServerChanged is set when the index moved to another server.
	ServerChanged bool `json:"server_changed"`

	TrackingStarted []string `json:"tracking_started,omitempty"`
	TrackingStopped []string `json:"tracking_stopped,omitempty"`
	TrackingSynced  []string `json:"tracking_synced,omitempty"`

	// OrphansRemoved counts items deleted from the server when a
	// read-only index became writable again.
	OrphansRemoved int `json:"orphans_removed,omitempty"`
}

// Changed reports whether the save touched indexed data or tracking.
func (r *SaveResult) Changed() bool {
	return r.Reindexed || r.Cleared || r.ServerChanged || r.OrphansRemoved > 0 ||
		len(r.TrackingStarted)+len(r.TrackingStopped)+len(r.TrackingSynced) > 0
}

// Save persists the in-memory changes made through the field and
// processor administration methods and reacts to them: tracking is
// started or stopped for changed datasources, the backend adapts its
// storage and the index is reindexed when stored data is invalidated.
func (idx *Index) Save(ctx context.Context) (*SaveResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.save(ctx)
}

// Update replaces the configuration with next and saves it. The new
// configuration is validated completely before anything is applied.
func (idx *Index) Update(ctx context.Context, next Config) (*SaveResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if next.ID != idx.cfg.ID {
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "Cannot change the ID of index '%s'.", idx.cfg.ID)
	}
	next = next.Clone()
	if next.Options.BatchSize <= 0 {
		next.Options.BatchSize = DefaultBatchSize
	}
	for id := range next.Datasources {
		if _, err := idx.datasources.Get(id); err != nil {
			return nil, amanerrors.Newf(amanerrors.ErrCodeUnknownDatasource, "The datasource with ID '%s' could not be retrieved for index '%s'.", id, next.ID)
		}
	}
	server := idx.server
	if next.Server != idx.cfg.Server {
		s, err := idx.resolveServer(next.Server)
		if err != nil {
			return nil, err
		}
		server = s
	}

	prevCfg, prevFields, prevChain, prevServer := idx.cfg, idx.fields, idx.chain, idx.server
	restore := func() {
		idx.cfg, idx.fields, idx.chain, idx.server = prevCfg, prevFields, prevChain, prevServer
	}
	idx.cfg = next
	idx.server = server
	fields, err := idx.buildFields(next.Fields)
	if err != nil {
		restore()
		return nil, err
	}
	idx.fields = fields
	chain, err := idx.buildChain(next.Processors)
	if err != nil {
		restore()
		return nil, err
	}
	idx.chain = chain
	idx.resolveMultiValued()

	res, err := idx.save(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (idx *Index) resolveServer(id string) (*backend.Server, error) {
	if id == "" {
		return nil, nil
	}
	if idx.servers == nil {
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "Cannot move index '%s' to server '%s'.", idx.cfg.ID, id)
	}
	s, ok := idx.servers(id)
	if !ok {
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "The server with ID '%s' could not be retrieved for index '%s'.", id, idx.cfg.ID)
	}
	return s, nil
}

func (idx *Index) save(ctx context.Context) (*SaveResult, error) {
	if err := idx.chain.PreIndexSave(idx); err != nil {
		return nil, err
	}
	old := idx.saved
	cur := idx.currentConfig()
	res := &SaveResult{}

	if cur.Tracker.Order != old.Tracker.Order {
		t, err := idx.trackers(ctx, cur.ID, cur.Tracker.Order)
		if err != nil {
			return nil, err
		}
		idx.tracker = t
	}

	switch {
	case old.Enabled && !cur.Enabled:
		if err := idx.disable(ctx, res); err != nil {
			return nil, err
		}
	case !old.Enabled && cur.Enabled:
		if err := idx.enable(ctx, res); err != nil {
			return nil, err
		}
	case cur.Enabled:
		if err := idx.applyChanges(ctx, old, cur, res); err != nil {
			return nil, err
		}
	}

	idx.saved = idx.currentConfig()
	idx.savedServer = idx.server
	idx.renames = make(map[string]string)
	idx.invalidate(ctx)
	idx.logger.Info("index_saved",
		slog.Bool("reindexed", res.Reindexed),
		slog.Bool("server_changed", res.ServerChanged),
		slog.Int("tracking_started", len(res.TrackingStarted)),
		slog.Int("tracking_stopped", len(res.TrackingStopped)))
	return res, nil
}

// disable stops all tracking and removes the index from its server.
func (idx *Index) disable(ctx context.Context, res *SaveResult) error {
	if err := idx.tracker.TrackAllItemsDeleted(ctx, ""); err != nil {
		return err
	}
	if idx.savedServer.IsAvailable() {
		if err := idx.savedServer.Backend().RemoveIndex(ctx, idx.cfg.ID); err != nil {
			return err
		}
		res.Cleared = true
	}
	return nil
}

// enable adds the index to its server and tracks every item.
func (idx *Index) enable(ctx context.Context, res *SaveResult) error {
	if idx.server.IsAvailable() {
		if err := idx.server.Backend().AddIndex(ctx, idx); err != nil {
			return err
		}
	}
	for _, ds := range idx.DatasourceIDs() {
		if err := idx.startTracking(ctx, ds); err != nil {
			return err
		}
		res.TrackingStarted = append(res.TrackingStarted, ds)
	}
	return nil
}

func (idx *Index) applyChanges(ctx context.Context, old, cur Config, res *SaveResult) error {
	if cur.Server != old.Server {
		if idx.savedServer.IsAvailable() {
			if err := idx.savedServer.Backend().RemoveIndex(ctx, idx.cfg.ID); err != nil {
				idx.logger.Warn("index_old_server_remove_failed", slog.String("server", old.Server), slog.String("error", err.Error()))
			}
		}
		if idx.server.IsAvailable() {
			if err := idx.server.Backend().AddIndex(ctx, idx); err != nil {
				return err
			}
		}
		res.ServerChanged = true
		res.Reindexed = true
	} else if idx.server.IsAvailable() && fieldsChanged(old.Fields, cur.Fields, idx.renames) {
		reindex, err := idx.server.Backend().UpdateIndex(ctx, idx)
		if err != nil {
			return err
		}
		res.Reindexed = res.Reindexed || reindex
	}

	if processorsRequireReindexing(idx.processors, old.Processors, cur.Processors) {
		res.Reindexed = true
	}

	for _, ds := range sortedKeys(old.Datasources) {
		if _, ok := cur.Datasources[ds]; !ok {
			if err := idx.stopTracking(ctx, ds); err != nil {
				return err
			}
			res.TrackingStopped = append(res.TrackingStopped, ds)
		}
	}
	for _, ds := range sortedKeys(cur.Datasources) {
		prev, existed := old.Datasources[ds]
		switch {
		case !existed:
			if err := idx.startTracking(ctx, ds); err != nil {
				return err
			}
			res.TrackingStarted = append(res.TrackingStarted, ds)
		case !prev.Filter().Equal(cur.Datasources[ds].Filter()):
			if err := idx.syncTracking(ctx, ds); err != nil {
				return err
			}
			res.TrackingSynced = append(res.TrackingSynced, ds)
		}
	}

	if old.ReadOnly && !cur.ReadOnly && idx.server.IsAvailable() {
		issues, err := idx.checkConsistency(ctx)
		if err != nil {
			return err
		}
		n, err := idx.repair(ctx, issues.Inconsistencies)
		if err != nil {
			return err
		}
		res.OrphansRemoved = n
	}

	if res.Reindexed {
		return idx.reindex(ctx)
	}
	return nil
}

func fieldsChanged(old, cur map[string]FieldConfig, renames map[string]string) bool {
	if len(renames) > 0 || len(old) != len(cur) {
		return true
	}
	for id, f := range cur {
		o, ok := old[id]
		if !ok || !reflect.DeepEqual(o, f) {
			return true
		}
	}
	return false
}

// processorsRequireReindexing compares two processor configurations. Adding
// or removing a processor with an index-time stage, or changing its
// settings, invalidates indexed data.
func processorsRequireReindexing(reg *processor.Registry, old, cur map[string]ProcessorConfig) bool {
	ids := make(map[string]bool, len(old)+len(cur))
	for id := range old {
		ids[id] = true
	}
	for id := range cur {
		ids[id] = true
	}
	for id := range ids {
		d, ok := reg.Descriptor(id)
		if !ok {
			continue
		}
		o, inOld := old[id]
		c, inCur := cur[id]
		if inOld != inCur {
			if d.HasIndexTimeStage() && !d.Locked {
				return true
			}
			continue
		}
		if d.RequiresReindexing(processor.Settings(o.Settings), processor.Settings(c.Settings)) {
			return true
		}
		if d.HasIndexTimeStage() && !reflect.DeepEqual(indexTimeWeights(o.Weights), indexTimeWeights(c.Weights)) {
			return true
		}
	}
	return false
}

func indexTimeWeights(w map[string]int) map[string]int {
	out := make(map[string]int)
	for s, v := range w {
		if processor.Stage(s).IsIndexTime() {
			out[s] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

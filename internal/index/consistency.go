package index

import (
	"context"
	"log/slog"
	"sort"
	"time"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/item"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphan is an item stored on the server that the tracker
	// does not know about.
	InconsistencyOrphan InconsistencyType = iota
	// InconsistencyMissing is an item the tracker reports as indexed that
	// is missing from the server.
	InconsistencyMissing
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphan:
		return "orphan"
	case InconsistencyMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Inconsistency is one item whose tracker and server state disagree.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	ItemID  string            `json:"item_id"`
	Details string            `json:"details"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of item IDs compared.
	Checked int `json:"checked"`
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	// Duration is how long the check took.
	Duration time.Duration `json:"duration"`
}

// Orphans returns the number of orphaned items.
func (r *CheckResult) Orphans() int { return r.count(InconsistencyOrphan) }

// Missing returns the number of missing items.
func (r *CheckResult) Missing() int { return r.count(InconsistencyMissing) }

func (r *CheckResult) count(t InconsistencyType) int {
	n := 0
	for _, i := range r.Inconsistencies {
		if i.Type == t {
			n++
		}
	}
	return n
}

// ConsistencyChecker compares the tracker of an index with the items its
// server actually stores.
type ConsistencyChecker struct {
	idx *Index
}

// NewConsistencyChecker creates a checker for idx.
func NewConsistencyChecker(idx *Index) *ConsistencyChecker {
	return &ConsistencyChecker{idx: idx}
}

// Check lists orphaned and missing items.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()
	if err := c.idx.requireServer(); err != nil {
		return nil, err
	}
	return c.idx.checkConsistency(ctx)
}

// Repair deletes orphans from the server and marks missing items as
// pending, so the next indexing run stores them again.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (int, error) {
	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()
	if err := c.idx.requireServer(); err != nil {
		return 0, err
	}
	return c.idx.repair(ctx, issues)
}

// QuickCheck compares counts and returns true if they match. Differing
// counts fall back to a full check. Items dropped by processors are tracked
// but not stored.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()
	if err := c.idx.requireServer(); err != nil {
		return false, err
	}
	indexed, err := c.idx.tracker.IndexedItemsCount(ctx, "")
	if err != nil {
		return false, err
	}
	stored, err := c.idx.server.Backend().IndexedItemIDs(ctx, c.idx)
	if err != nil {
		return false, err
	}
	if indexed != len(stored) {
		slog.Debug("index counts mismatch",
			slog.String("index", c.idx.cfg.ID),
			slog.Int("tracker", indexed),
			slog.Int("server", len(stored)))
		res, err := c.idx.checkConsistency(ctx)
		if err != nil {
			return false, err
		}
		return len(res.Inconsistencies) == 0, nil
	}
	return true, nil
}

func (idx *Index) checkConsistency(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	stored, err := idx.server.Backend().IndexedItemIDs(ctx, idx)
	if err != nil {
		return nil, err
	}
	tracked, err := trackedItems(ctx, idx.tracker, "")
	if err != nil {
		return nil, err
	}
	indexed, err := idx.tracker.IndexedItems(ctx, "")
	if err != nil {
		return nil, err
	}

	storedSet := make(map[string]bool, len(stored))
	var issues []Inconsistency
	for _, id := range stored {
		storedSet[id] = true
		if !tracked[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphan,
				ItemID:  id,
				Details: "stored on the server but not tracked",
			})
		}
	}
	var absent []string
	for _, id := range indexed {
		if !storedSet[id] {
			absent = append(absent, id)
		}
	}
	rejected, err := idx.rejectedItems(ctx, absent)
	if err != nil {
		return nil, err
	}
	for _, id := range absent {
		if rejected[id] {
			continue
		}
		issues = append(issues, Inconsistency{
			Type:    InconsistencyMissing,
			ItemID:  id,
			Details: "tracked as indexed but missing from the server",
		})
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].ItemID < issues[j].ItemID })

	return &CheckResult{
		Checked:         len(storedSet) + len(tracked),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// rejectedItems returns the IDs among ids that the processors drop when
// altering items. Those are tracked as indexed without being stored.
func (idx *Index) rejectedItems(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := idx.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	batch := make([]*item.Item, 0, len(items))
	for _, id := range ids {
		if it, ok := items[id]; ok {
			batch = append(batch, it)
		}
	}
	kept, err := idx.chain.AlterItems(ctx, batch)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeIndexFailed, "failed to alter items", err)
	}
	rejected := make(map[string]bool, len(batch))
	for _, it := range batch {
		rejected[it.ID()] = true
	}
	for _, it := range kept {
		delete(rejected, it.ID())
	}
	return rejected, nil
}

// repair returns the number of orphans removed.
func (idx *Index) repair(ctx context.Context, issues []Inconsistency) (int, error) {
	var orphans, missing []string
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphan:
			orphans = append(orphans, issue.ItemID)
		case InconsistencyMissing:
			missing = append(missing, issue.ItemID)
		}
	}

	if len(orphans) > 0 {
		if err := idx.server.Backend().DeleteItems(ctx, idx, orphans); err != nil {
			return 0, err
		}
		idx.invalidate(ctx)
		idx.logger.Info("deleted orphan items", slog.Int("count", len(orphans)))
	}
	if len(missing) > 0 {
		if err := idx.tracker.TrackItemsUpdated(ctx, missing); err != nil {
			return len(orphans), err
		}
		idx.logger.Warn("index has missing items, marked for reindexing", slog.Int("missing_count", len(missing)))
	}
	return len(orphans), nil
}

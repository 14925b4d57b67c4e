package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

func TestInconsistencyType_String(t *testing.T) {
	assert.Equal(t, "orphan", InconsistencyOrphan.String())
	assert.Equal(t, "missing", InconsistencyMissing.String())
	assert.Equal(t, "unknown", InconsistencyType(9).String())
}

func TestConsistencyChecker_Consistent(t *testing.T) {
	ctx := context.Background()

	// Given: a fully indexed index
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "foo"), article("2", "bar"))
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)
	checker := NewConsistencyChecker(idx)

	// When: checking
	res, err := checker.Check(ctx)
	require.NoError(t, err)
	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)

	// Then: nothing is reported
	assert.Empty(t, res.Inconsistencies)
	assert.True(t, ok)
}

func TestConsistencyChecker_IgnoresItemsDroppedByProcessors(t *testing.T) {
	ctx := context.Background()

	// Given: an unpublished article the entity status processor keeps off
	// the server
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	require.NoError(t, idx.EnableProcessor("entity_status", ProcessorConfig{}))
	unpublished := article("2", "draft")
	unpublished.Fields["status"] = false
	f.put(article("1", "foo"), unpublished)
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)
	stored, err := f.server.Backend().IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	require.Equal(t, []string{nodeID("1")}, stored)
	checker := NewConsistencyChecker(idx)

	// When: checking
	res, err := checker.Check(ctx)
	require.NoError(t, err)

	// Then: the rejected item is not reported as missing
	assert.Empty(t, res.Inconsistencies)
	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// When: the stored article is lost as well
	require.NoError(t, f.server.Backend().DeleteItems(ctx, idx, []string{nodeID("1")}))
	res, err = checker.Check(ctx)
	require.NoError(t, err)

	// Then: only that one is missing
	require.Len(t, res.Inconsistencies, 1)
	assert.Equal(t, nodeID("1"), res.Inconsistencies[0].ItemID)
	assert.Equal(t, InconsistencyMissing, res.Inconsistencies[0].Type)
	ok, err = checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsistencyChecker_OrphansAndMissing(t *testing.T) {
	ctx := context.Background()

	// Given: one stored item the tracker forgot and one tracked as indexed
	// but deleted from the server
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "foo"), article("2", "bar"))
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)
	require.NoError(t, idx.Tracker().TrackItemsDeleted(ctx, []string{nodeID("1")}))
	require.NoError(t, f.server.Backend().DeleteItems(ctx, idx, []string{nodeID("2")}))
	checker := NewConsistencyChecker(idx)

	// When: checking
	res, err := checker.Check(ctx)
	require.NoError(t, err)

	// Then: both problems are found
	assert.Equal(t, 1, res.Orphans())
	assert.Equal(t, 1, res.Missing())
	assert.Equal(t, nodeID("1"), res.Inconsistencies[0].ItemID)
	assert.Equal(t, InconsistencyOrphan, res.Inconsistencies[0].Type)

	// When: repairing
	removed, err := checker.Repair(ctx, res.Inconsistencies)
	require.NoError(t, err)

	// Then: the orphan is deleted and the missing item is pending again
	assert.Equal(t, 1, removed)
	stored, err := f.server.Backend().IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, 1, status(t, idx).Remaining)

	// And: after indexing the index is consistent
	_, err = idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)
	res, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Inconsistencies)
}

func TestConsistencyChecker_WritableAgainRemovesOrphans(t *testing.T) {
	ctx := context.Background()

	// Given: an indexed item that is deleted while the index is read-only
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "foo"))
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)
	cfg := idx.Config()
	cfg.ReadOnly = true
	_, err = idx.Update(ctx, cfg)
	require.NoError(t, err)
	f.docs.Delete(ctx, "1")

	// Then: the stored copy stays behind
	stored, err := f.server.Backend().IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	// When: the index becomes writable
	cfg.ReadOnly = false
	res, err := idx.Update(ctx, cfg)
	require.NoError(t, err)

	// Then: the orphan is removed
	assert.Equal(t, 1, res.OrphansRemoved)
	stored, err = f.server.Backend().IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestConsistencyChecker_NoServer(t *testing.T) {
	f := newFixture(t)
	cfg := articlesConfig()
	cfg.Server = ""
	cfg.Enabled = false
	idx, err := New(context.Background(), cfg, Deps{
		Datasources: f.datasources,
		Processors:  defaultRegistry(),
		Trackers:    f.trackers,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	_, err = NewConsistencyChecker(idx).Check(context.Background())

	assert.Equal(t, amanerrors.ErrCodeNoServer, amanerrors.GetCode(err))
}

package async

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amansearch/internal/ui"
)

func TestNewIndexProgress(t *testing.T) {
	p := NewIndexProgress()

	snap := p.Snapshot()
	assert.True(t, p.IsIndexing())
	assert.Equal(t, "indexing", snap.Status)
	assert.Equal(t, "Tracking", snap.Stage)
	assert.Empty(t, snap.Indexes)
	assert.Zero(t, snap.ProgressPct)
}

func TestIndexProgress_AggregatesIndexes(t *testing.T) {
	// Given: progress events for two indexes, one reported twice
	p := NewIndexProgress()
	p.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: "products", Current: 0, Total: 10})
	p.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: "content", Current: 5, Total: 10})
	p.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: "products", Current: 10, Total: 10})

	// When: taking a snapshot
	snap := p.Snapshot()

	// Then: the latest counts per index are summed, sorted by index
	assert.Equal(t, []IndexCounts{
		{Index: "content", Indexed: 5, Total: 10},
		{Index: "products", Indexed: 10, Total: 10},
	}, snap.Indexes)
	assert.Equal(t, 15, snap.ItemsIndexed)
	assert.Equal(t, 20, snap.ItemsTotal)
	assert.InDelta(t, 75.0, snap.ProgressPct, 0.001)
	assert.Equal(t, "Indexing", snap.Stage)
}

func TestIndexProgress_IgnoresEventsWithoutTotals(t *testing.T) {
	p := NewIndexProgress()

	p.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: "content"})

	assert.Empty(t, p.Snapshot().Indexes)
}

func TestIndexProgress_ErrorsSkipWarnings(t *testing.T) {
	p := NewIndexProgress()

	p.AddError(ui.ErrorEvent{Index: "content", Err: errors.New("disabled"), IsWarn: true})
	p.AddError(ui.ErrorEvent{Index: "content", Err: errors.New("batch failed")})

	snap := p.Snapshot()
	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, "content: batch failed", snap.ErrorMessage)
	assert.True(t, p.IsIndexing())
}

func TestIndexProgress_CompleteAndReady(t *testing.T) {
	p := NewIndexProgress()

	p.Complete(ui.CompletionStats{Items: 4})
	assert.Equal(t, "Complete", p.Snapshot().Stage)
	assert.True(t, p.IsIndexing())

	p.SetReady()
	assert.False(t, p.IsIndexing())
	assert.Equal(t, "ready", p.Snapshot().Status)
}

func TestIndexProgress_SetError(t *testing.T) {
	p := NewIndexProgress()

	p.SetError("database locked")

	snap := p.Snapshot()
	assert.Equal(t, "error", snap.Status)
	assert.Equal(t, "database locked", snap.ErrorMessage)
}

func TestIndexProgress_ConcurrentUpdates(t *testing.T) {
	p := NewIndexProgress()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: "content", Current: i, Total: 20})
		}()
		go func() {
			defer wg.Done()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()

	assert.Len(t, p.Snapshot().Indexes, 1)
}

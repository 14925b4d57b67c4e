package ui

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_StartsInTracking(t *testing.T) {
	s := NewProgressTracker().Snapshot()

	assert.Equal(t, StageTracking, s.Stage)
	assert.Empty(t, s.Rows)
	assert.Zero(t, s.Fraction())
	assert.Zero(t, s.ETA)
}

func TestProgressTracker_RowsSortedAndSummed(t *testing.T) {
	// Given: events for two indexes in arbitrary order
	p := NewProgressTracker()
	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "users", Current: 5, Total: 20})
	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "content", Current: 30, Total: 80})

	// When: taking a snapshot
	s := p.Snapshot()

	// Then: rows are sorted by ID and totals cover both
	assert.Equal(t, []IndexRow{
		{ID: "content", Current: 30, Total: 80},
		{ID: "users", Current: 5, Total: 20},
	}, s.Rows)
	assert.Equal(t, 35, s.Current)
	assert.Equal(t, 100, s.Total)
	assert.InDelta(t, 0.35, s.Fraction(), 1e-9)
}

func TestProgressTracker_LaterEventReplacesRow(t *testing.T) {
	p := NewProgressTracker()
	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "content", Current: 0, Total: 10})
	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "content", Current: 10, Total: 10})

	rows := p.Snapshot().Rows

	assert.Len(t, rows, 1)
	assert.True(t, rows[0].Done())
}

func TestProgressTracker_IgnoresEmptyRows(t *testing.T) {
	p := NewProgressTracker()
	p.Observe(ProgressEvent{Stage: StageTracking, Index: "content", Message: "syncing"})

	s := p.Snapshot()

	assert.Equal(t, StageTracking, s.Stage)
	assert.Empty(t, s.Rows)
}

func TestProgressTracker_Finish(t *testing.T) {
	p := NewProgressTracker()
	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "content", Current: 1, Total: 2})

	p.Finish()

	assert.Equal(t, StageComplete, p.Snapshot().Stage)
}

func TestProgressTracker_SeparatesErrorsAndWarnings(t *testing.T) {
	p := NewProgressTracker()
	p.AddError(ErrorEvent{Index: "content"})
	p.AddError(ErrorEvent{Index: "archive", IsWarn: true})
	p.AddError(ErrorEvent{Index: "content"})

	s := p.Snapshot()

	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, 1, s.Warnings)
	assert.Len(t, p.Errors(), 2)
	assert.Equal(t, "archive", p.Warnings()[0].Index)
}

func TestProgressTracker_RateAndETA(t *testing.T) {
	// Given: a tracker whose last sample was a second ago
	p := NewProgressTracker()
	p.sampledAt = time.Now().Add(-time.Second)

	// When: 100 of 300 items are done
	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "content", Current: 100, Total: 300})

	// Then: the rate is about 100 items/s and 200 items remain
	s := p.Snapshot()
	assert.InDelta(t, 100, s.Rate, 10)
	assert.Equal(t, s.Rate, s.AvgRate)
	assert.Equal(t, s.Rate, s.PeakRate)
	assert.InDelta(t, 2*time.Second, s.ETA, float64(300*time.Millisecond))
	assert.NotEqual(t, "", p.RenderSparkline(10))
}

func TestProgressTracker_RateSamplingIsThrottled(t *testing.T) {
	p := NewProgressTracker()

	p.Observe(ProgressEvent{Stage: StageIndexing, Index: "content", Current: 100, Total: 300})

	assert.Zero(t, p.Snapshot().Rate)
}

func TestIndexRow_Fraction(t *testing.T) {
	assert.Zero(t, IndexRow{Total: 0, Current: 5}.Fraction())
	assert.Equal(t, 0.5, IndexRow{Total: 10, Current: 5}.Fraction())
	assert.Equal(t, 1.0, IndexRow{Total: 10, Current: 12}.Fraction())
	assert.False(t, IndexRow{}.Done())
}

func TestProgressTracker_ConcurrentUse(t *testing.T) {
	p := NewProgressTracker()
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				p.Observe(ProgressEvent{Stage: StageIndexing, Index: id, Current: i + 1, Total: 100})
				_ = p.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := p.Snapshot()
	assert.Equal(t, 400, s.Current)
	assert.Equal(t, 400, s.Total)
}

package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/ui"
)

// recordingRenderer captures renderer calls.
type recordingRenderer struct {
	mu        sync.Mutex
	progress  []ui.ProgressEvent
	errors    []ui.ErrorEvent
	completed []ui.CompletionStats
}

func (r *recordingRenderer) Start(context.Context) error { return nil }
func (r *recordingRenderer) Stop() error                  { return nil }

func (r *recordingRenderer) UpdateProgress(e ui.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
}

func (r *recordingRenderer) AddError(e ui.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *recordingRenderer) Complete(s ui.CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, s)
}

func newTestRunner(t *testing.T) (*Runner, *recordingRenderer) {
	t.Helper()
	rec := &recordingRenderer{}
	r, err := NewRunner(RunnerDependencies{Renderer: rec, Logger: discardLogger()})
	require.NoError(t, err)
	return r, rec
}

func putArticles(f *fixture, n int) {
	for i := 1; i <= n; i++ {
		f.put(article(fmt.Sprint(i), fmt.Sprintf("article number %d", i)))
	}
}

func TestNewRunner_RequiresRenderer(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)
}

func TestRunner_Run_DrainsQueueInBatches(t *testing.T) {
	// Given: five pending items and a batch size of two
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	putArticles(f, 5)
	runner, rec := newTestRunner(t)

	// When: running
	res, err := runner.Run(context.Background(), idx, RunnerConfig{BatchSize: 2})
	require.NoError(t, err)

	// Then: all items are indexed in three batches
	assert.Equal(t, 1, res.Indexes)
	assert.Equal(t, 5, res.Items)
	assert.Equal(t, 3, res.Batches)
	assert.Zero(t, res.Remaining)
	assert.Zero(t, res.Errors)

	// And: progress was reported from zero to the total
	require.Len(t, rec.progress, 4)
	assert.Equal(t, 0, rec.progress[0].Current)
	assert.Equal(t, 5, rec.progress[3].Current)
	assert.Equal(t, "articles", rec.progress[3].Index)
	assert.Equal(t, ui.StageIndexing, rec.progress[3].Stage)
	require.Len(t, rec.completed, 1)
	assert.Equal(t, 5, rec.completed[0].Items)
}

func TestRunner_Run_Limit(t *testing.T) {
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	putArticles(f, 5)
	runner, _ := newTestRunner(t)

	res, err := runner.Run(context.Background(), idx, RunnerConfig{Limit: 3, BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 2, res.Remaining)
}

func TestRunner_Run_ReadOnlyWarns(t *testing.T) {
	// Given: a read-only index with pending items
	f := newFixture(t)
	cfg := articlesConfig()
	cfg.ReadOnly = true
	idx := f.newIndex(cfg)
	putArticles(f, 2)
	runner, rec := newTestRunner(t)

	// When: running
	res, err := runner.Run(context.Background(), idx, RunnerConfig{})
	require.NoError(t, err)

	// Then: nothing is indexed and a warning is shown
	assert.Zero(t, res.Items)
	assert.Equal(t, 2, res.Remaining)
	require.Len(t, rec.errors, 1)
	assert.True(t, rec.errors[0].IsWarn)
	assert.Equal(t, "articles", rec.errors[0].Index)
}

func TestRunner_Run_CancelledContext(t *testing.T) {
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	putArticles(f, 2)
	runner, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, idx, RunnerConfig{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_RunAll(t *testing.T) {
	// Given: two indexes over the same documents
	f := newFixture(t)
	first := f.newIndex(articlesConfig())
	cfg := articlesConfig()
	cfg.ID = "mirror"
	second := f.newIndex(cfg)
	putArticles(f, 3)
	runner, rec := newTestRunner(t)

	// When: running both
	res, err := runner.RunAll(context.Background(), []*Index{first, second}, RunnerConfig{Concurrency: 2})
	require.NoError(t, err)

	// Then: the totals add up and completion is reported once
	assert.Equal(t, 2, res.Indexes)
	assert.Equal(t, 6, res.Items)
	assert.Zero(t, res.Remaining)
	require.Len(t, rec.completed, 1)
	assert.Equal(t, 2, rec.completed[0].Indexes)
}

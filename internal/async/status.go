// Package async runs index queue draining in the background, so the MCP
// server can answer while a first indexing run catches up.
package async

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/amansearch/internal/ui"
)

// IndexingStatus is the overall state of a background run.
type IndexingStatus string

const (
	StatusIndexing IndexingStatus = "indexing"
	StatusReady    IndexingStatus = "ready"
	StatusError    IndexingStatus = "error"
)

// IndexCounts is the progress of one index.
type IndexCounts struct {
	Index   string `json:"index"`
	Indexed int    `json:"indexed"`
	Total   int    `json:"total"`
}

// IndexProgressSnapshot is a copy of the progress at one point in time.
type IndexProgressSnapshot struct {
	Status         string        `json:"status"`
	Stage          string        `json:"stage"`
	Indexes        []IndexCounts `json:"indexes"`
	ItemsIndexed   int           `json:"items_indexed"`
	ItemsTotal     int           `json:"items_total"`
	ProgressPct    float64       `json:"progress_pct"`
	Errors         int           `json:"errors"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// IndexProgress tracks a background run. It is the ui.Renderer the run
// reports to.
type IndexProgress struct {
	mu sync.RWMutex

	status    IndexingStatus
	stage     ui.Stage
	indexes   map[string]IndexCounts
	errors    int
	lastError string
	startTime time.Time
}

var _ ui.Renderer = (*IndexProgress)(nil)

// NewIndexProgress creates a tracker in the indexing state.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:    StatusIndexing,
		stage:     ui.StageTracking,
		indexes:   make(map[string]IndexCounts),
		startTime: time.Now(),
	}
}

// Start implements ui.Renderer.
func (p *IndexProgress) Start(context.Context) error { return nil }

// Stop implements ui.Renderer.
func (p *IndexProgress) Stop() error { return nil }

// UpdateProgress implements ui.Renderer.
func (p *IndexProgress) UpdateProgress(e ui.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = e.Stage
	if e.Index != "" && e.Total > 0 {
		p.indexes[e.Index] = IndexCounts{Index: e.Index, Indexed: e.Current, Total: e.Total}
	}
}

// AddError implements ui.Renderer. Warnings are ignored.
func (p *IndexProgress) AddError(e ui.ErrorEvent) {
	if e.IsWarn || e.Err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	p.lastError = e.Index + ": " + e.Err.Error()
}

// Complete implements ui.Renderer.
func (p *IndexProgress) Complete(ui.CompletionStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = ui.StageComplete
}

// SetError marks the run as failed.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusError
	p.lastError = message
}

// SetReady marks the run as finished.
func (p *IndexProgress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
	p.stage = ui.StageComplete
}

// IsIndexing reports whether the run is still going.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusIndexing
}

// Snapshot returns a copy of the current progress, indexes sorted by ID.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          p.stage.String(),
		Indexes:        make([]IndexCounts, 0, len(p.indexes)),
		Errors:         p.errors,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.lastError,
	}
	ids := make([]string, 0, len(p.indexes))
	for id := range p.indexes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := p.indexes[id]
		snap.Indexes = append(snap.Indexes, c)
		snap.ItemsIndexed += c.Indexed
		snap.ItemsTotal += c.Total
	}
	if snap.ItemsTotal > 0 {
		snap.ProgressPct = float64(snap.ItemsIndexed) / float64(snap.ItemsTotal) * 100
	}
	return snap
}

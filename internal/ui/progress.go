package ui

import (
	"sort"
	"sync"
	"time"
)

const (
	rateSampleInterval = 500 * time.Millisecond
	// rateSmoothing is the weight of a new rate sample in the average.
	rateSmoothing = 0.25
)

// IndexRow is the progress of one index in a run.
type IndexRow struct {
	ID      string
	Current int
	Total   int
}

// Fraction returns the done share in [0, 1].
func (r IndexRow) Fraction() float64 {
	if r.Total <= 0 {
		return 0
	}
	return min(float64(r.Current)/float64(r.Total), 1)
}

// Done reports whether every item of the row is indexed.
func (r IndexRow) Done() bool { return r.Total > 0 && r.Current >= r.Total }

// ProgressSnapshot is the state of a run at one point in time.
type ProgressSnapshot struct {
	Stage    Stage
	Rows     []IndexRow
	Current  int
	Total    int
	Rate     float64
	AvgRate  float64
	PeakRate float64
	ETA      time.Duration
	Elapsed  time.Duration
	Errors   int
	Warnings int
}

// Fraction returns the done share over all indexes.
func (s ProgressSnapshot) Fraction() float64 {
	return IndexRow{Current: s.Current, Total: s.Total}.Fraction()
}

// ProgressTracker aggregates the events of a run, possibly reported by
// several indexes at once. It is safe for concurrent use.
type ProgressTracker struct {
	mu    sync.RWMutex
	stage Stage
	rows  map[string]IndexRow
	start time.Time

	errors   []ErrorEvent
	warnings []ErrorEvent

	sampledAt    time.Time
	sampledItems int
	rate         float64
	avgRate      float64
	peakRate     float64
	spark        *Sparkline
}

// NewProgressTracker creates a tracker for a run starting now.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:     StageTracking,
		rows:      make(map[string]IndexRow),
		start:     now,
		sampledAt: now,
		spark:     NewSparkline(60),
	}
}

// Observe records a progress event.
func (p *ProgressTracker) Observe(e ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = e.Stage
	if e.Index != "" && (e.Total > 0 || e.Current > 0) {
		p.rows[e.Index] = IndexRow{ID: e.Index, Current: e.Current, Total: e.Total}
	}
	p.sampleLocked(time.Now())
}

func (p *ProgressTracker) sampleLocked(now time.Time) {
	elapsed := now.Sub(p.sampledAt)
	if elapsed < rateSampleInterval {
		return
	}
	done := p.doneLocked()
	p.rate = float64(done-p.sampledItems) / elapsed.Seconds()
	if p.avgRate == 0 {
		p.avgRate = p.rate
	} else {
		p.avgRate = rateSmoothing*p.rate + (1-rateSmoothing)*p.avgRate
	}
	p.peakRate = max(p.peakRate, p.rate)
	p.spark.Add(p.rate)
	p.sampledAt, p.sampledItems = now, done
}

func (p *ProgressTracker) doneLocked() int {
	n := 0
	for _, r := range p.rows {
		n += r.Current
	}
	return n
}

// Finish moves the run to the complete stage.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageComplete
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(e ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.IsWarn {
		p.warnings = append(p.warnings, e)
	} else {
		p.errors = append(p.errors, e)
	}
}

// Snapshot returns the current state with rows sorted by index ID.
func (p *ProgressTracker) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := ProgressSnapshot{
		Stage:    p.stage,
		Rows:     make([]IndexRow, 0, len(p.rows)),
		Rate:     p.rate,
		AvgRate:  p.avgRate,
		PeakRate: p.peakRate,
		Elapsed:  time.Since(p.start),
		Errors:   len(p.errors),
		Warnings: len(p.warnings),
	}
	for _, r := range p.rows {
		s.Rows = append(s.Rows, r)
		s.Current += r.Current
		s.Total += r.Total
	}
	sort.Slice(s.Rows, func(i, j int) bool { return s.Rows[i].ID < s.Rows[j].ID })
	if left := s.Total - s.Current; left > 0 && p.avgRate > 0 {
		s.ETA = time.Duration(float64(left) / p.avgRate * float64(time.Second))
	}
	return s
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

// RenderSparkline draws the throughput history.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spark.Render(width)
}

package telemetry

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store persists query metrics.
type Store interface {
	// Apply adds a delta in one transaction.
	Apply(ctx context.Context, d *Delta) error
	QueryTypeCounts(ctx context.Context, from, to string) (map[QueryType]int64, error)
	TopTerms(ctx context.Context, limit int) ([]TermCount, error)
	ZeroResultQueries(ctx context.Context, limit int) ([]ZeroResultQuery, error)
	LatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error)
}

// Options size the in-memory state of a QueryMetrics.
type Options struct {
	TopTerms      int
	ZeroResults   int
	RecentQueries int
	// FlushInterval is how often the store is written; 0 flushes only
	// on Flush and Close.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// DefaultOptions flush once a minute.
func DefaultOptions() Options {
	return Options{TopTerms: 100, ZeroResults: 100, RecentQueries: 500, FlushInterval: time.Minute}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	o.TopTerms = cmp.Or(max(o.TopTerms, 0), d.TopTerms)
	o.ZeroResults = cmp.Or(max(o.ZeroResults, 0), d.ZeroResults)
	o.RecentQueries = cmp.Or(max(o.RecentQueries, 0), d.RecentQueries)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Snapshot is the in-memory view of the queries seen since start.
type Snapshot struct {
	Since        time.Time
	Total        int64
	Misses       int64
	Repeats      int64
	Unique       int64
	QueryTypes   map[QueryType]int64
	Indexes      map[string]int64
	Latency      map[LatencyBucket]int64
	TopTerms     []TermCount
	RecentMisses []ZeroResultQuery
}

// MissRate is the percentage of searches that found nothing.
func (s *Snapshot) MissRate() float64 { return percentOf(s.Misses, s.Total) }

// RepeatRate is the share of searches repeating a recent one, in [0, 1].
func (s *Snapshot) RepeatRate() float64 { return percentOf(s.Repeats, s.Total) / 100 }

func percentOf(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// QueryMetrics collects query telemetry and periodically hands what it
// saw to a Store. It is safe for concurrent use.
type QueryMetrics struct {
	store  Store
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	since      time.Time
	total      int64
	misses     int64
	repeats    int64
	queryTypes map[QueryType]int64
	indexes    map[string]int64
	latency    map[LatencyBucket]int64
	terms      *lru.Cache[string, int64]
	recent     *lru.Cache[string, struct{}]
	missLog    *ring[ZeroResultQuery]
	pending    *Delta
}

// NewQueryMetrics creates a collector with DefaultOptions. A nil store
// keeps metrics in memory only.
func NewQueryMetrics(store Store) *QueryMetrics { return New(store, DefaultOptions()) }

// New creates a collector. The flush loop starts only with a store and a
// positive FlushInterval.
func New(store Store, opts Options) *QueryMetrics {
	opts = opts.withDefaults()
	terms, _ := lru.New[string, int64](opts.TopTerms)
	recent, _ := lru.New[string, struct{}](opts.RecentQueries)
	m := &QueryMetrics{
		store:      store,
		logger:     opts.Logger,
		since:      time.Now(),
		queryTypes: make(map[QueryType]int64),
		indexes:    make(map[string]int64),
		latency:    make(map[LatencyBucket]int64),
		terms:      terms,
		recent:     recent,
		missLog:    newRing[ZeroResultQuery](opts.ZeroResults),
		pending:    newDelta(),
	}
	if store != nil && opts.FlushInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel, m.done = cancel, make(chan struct{})
		go m.flushEvery(ctx, opts.FlushInterval)
	}
	return m
}

func (m *QueryMetrics) flushEvery(ctx context.Context, every time.Duration) {
	defer close(m.done)
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := m.Flush(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Record adds one search. Searches recorded after Close are dropped.
func (m *QueryMetrics) Record(e QueryEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	terms := ExtractTerms(e.Keys)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.total++
	m.queryTypes[e.QueryType]++
	m.indexes[e.Index]++
	m.latency[BucketOf(e.Latency)]++
	for _, t := range terms {
		n, _ := m.terms.Get(t)
		m.terms.Add(t, n+1)
	}
	if e.missed() {
		m.misses++
		m.missLog.push(ZeroResultQuery{Index: e.Index, Keys: e.Keys, Timestamp: e.Timestamp})
	}
	key := e.repeatKey()
	if m.recent.Contains(key) {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
	m.pending.add(e, terms)
}

// Snapshot copies the current in-memory state. Top terms are sorted by
// count, then alphabetically.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		Since:        m.since,
		Total:        m.total,
		Misses:       m.misses,
		Repeats:      m.repeats,
		Unique:       int64(m.recent.Len()),
		QueryTypes:   maps.Clone(m.queryTypes),
		Indexes:      maps.Clone(m.indexes),
		Latency:      maps.Clone(m.latency),
		RecentMisses: m.missLog.items(),
	}
	for _, t := range m.terms.Keys() {
		if n, ok := m.terms.Peek(t); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: t, Count: n})
		}
	}
	slices.SortFunc(s.TopTerms, func(a, b TermCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Term, b.Term))
	})
	return s
}

// History is what the store accumulated over a range of days.
type History struct {
	From        string                  `json:"from"`
	To          string                  `json:"to"`
	QueryTypes  map[QueryType]int64     `json:"query_types"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
	TopTerms    []TermCount             `json:"top_terms"`
	ZeroResults []ZeroResultQuery       `json:"zero_results"`
}

// History reads the persisted counters of the last days days, today
// included. It returns nil without a store.
func (m *QueryMetrics) History(ctx context.Context, days, limit int) (*History, error) {
	if m.store == nil {
		return nil, nil
	}
	now := time.Now()
	h := &History{
		From: now.AddDate(0, 0, 1-max(days, 1)).Format(dayLayout),
		To:   now.Format(dayLayout),
	}
	var err error
	if h.QueryTypes, err = m.store.QueryTypeCounts(ctx, h.From, h.To); err != nil {
		return nil, err
	}
	if h.Latency, err = m.store.LatencyCounts(ctx, h.From, h.To); err != nil {
		return nil, err
	}
	if h.TopTerms, err = m.store.TopTerms(ctx, limit); err != nil {
		return nil, err
	}
	if h.ZeroResults, err = m.store.ZeroResultQueries(ctx, limit); err != nil {
		return nil, err
	}
	return h, nil
}

// Flush writes everything recorded since the last successful flush. A
// failed delta is kept and retried with the next one.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	d := m.pending
	m.pending = newDelta()
	m.mu.Unlock()

	if d.Empty() {
		return nil
	}
	if err := m.store.Apply(ctx, d); err != nil {
		m.mu.Lock()
		m.pending.merge(d)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the flush loop and flushes what is left.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return m.Flush(context.Background())
}

// ring keeps the last cap items. The owner synchronizes access.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, max(capacity, 1))}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	r.full = r.full || r.next == 0
}

// items returns the kept items, oldest first.
func (r *ring[T]) items() []T {
	if !r.full {
		return slices.Clone(r.buf[:r.next])
	}
	return append(slices.Clone(r.buf[r.next:]), r.buf[:r.next]...)
}

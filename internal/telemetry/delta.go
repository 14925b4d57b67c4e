package telemetry

import "time"

const dayLayout = "2006-01-02"

// DayCounts are the counters of one calendar day.
type DayCounts struct {
	// QueryTypes counts searches per index and query type.
	QueryTypes map[string]map[QueryType]int64
	Latencies  map[LatencyBucket]int64
}

// Delta is everything recorded since the last flush. A store applies a
// delta as a whole or not at all.
type Delta struct {
	Days        map[string]*DayCounts
	Terms       map[string]int64
	ZeroResults []ZeroResultQuery
}

func newDelta() *Delta {
	return &Delta{Days: make(map[string]*DayCounts), Terms: make(map[string]int64)}
}

// Empty reports whether the delta holds nothing to persist.
func (d *Delta) Empty() bool {
	return len(d.Days) == 0 && len(d.Terms) == 0 && len(d.ZeroResults) == 0
}

func (d *Delta) day(t time.Time) *DayCounts {
	key := t.Format(dayLayout)
	dc, ok := d.Days[key]
	if !ok {
		dc = &DayCounts{QueryTypes: make(map[string]map[QueryType]int64), Latencies: make(map[LatencyBucket]int64)}
		d.Days[key] = dc
	}
	return dc
}

func (d *Delta) add(e QueryEvent, terms []string) {
	dc := d.day(e.Timestamp)
	byType := dc.QueryTypes[e.Index]
	if byType == nil {
		byType = make(map[QueryType]int64)
		dc.QueryTypes[e.Index] = byType
	}
	byType[e.QueryType]++
	dc.Latencies[BucketOf(e.Latency)]++
	for _, t := range terms {
		d.Terms[t]++
	}
	if e.missed() {
		d.ZeroResults = append(d.ZeroResults, ZeroResultQuery{Index: e.Index, Keys: e.Keys, Timestamp: e.Timestamp})
	}
}

// merge folds an unflushed older delta back in front of d.
func (d *Delta) merge(older *Delta) {
	for day, odc := range older.Days {
		dc, ok := d.Days[day]
		if !ok {
			d.Days[day] = odc
			continue
		}
		for index, counts := range odc.QueryTypes {
			if dc.QueryTypes[index] == nil {
				dc.QueryTypes[index] = make(map[QueryType]int64)
			}
			for qt, n := range counts {
				dc.QueryTypes[index][qt] += n
			}
		}
		for b, n := range odc.Latencies {
			dc.Latencies[b] += n
		}
	}
	for t, n := range older.Terms {
		d.Terms[t] += n
	}
	d.ZeroResults = append(older.ZeroResults, d.ZeroResults...)
}

// Package telemetry records search query patterns per index. Everything
// is kept in memory and in the local database; nothing is reported
// elsewhere.
package telemetry

import (
	"strings"
	"time"
)

// QueryType classifies a search by what it restricts.
type QueryType string

const (
	// QueryTypeFulltext has keywords only.
	QueryTypeFulltext QueryType = "fulltext"
	// QueryTypeFiltered has conditions only.
	QueryTypeFiltered QueryType = "filtered"
	// QueryTypeMixed has keywords and conditions.
	QueryTypeMixed QueryType = "mixed"
	// QueryTypeBrowse has neither and lists the whole index.
	QueryTypeBrowse QueryType = "browse"
)

// ClassifyQuery returns the type of a query with the given keys and
// number of conditions.
func ClassifyQuery(keys string, conditions int) QueryType {
	switch hasKeys := strings.TrimSpace(keys) != ""; {
	case hasKeys && conditions > 0:
		return QueryTypeMixed
	case hasKeys:
		return QueryTypeFulltext
	case conditions > 0:
		return QueryTypeFiltered
	}
	return QueryTypeBrowse
}

// LatencyBucket is a bar of the latency histogram.
type LatencyBucket string

const (
	LatencyUnder10ms  LatencyBucket = "lt10ms"
	LatencyUnder50ms  LatencyBucket = "lt50ms"
	LatencyUnder100ms LatencyBucket = "lt100ms"
	LatencyUnder500ms LatencyBucket = "lt500ms"
	LatencySlow       LatencyBucket = "slow"
)

var latencyBounds = []struct {
	below  time.Duration
	bucket LatencyBucket
}{
	{10 * time.Millisecond, LatencyUnder10ms},
	{50 * time.Millisecond, LatencyUnder50ms},
	{100 * time.Millisecond, LatencyUnder100ms},
	{500 * time.Millisecond, LatencyUnder500ms},
}

// BucketOf returns the histogram bucket of a search taking d.
func BucketOf(d time.Duration) LatencyBucket {
	for _, b := range latencyBounds {
		if d < b.below {
			return b.bucket
		}
	}
	return LatencySlow
}

// QueryEvent is one executed search.
type QueryEvent struct {
	Index       string
	Keys        string
	QueryType   QueryType
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// missed reports a keyword search that found nothing. Browsing an empty
// index is not a miss.
func (e QueryEvent) missed() bool {
	return e.ResultCount == 0 && strings.TrimSpace(e.Keys) != ""
}

// repeatKey identifies equivalent searches on one index.
func (e QueryEvent) repeatKey() string {
	return e.Index + "\x00" + strings.Join(strings.Fields(strings.ToLower(e.Keys)), " ")
}

var keywordOperators = map[string]bool{"or": true, "and": true, "not": true}

// ExtractTerms returns the searched words of keys: lowercased, stripped
// of quotes and operators, at least three characters long.
func ExtractTerms(keys string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(keys)) {
		w = strings.Trim(w, `"'()+-`)
		if keywordOperators[w] || len([]rune(w)) < 3 {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// TermCount is how often a term was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultQuery is a keyword search that found nothing.
type ZeroResultQuery struct {
	Index     string    `json:"index"`
	Keys      string    `json:"keys"`
	Timestamp time.Time `json:"timestamp"`
}

package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Aman-CERP/amansearch/internal/store"
)

// MaxZeroResultQueries bounds the persisted zero-result log.
const MaxZeroResultQueries = 100

const (
	tableQueryTypes  = "search_api_telemetry_query_types"
	tableTerms       = "search_api_telemetry_terms"
	tableZeroResults = "search_api_telemetry_zero_results"
	tableLatencies   = "search_api_telemetry_latencies"
)

// SQLMetricsStore keeps query metrics in the shared database.
type SQLMetricsStore struct {
	db *store.DB
}

// NewSQLMetricsStore creates the telemetry tables if needed.
func NewSQLMetricsStore(ctx context.Context, db *store.DB) (*SQLMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLMetricsStore{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(ctx context.Context, db *store.DB) error {
	tables := []store.Table{
		{
			Name: tableQueryTypes,
			Columns: []store.Column{
				{Name: "day", Kind: store.ColString, Length: 10, NotNull: true},
				{Name: "index_id", Kind: store.ColString, Length: 50, NotNull: true},
				{Name: "query_type", Kind: store.ColString, Length: 20, NotNull: true},
				{Name: "hits", Kind: store.ColBigInt, NotNull: true, Default: "0"},
			},
			PrimaryKey: []string{"day", "index_id", "query_type"},
		},
		{
			Name: tableTerms,
			Columns: []store.Column{
				{Name: "term", Kind: store.ColString, Length: 100, NotNull: true},
				{Name: "hits", Kind: store.ColBigInt, NotNull: true, Default: "0"},
				{Name: "last_seen", Kind: store.ColBigInt, NotNull: true, Default: "0"},
			},
			PrimaryKey: []string{"term"},
			Indexes:    []store.TableIndex{{Name: tableTerms + "_hits", Columns: []string{"hits"}}},
		},
		{
			Name: tableZeroResults,
			Columns: []store.Column{
				{Name: "index_id", Kind: store.ColString, Length: 50, NotNull: true},
				{Name: "search_keys", Kind: store.ColText, NotNull: true},
				{Name: "created", Kind: store.ColBigInt, NotNull: true},
			},
			Indexes: []store.TableIndex{{Name: tableZeroResults + "_created", Columns: []string{"created"}}},
		},
		{
			Name: tableLatencies,
			Columns: []store.Column{
				{Name: "day", Kind: store.ColString, Length: 10, NotNull: true},
				{Name: "bucket", Kind: store.ColString, Length: 10, NotNull: true},
				{Name: "hits", Kind: store.ColBigInt, NotNull: true, Default: "0"},
			},
			PrimaryKey: []string{"day", "bucket"},
		},
	}
	for _, t := range tables {
		if err := db.CreateTable(ctx, t); err != nil {
			return fmt.Errorf("create telemetry schema: %w", err)
		}
	}
	return nil
}

// increment adds n to the hits of the row with the given key, inserting
// the row when missing.
func increment(ctx context.Context, tx *sqlx.Tx, table string, keyCols []string, keyVals []any, n int64, extra map[string]any) error {
	set := "hits = hits + ?"
	args := []any{n}
	for col, v := range extra {
		set += ", " + col + " = ?"
		args = append(args, v)
	}
	where := strings.Join(keyCols, " = ? AND ") + " = ?"
	res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE "+table+" SET "+set+" WHERE "+where), append(args, keyVals...)...)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		return nil
	}

	cols := append([]string(nil), keyCols...)
	vals := append([]any(nil), keyVals...)
	cols = append(cols, "hits")
	vals = append(vals, n)
	for col, v := range extra {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	q, args, err := sqlx.In("INSERT INTO "+table+" ("+strings.Join(cols, ", ")+") VALUES (?)", vals)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
	return err
}

var _ Store = (*SQLMetricsStore)(nil)

// Apply adds d to the daily counters, the term counts and the zero-result
// log in a single transaction.
func (s *SQLMetricsStore) Apply(ctx context.Context, d *Delta) error {
	if d.Empty() {
		return nil
	}
	now := time.Now().Unix()
	return s.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for day, dc := range d.Days {
			for index, counts := range dc.QueryTypes {
				for qt, n := range counts {
					if err := increment(ctx, tx, tableQueryTypes, []string{"day", "index_id", "query_type"}, []any{day, index, string(qt)}, n, nil); err != nil {
						return fmt.Errorf("save query type count: %w", err)
					}
				}
			}
			for bucket, n := range dc.Latencies {
				if err := increment(ctx, tx, tableLatencies, []string{"day", "bucket"}, []any{day, string(bucket)}, n, nil); err != nil {
					return fmt.Errorf("save latency count: %w", err)
				}
			}
		}
		for term, n := range d.Terms {
			if err := increment(ctx, tx, tableTerms, []string{"term"}, []any{term}, n, map[string]any{"last_seen": now}); err != nil {
				return fmt.Errorf("save term count: %w", err)
			}
		}
		return s.logMisses(ctx, tx, d.ZeroResults)
	})
}

// QueryTypeCounts sums counts over a date range and all indexes.
func (s *SQLMetricsStore) QueryTypeCounts(ctx context.Context, from, to string) (map[QueryType]int64, error) {
	var rows []struct {
		QueryType string `db:"query_type"`
		Total     int64  `db:"total"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT query_type, SUM(hits) AS total FROM "+tableQueryTypes+" WHERE day >= ? AND day <= ? GROUP BY query_type"), from, to)
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	counts := make(map[QueryType]int64, len(rows))
	for _, r := range rows {
		counts[QueryType(r.QueryType)] = r.Total
	}
	return counts, nil
}

// TopTerms returns the limit most searched terms.
func (s *SQLMetricsStore) TopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	var rows []struct {
		Term string `db:"term"`
		Hits int64  `db:"hits"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT term, hits FROM "+tableTerms+" ORDER BY hits DESC, term ASC"+s.db.Dialect().LimitOffset(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	terms := make([]TermCount, len(rows))
	for i, r := range rows {
		terms[i] = TermCount{Term: r.Term, Count: r.Hits}
	}
	return terms, nil
}

// logMisses appends to the zero-result log and trims it to
// MaxZeroResultQueries entries.
func (s *SQLMetricsStore) logMisses(ctx context.Context, tx *sqlx.Tx, queries []ZeroResultQuery) error {
	if len(queries) == 0 {
		return nil
	}
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO "+tableZeroResults+" (index_id, search_keys, created) VALUES (?, ?, ?)"),
			q.Index, q.Keys, q.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	var cutoff []int64
	if err := tx.SelectContext(ctx, &cutoff,
		"SELECT created FROM "+tableZeroResults+" ORDER BY created DESC"+
			s.db.Dialect().LimitOffset(1, MaxZeroResultQueries)); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	if len(cutoff) == 1 {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+tableZeroResults+" WHERE created <= ?"), cutoff[0]); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}
	return nil
}

// ZeroResultQueries returns recent zero-result queries, newest first.
func (s *SQLMetricsStore) ZeroResultQueries(ctx context.Context, limit int) ([]ZeroResultQuery, error) {
	var rows []struct {
		Index   string `db:"index_id"`
		Keys    string `db:"search_keys"`
		Created int64  `db:"created"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT index_id, search_keys, created FROM "+tableZeroResults+" ORDER BY created DESC"+s.db.Dialect().LimitOffset(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	out := make([]ZeroResultQuery, len(rows))
	for i, r := range rows {
		out[i] = ZeroResultQuery{Index: r.Index, Keys: r.Keys, Timestamp: time.Unix(0, r.Created)}
	}
	return out, nil
}

// LatencyCounts sums the latency distribution for a date range.
func (s *SQLMetricsStore) LatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error) {
	var rows []struct {
		Bucket string `db:"bucket"`
		Total  int64  `db:"total"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT bucket, SUM(hits) AS total FROM "+tableLatencies+" WHERE day >= ? AND day <= ? GROUP BY bucket"), from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	counts := make(map[LatencyBucket]int64, len(rows))
	for _, r := range rows {
		counts[LatencyBucket(r.Bucket)] = r.Total
	}
	return counts, nil
}

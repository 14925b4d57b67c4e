// Package tracker keeps per-index bookkeeping of which items still need
// indexing.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// Item states.
const (
	StatusIndexed = 0
	StatusPending = 1
)

// Indexing orders.
const (
	OrderFIFO = "fifo"
	OrderLIFO = "lifo"
)

// TableName is the shared tracker table.
const TableName = "search_api_item"

// Chunk bounds the number of IDs per IN (...) list.
const chunkSize = 1000

// Tracker records item state for one index.
type Tracker interface {
	TrackItemsInserted(ctx context.Context, ids []string) error
	TrackItemsUpdated(ctx context.Context, ids []string) error
	TrackAllItemsUpdated(ctx context.Context, datasourceID string) error
	TrackItemsIndexed(ctx context.Context, ids []string) error
	TrackItemsDeleted(ctx context.Context, ids []string) error
	TrackAllItemsDeleted(ctx context.Context, datasourceID string) error
	RemainingItems(ctx context.Context, limit int, datasourceID string) ([]string, error)
	TotalItemsCount(ctx context.Context, datasourceID string) (int, error)
	IndexedItemsCount(ctx context.Context, datasourceID string) (int, error)
	RemainingItemsCount(ctx context.Context, datasourceID string) (int, error)
	IndexedItems(ctx context.Context, datasourceID string) ([]string, error)
	Status(ctx context.Context) (map[string]Counts, error)
}

// Counts summarizes tracker state for one datasource.
type Counts struct {
	Total     int `json:"total"`
	Indexed   int `json:"indexed"`
	Remaining int `json:"remaining"`
}

// Options configure a SQLTracker.
type Options struct {
	// Order is fifo (default) or lifo.
	Order string
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// SQLTracker stores item state in the search_api_item table.
type SQLTracker struct {
	db      *store.DB
	indexID string
	order   string
	now     func() time.Time
}

var _ Tracker = (*SQLTracker)(nil)

// New returns a tracker for indexID, creating the table if needed.
func New(ctx context.Context, db *store.DB, indexID string, opts Options) (*SQLTracker, error) {
	switch opts.Order {
	case "":
		opts.Order = OrderFIFO
	case OrderFIFO, OrderLIFO:
	default:
		return nil, amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "unknown indexing order %q", opts.Order)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &SQLTracker{db: db, indexID: indexID, order: opts.Order, now: opts.Now}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return t, nil
}

// EnsureSchema creates the tracker table.
func EnsureSchema(ctx context.Context, db *store.DB) error {
	return db.CreateTable(ctx, store.Table{
		Name: TableName,
		Columns: []store.Column{
			{Name: "index_id", Kind: store.ColString, Length: 50, NotNull: true},
			{Name: "datasource", Kind: store.ColString, Length: 50, NotNull: true},
			{Name: "item_id", Kind: store.ColString, Length: 150, NotNull: true},
			{Name: "changed", Kind: store.ColBigInt, NotNull: true, Default: "0"},
			{Name: "status", Kind: store.ColInteger, NotNull: true, Default: "0"},
		},
		PrimaryKey: []string{"index_id", "item_id"},
		Indexes: []store.TableIndex{
			{Name: "search_api_item_indexing", Columns: []string{"index_id", "status", "changed", "item_id"}},
		},
	})
}

// IndexID returns the tracked index.
func (t *SQLTracker) IndexID() string { return t.indexID }

// Order returns the indexing order.
func (t *SQLTracker) Order() string { return t.order }

func datasourceOf(id string) string {
	ds, _ := field.SplitCombinedID(id)
	return ds
}

// TrackItemsInserted adds rows for IDs not yet tracked, marked pending.
func (t *SQLTracker) TrackItemsInserted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ids = dedupe(ids)
	now := t.now().Unix()
	return t.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for _, chunk := range store.ChunkStrings(ids, chunkSize) {
			existing, err := t.existing(ctx, tx, chunk)
			if err != nil {
				return err
			}
			insert := t.db.Rebind("INSERT INTO " + TableName + " (index_id, datasource, item_id, changed, status) VALUES (?, ?, ?, ?, ?)")
			for _, id := range chunk {
				if existing[id] {
					continue
				}
				if _, err := tx.ExecContext(ctx, insert, t.indexID, datasourceOf(id), id, now, StatusPending); err != nil {
					return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to track inserted item "+id, err)
				}
			}
		}
		return nil
	})
}

func (t *SQLTracker) existing(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]bool, error) {
	query, args, err := sqlx.In("SELECT item_id FROM "+TableName+" WHERE index_id = ? AND item_id IN (?)", t.indexID, ids)
	if err != nil {
		return nil, fmt.Errorf("build tracker query: %w", err)
	}
	var found []string
	if err := tx.SelectContext(ctx, &found, t.db.Rebind(query), args...); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to read tracker rows", err)
	}
	out := make(map[string]bool, len(found))
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// TrackItemsUpdated flags items as pending. In fifo order an already
// pending item keeps its place in the queue.
func (t *SQLTracker) TrackItemsUpdated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := t.now().Unix()
	return t.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for _, chunk := range store.ChunkStrings(dedupe(ids), chunkSize) {
			stmt := "UPDATE " + TableName + " SET changed = ?, status = ? WHERE index_id = ? AND item_id IN (?)"
			if t.order == OrderFIFO {
				stmt += fmt.Sprintf(" AND status = %d", StatusIndexed)
			}
			query, args, err := sqlx.In(stmt, now, StatusPending, t.indexID, chunk)
			if err != nil {
				return fmt.Errorf("build tracker update: %w", err)
			}
			if _, err := tx.ExecContext(ctx, t.db.Rebind(query), args...); err != nil {
				return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to track updated items", err)
			}
		}
		return nil
	})
}

// TrackAllItemsUpdated flags every item (of one datasource, or all when
// datasourceID is empty) as pending.
func (t *SQLTracker) TrackAllItemsUpdated(ctx context.Context, datasourceID string) error {
	stmt := "UPDATE " + TableName + " SET changed = ?, status = ? WHERE index_id = ?"
	args := []any{t.now().Unix(), StatusPending, t.indexID}
	if t.order == OrderFIFO {
		stmt += fmt.Sprintf(" AND status = %d", StatusIndexed)
	}
	if datasourceID != "" {
		stmt += " AND datasource = ?"
		args = append(args, datasourceID)
	}
	if _, err := t.db.ExecContext(ctx, t.db.Rebind(stmt), args...); err != nil {
		return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to track all items updated", err)
	}
	return nil
}

// TrackItemsIndexed marks items as indexed.
func (t *SQLTracker) TrackItemsIndexed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return t.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for _, chunk := range store.ChunkStrings(dedupe(ids), chunkSize) {
			query, args, err := sqlx.In("UPDATE "+TableName+" SET status = ? WHERE index_id = ? AND item_id IN (?)",
				StatusIndexed, t.indexID, chunk)
			if err != nil {
				return fmt.Errorf("build tracker update: %w", err)
			}
			if _, err := tx.ExecContext(ctx, t.db.Rebind(query), args...); err != nil {
				return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to track indexed items", err)
			}
		}
		return nil
	})
}

// TrackItemsDeleted removes rows.
func (t *SQLTracker) TrackItemsDeleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return t.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for _, chunk := range store.ChunkStrings(dedupe(ids), chunkSize) {
			query, args, err := sqlx.In("DELETE FROM "+TableName+" WHERE index_id = ? AND item_id IN (?)", t.indexID, chunk)
			if err != nil {
				return fmt.Errorf("build tracker delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, t.db.Rebind(query), args...); err != nil {
				return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to track deleted items", err)
			}
		}
		return nil
	})
}

// TrackAllItemsDeleted removes all rows of a datasource, or of the whole
// index when datasourceID is empty.
func (t *SQLTracker) TrackAllItemsDeleted(ctx context.Context, datasourceID string) error {
	stmt, args := t.where("DELETE FROM "+TableName, datasourceID)
	if _, err := t.db.ExecContext(ctx, t.db.Rebind(stmt), args...); err != nil {
		return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to delete tracker rows", err)
	}
	return nil
}

// RemainingItems returns up to limit pending IDs in indexing order.
// A negative limit means no limit.
func (t *SQLTracker) RemainingItems(ctx context.Context, limit int, datasourceID string) ([]string, error) {
	if limit == 0 {
		return nil, nil
	}
	stmt, args := t.where("SELECT item_id FROM "+TableName, datasourceID)
	stmt += fmt.Sprintf(" AND status = %d", StatusPending)
	dir := "ASC"
	if t.order == OrderLIFO {
		dir = "DESC"
	}
	stmt += " ORDER BY changed " + dir + ", item_id ASC"
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	var ids []string
	if err := t.db.SelectContext(ctx, &ids, t.db.Rebind(stmt), args...); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseOpen, "failed to read remaining items", err)
	}
	return ids, nil
}

// IndexedItems returns the IDs currently marked indexed.
func (t *SQLTracker) IndexedItems(ctx context.Context, datasourceID string) ([]string, error) {
	stmt, args := t.where("SELECT item_id FROM "+TableName, datasourceID)
	stmt += fmt.Sprintf(" AND status = %d ORDER BY item_id", StatusIndexed)
	var ids []string
	if err := t.db.SelectContext(ctx, &ids, t.db.Rebind(stmt), args...); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseOpen, "failed to read indexed items", err)
	}
	return ids, nil
}

// TotalItemsCount counts all tracked items.
func (t *SQLTracker) TotalItemsCount(ctx context.Context, datasourceID string) (int, error) {
	return t.count(ctx, datasourceID, -1)
}

// IndexedItemsCount counts indexed items.
func (t *SQLTracker) IndexedItemsCount(ctx context.Context, datasourceID string) (int, error) {
	return t.count(ctx, datasourceID, StatusIndexed)
}

// RemainingItemsCount counts pending items.
func (t *SQLTracker) RemainingItemsCount(ctx context.Context, datasourceID string) (int, error) {
	return t.count(ctx, datasourceID, StatusPending)
}

func (t *SQLTracker) count(ctx context.Context, datasourceID string, status int) (int, error) {
	stmt, args := t.where("SELECT COUNT(*) FROM "+TableName, datasourceID)
	if status >= 0 {
		stmt += " AND status = ?"
		args = append(args, status)
	}
	var n int
	if err := t.db.GetContext(ctx, &n, t.db.Rebind(stmt), args...); err != nil {
		return 0, amanerrors.New(amanerrors.ErrCodeDatabaseOpen, "failed to count tracker rows", err)
	}
	return n, nil
}

// Status returns counts per datasource.
func (t *SQLTracker) Status(ctx context.Context) (map[string]Counts, error) {
	var rows []struct {
		Datasource string `db:"datasource"`
		Status     int    `db:"status"`
		N          int    `db:"n"`
	}
	stmt := "SELECT datasource, status, COUNT(*) AS n FROM " + TableName + " WHERE index_id = ? GROUP BY datasource, status"
	if err := t.db.SelectContext(ctx, &rows, t.db.Rebind(stmt), t.indexID); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseOpen, "failed to read tracker status", err)
	}
	out := make(map[string]Counts)
	for _, r := range rows {
		c := out[r.Datasource]
		c.Total += r.N
		if r.Status == StatusIndexed {
			c.Indexed += r.N
		} else {
			c.Remaining += r.N
		}
		out[r.Datasource] = c
	}
	return out, nil
}

func (t *SQLTracker) where(prefix, datasourceID string) (string, []any) {
	stmt := prefix + " WHERE index_id = ?"
	args := []any{t.indexID}
	if datasourceID != "" {
		stmt += " AND datasource = ?"
		args = append(args, datasourceID)
	}
	return stmt, args
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SortedDatasources returns the keys of a Status result in order.
func SortedDatasources(status map[string]Counts) []string {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

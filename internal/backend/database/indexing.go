package database

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// IndexItems stores items, one transaction per item. Items that fail are
// logged and left out of the returned IDs. A layout that does not match
// the index fields is repaired once before giving up.
func (b *Backend) IndexItems(ctx context.Context, idx backend.Index, items []*item.Item) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	for _, f := range idx.Fields() {
		if _, err := columnFor("x", f.StorageType()); err != nil {
			return nil, err
		}
	}
	info, err := b.loadInfo(ctx, idx.ID())
	if err != nil {
		return nil, err
	}
	repaired := false
	if info == nil || !schemaMatches(info, idx) {
		if info, err = b.repair(ctx, idx); err != nil {
			return nil, err
		}
		repaired = true
	}

	indexed := make([]string, 0, len(items))
	for _, it := range items {
		err := b.indexItem(ctx, info, it)
		if err != nil && !repaired {
			b.logger.Warn("database_index_item_retry",
				"index", idx.ID(), "item", it.ID(), "error", err.Error())
			if info, err = b.repair(ctx, idx); err != nil {
				return indexed, err
			}
			repaired = true
			err = b.indexItem(ctx, info, it)
		}
		if err != nil {
			b.logger.Warn("database_index_item_failed",
				"index", idx.ID(), "item", it.ID(), "error", err.Error())
			continue
		}
		indexed = append(indexed, it.ID())
	}
	return indexed, nil
}

func (b *Backend) repair(ctx context.Context, idx backend.Index) (*indexInfo, error) {
	b.logger.Info("database_index_schema_repair", "index", idx.ID())
	if _, err := b.UpdateIndex(ctx, idx); err != nil {
		return nil, err
	}
	return b.requireInfo(ctx, idx.ID())
}

type textRow struct {
	word  string
	score int64
}

func (b *Backend) indexItem(ctx context.Context, info *indexInfo, it *item.Item) error {
	d := b.db.Dialect()
	fields := it.FieldsNoExtract()
	id := it.ID()

	columns := []string{d.Quote("item_id")}
	values := []any{id}
	texts := make(map[string][]textRow)
	multi := make(map[string][]any)

	for _, fid := range info.fieldIDs() {
		fi := info.Fields[fid]
		var raw []any
		if f, ok := fields[fid]; ok {
			raw = f.Values
		}
		columns = append(columns, d.Quote(fi.Column))
		if fi.Type.IsText() {
			denorm, rows := b.textRows(it, fi, raw)
			values = append(values, denorm)
			if len(rows) > 0 {
				texts[fid] = rows
			}
			continue
		}
		converted := make([]any, 0, len(raw))
		seen := make(map[string]bool, len(raw))
		for _, v := range raw {
			cv, ok := convertValue(v, fi.Type)
			if !ok {
				continue
			}
			key := fmt.Sprint(cv)
			if s, ok := cv.(string); ok {
				key = canonical(s)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			converted = append(converted, cv)
		}
		if len(converted) > 0 {
			values = append(values, converted[0])
		} else {
			values = append(values, nil)
		}
		if fi.Table != info.IndexTable && len(converted) > 0 {
			multi[fi.Table] = converted
		}
	}

	return b.db.Transact(ctx, func(tx *sqlx.Tx) error {
		if err := deleteItemRows(ctx, tx, b.db, info, []string{id}); err != nil {
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		insert := "INSERT INTO " + d.Quote(info.IndexTable) + " (" + strings.Join(columns, ", ") + ") VALUES (" + placeholders + ")"
		if _, err := tx.ExecContext(ctx, b.db.Rebind(insert), values...); err != nil {
			return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to insert item row", err)
		}
		for table, vals := range multi {
			stmt := b.db.Rebind("INSERT INTO " + d.Quote(table) + " (item_id, value) VALUES (?, ?)")
			for _, v := range vals {
				if _, err := tx.ExecContext(ctx, stmt, id, v); err != nil {
					return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to insert field value", err)
				}
			}
		}
		stmt := b.db.Rebind("INSERT INTO " + d.Quote(info.TextTable) + " (item_id, field_name, word, score) VALUES (?, ?, ?, ?)")
		for fid, rows := range texts {
			for _, r := range rows {
				if _, err := tx.ExecContext(ctx, stmt, id, fid, r.word, r.score); err != nil {
					return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to insert word", err)
				}
			}
		}
		return nil
	})
}

// textRows computes the denormalized prefix and the scored unique words of
// one fulltext field.
func (b *Backend) textRows(it *item.Item, fi *fieldInfo, raw []any) (any, []textRow) {
	var tokens []field.TextToken
	for _, v := range raw {
		tokens = append(tokens, b.valueTokens(it, v)...)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	var denorm strings.Builder
	type unique struct {
		word  string
		score float64
	}
	var order []string
	uniq := make(map[string]*unique)
	for _, tok := range tokens {
		word := strings.TrimSpace(tok.Text)
		if word == "" {
			continue
		}
		score := tok.Boost * it.Boost()
		if utf8.RuneCountInString(denorm.String()) < textColumnLength {
			denorm.WriteString(word)
			denorm.WriteByte(' ')
		}
		if isNumeric(word) {
			word = trimNumber(word)
		} else if utf8.RuneCountInString(word) < b.cfg.MinChars {
			continue
		}
		// Words after many distinct words count less.
		score *= math.Min(1, 0.01+3.5/(2+float64(len(order))*0.015))
		base := truncateWord(canonical(word))
		if u, ok := uniq[base]; ok {
			u.score += score
			continue
		}
		uniq[base] = &unique{word: base, score: score}
		order = append(order, base)
	}

	rows := make([]textRow, 0, len(order))
	for _, w := range order {
		s := math.Round(uniq[w].score * fi.Boost * ScoreMultiplier)
		if s > maxScore {
			s = maxScore
		}
		rows = append(rows, textRow{word: w, score: int64(s)})
	}
	prefix := strings.TrimSpace(denorm.String())
	if utf8.RuneCountInString(prefix) > textColumnLength {
		prefix = string([]rune(prefix)[:textColumnLength])
	}
	return prefix, rows
}

// valueTokens returns the tokens of a fulltext value. Untokenized text is
// split into words here.
func (b *Backend) valueTokens(it *item.Item, v any) []field.TextToken {
	var text string
	switch tv := v.(type) {
	case *field.TextValue:
		if tv.IsTokenized() {
			return tv.Tokens
		}
		text = tv.Text
	case string:
		text = tv
	default:
		s, ok := field.Stringify(v)
		if !ok {
			return nil
		}
		text = s
	}
	var out []field.TextToken
	for _, w := range splitIntoWords(text) {
		if utf8.RuneCountInString(w) > wordLength {
			b.logger.Warn("database_word_truncated",
				"item", it.ID(), "word", w)
			w = truncateWord(w)
		}
		out = append(out, field.NewToken(w, 1))
	}
	return out
}

// convertValue converts a non-text value to its column representation.
func convertValue(v any, t field.Type) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch t {
	case field.TypeString, field.TypeURI:
		s, ok := field.Stringify(v)
		if !ok {
			return nil, false
		}
		if utf8.RuneCountInString(s) > 255 {
			s = string([]rune(s)[:255])
		}
		return s, true
	case field.TypeInteger:
		f, ok := field.ToFloat(v)
		if !ok {
			return nil, false
		}
		return int64(f), true
	case field.TypeDate:
		ts, ok := field.ToTimestamp(v)
		return ts, ok
	case field.TypeDecimal:
		return field.ToFloat(v)
	case field.TypeBoolean:
		bv, ok := field.ToBool(v)
		if !ok {
			return nil, false
		}
		if bv {
			return int64(1), true
		}
		return int64(0), true
	}
	return nil, false
}

func deleteItemRows(ctx context.Context, tx *sqlx.Tx, db *store.DB, info *indexInfo, ids []string) error {
	d := db.Dialect()
	tables := append([]string{info.TextTable}, info.fieldTables()...)
	tables = append(tables, info.IndexTable)
	for _, table := range tables {
		q, args, err := sqlx.In("DELETE FROM "+d.Quote(table)+" WHERE item_id IN (?)", ids)
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, db.Rebind(q), args...); err != nil {
			return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to delete item rows from "+table, err)
		}
	}
	return nil
}

// DeleteItems removes items from all tables.
func (b *Backend) DeleteItems(ctx context.Context, idx backend.Index, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	info, err := b.requireInfo(ctx, idx.ID())
	if err != nil {
		return err
	}
	return b.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for _, chunk := range store.ChunkStrings(ids, 500) {
			if err := deleteItemRows(ctx, tx, b.db, info, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAllIndexItems removes all items, or all of one datasource.
func (b *Backend) DeleteAllIndexItems(ctx context.Context, idx backend.Index, datasourceID string) error {
	info, err := b.requireInfo(ctx, idx.ID())
	if err != nil {
		return err
	}
	d := b.db.Dialect()
	tables := append([]string{info.TextTable}, info.fieldTables()...)
	tables = append(tables, info.IndexTable)
	return b.db.Transact(ctx, func(tx *sqlx.Tx) error {
		for _, table := range tables {
			stmt := "DELETE FROM " + d.Quote(table)
			var args []any
			if datasourceID != "" {
				stmt += " WHERE " + d.Like("item_id", false)
				args = append(args, store.EscapeLike(datasourceID+"/")+"%")
			}
			if _, err := tx.ExecContext(ctx, b.db.Rebind(stmt), args...); err != nil {
				return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to clear "+table, err)
			}
		}
		return nil
	})
}

// IndexedItemIDs lists the stored item IDs.
func (b *Backend) IndexedItemIDs(ctx context.Context, idx backend.Index) ([]string, error) {
	info, err := b.requireInfo(ctx, idx.ID())
	if err != nil {
		return nil, err
	}
	var ids []string
	stmt := "SELECT item_id FROM " + b.db.Dialect().Quote(info.IndexTable) + " ORDER BY item_id"
	if err := b.db.SelectContext(ctx, &ids, stmt); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to list indexed items", err)
	}
	return ids, nil
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/store"
)

const (
	infoTable  = "search_api_db_index"
	tablePrefx = "search_api_db_"
	// textColumnLength is the length of the denormalized fulltext column.
	textColumnLength = 30
	// wordLength bounds stored words.
	wordLength = 50
)

// fieldInfo records where a field is stored.
type fieldInfo struct {
	// Table holds the field's searchable values: the word table for
	// fulltext fields, a field table for multi-valued fields, otherwise
	// the denormalized table.
	Table string `json:"table"`
	// Column is the field's column in the denormalized table.
	Column      string     `json:"column"`
	Type        field.Type `json:"type"`
	Boost       float64    `json:"boost"`
	MultiValued bool       `json:"multi_valued"`
}

// valueColumn is the column holding values in Table.
func (fi *fieldInfo) valueColumn(info *indexInfo) string {
	switch {
	case fi.Type.IsText():
		return "word"
	case fi.Table == info.IndexTable:
		return fi.Column
	}
	return "value"
}

type indexInfo struct {
	IndexTable string                `json:"index_table"`
	TextTable  string                `json:"text_table"`
	Fields     map[string]*fieldInfo `json:"fields"`
}

func (info *indexInfo) clone() *indexInfo {
	c := &indexInfo{IndexTable: info.IndexTable, TextTable: info.TextTable, Fields: make(map[string]*fieldInfo, len(info.Fields))}
	for k, v := range info.Fields {
		fi := *v
		c.Fields[k] = &fi
	}
	return c
}

func (info *indexInfo) fieldIDs() []string {
	ids := make([]string, 0, len(info.Fields))
	for id := range info.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fieldTables returns the multi-valued field tables.
func (info *indexInfo) fieldTables() []string {
	var out []string
	for _, id := range info.fieldIDs() {
		fi := info.Fields[id]
		if fi.Table != info.IndexTable && fi.Table != info.TextTable {
			out = append(out, fi.Table)
		}
	}
	return out
}

func (b *Backend) ensureInfoTable(ctx context.Context) error {
	return b.db.CreateTable(ctx, store.Table{
		Name: infoTable,
		Columns: []store.Column{
			{Name: "index_id", Kind: store.ColString, Length: 50, NotNull: true},
			{Name: "settings", Kind: store.ColText, NotNull: true},
		},
		PrimaryKey: []string{"index_id"},
	})
}

// loadInfo returns the stored layout of an index, or nil if the index was
// never added.
func (b *Backend) loadInfo(ctx context.Context, indexID string) (*indexInfo, error) {
	b.mu.Lock()
	info, ok := b.infos[indexID]
	b.mu.Unlock()
	if ok {
		return info, nil
	}
	var raw string
	err := b.db.GetContext(ctx, &raw, b.db.Rebind("SELECT settings FROM "+infoTable+" WHERE index_id = ?"), indexID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSchema, "failed to read index layout", err)
	}
	info = &indexInfo{}
	if err := json.Unmarshal([]byte(raw), info); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex, fmt.Sprintf("invalid stored layout of index %s", indexID), err)
	}
	if info.Fields == nil {
		info.Fields = make(map[string]*fieldInfo)
	}
	b.mu.Lock()
	b.infos[indexID] = info
	b.mu.Unlock()
	return info, nil
}

func (b *Backend) saveInfo(ctx context.Context, indexID string, info *indexInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode index layout: %w", err)
	}
	err = b.db.Transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, b.db.Rebind("DELETE FROM "+infoTable+" WHERE index_id = ?"), indexID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, b.db.Rebind("INSERT INTO "+infoTable+" (index_id, settings) VALUES (?, ?)"), indexID, string(data))
		return err
	})
	if err != nil {
		return amanerrors.New(amanerrors.ErrCodeSchema, "failed to save index layout", err)
	}
	b.mu.Lock()
	b.infos[indexID] = info
	b.mu.Unlock()
	return nil
}

func (b *Backend) forgetInfo(indexID string) {
	b.mu.Lock()
	delete(b.infos, indexID)
	b.mu.Unlock()
}

// requireInfo returns the layout or an error if the index is unknown.
func (b *Backend) requireInfo(ctx context.Context, indexID string) (*indexInfo, error) {
	info, err := b.loadInfo(ctx, indexID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, amanerrors.Newf(amanerrors.ErrCodeSchema, "index %s has not been added to the database server", indexID)
	}
	return info, nil
}

// sanitizeName lowercases name and replaces anything but [a-z0-9_].
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	s := sb.String()
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "f_" + s
	}
	return s
}

// freeName returns base, truncated to max, or base with a numeric suffix
// when taken reports a collision.
func freeName(base string, max int, taken func(string) bool) string {
	if len(base) > max {
		base = base[:max]
	}
	name := base
	for i := 1; taken(name); i++ {
		suffix := fmt.Sprintf("_%d", i)
		stem := base
		if len(stem)+len(suffix) > max {
			stem = stem[:max-len(suffix)]
		}
		name = stem + suffix
	}
	return name
}

var reservedColumns = map[string]bool{"item_id": true, "score": true, "word": true, "field_name": true, "value": true}

func (b *Backend) findFreeColumn(info *indexInfo, fieldID string) string {
	used := make(map[string]bool, len(info.Fields))
	for _, fi := range info.Fields {
		used[fi.Column] = true
	}
	return freeName(sanitizeName(fieldID), 60, func(n string) bool { return used[n] || reservedColumns[n] })
}

func (b *Backend) findFreeTable(ctx context.Context, info *indexInfo, fieldID string) (string, error) {
	used := map[string]bool{info.IndexTable: true, info.TextTable: true}
	for _, fi := range info.Fields {
		used[fi.Table] = true
	}
	var lookupErr error
	name := freeName(info.IndexTable+"_"+sanitizeName(fieldID), b.db.Dialect().MaxIdentifierLength(), func(n string) bool {
		if used[n] {
			return true
		}
		exists, err := b.db.TableExists(ctx, n)
		if err != nil {
			lookupErr = err
			return false
		}
		return exists
	})
	return name, lookupErr
}

// columnFor returns the SQL column for a stored type.
func columnFor(name string, t field.Type) (store.Column, error) {
	c := store.Column{Name: name}
	switch t {
	case field.TypeText, field.TypeTokenizedText:
		c.Kind, c.Length = store.ColString, textColumnLength
	case field.TypeString, field.TypeURI:
		c.Kind, c.Length = store.ColString, 255
	case field.TypeInteger, field.TypeDate:
		c.Kind = store.ColBigInt
	case field.TypeDecimal:
		c.Kind = store.ColFloat
	case field.TypeBoolean:
		c.Kind = store.ColBool
	default:
		return c, amanerrors.Newf(amanerrors.ErrCodeUnknownType, "Unknown field type '%s'.", t)
	}
	return c, nil
}

// AddIndex creates the tables of a new index. Adding a known index
// updates its fields instead.
func (b *Backend) AddIndex(ctx context.Context, idx backend.Index) error {
	existing, err := b.loadInfo(ctx, idx.ID())
	if err != nil {
		return err
	}
	if existing != nil {
		_, err := b.UpdateIndex(ctx, idx)
		return err
	}

	base := tablePrefx + sanitizeName(idx.ID())
	indexTable := freeName(base, b.db.Dialect().MaxIdentifierLength()-5, func(n string) bool {
		ok, _ := b.db.TableExists(ctx, n)
		return ok
	})
	info := &indexInfo{
		IndexTable: indexTable,
		TextTable:  indexTable + "_text",
		Fields:     make(map[string]*fieldInfo),
	}

	if err := b.db.CreateTable(ctx, store.Table{
		Name:       info.IndexTable,
		Columns:    []store.Column{{Name: "item_id", Kind: store.ColString, Length: 150, NotNull: true}},
		PrimaryKey: []string{"item_id"},
	}); err != nil {
		return err
	}
	if err := b.db.CreateTable(ctx, store.Table{
		Name: info.TextTable,
		Columns: []store.Column{
			{Name: "item_id", Kind: store.ColString, Length: 150, NotNull: true},
			{Name: "field_name", Kind: store.ColString, Length: 191, NotNull: true},
			{Name: "word", Kind: store.ColString, Length: wordLength, NotNull: true},
			{Name: "score", Kind: store.ColBigInt, NotNull: true, Default: "0"},
		},
		PrimaryKey: []string{"item_id", "field_name", "word"},
		Indexes: []store.TableIndex{
			{Name: info.TextTable + "_word_field", Columns: []string{"word", "field_name"}},
		},
	}); err != nil {
		return err
	}

	for _, f := range idx.Fields() {
		if err := b.addField(ctx, info, f); err != nil {
			return err
		}
	}
	b.logger.Info("database_index_added",
		"index", idx.ID(),
		"table", info.IndexTable,
		"fields", len(info.Fields))
	return b.saveInfo(ctx, idx.ID(), info)
}

func storedMultiValued(f *field.Field) bool {
	return f.StorageType().IsText() || f.MultiValued
}

func (b *Backend) addField(ctx context.Context, info *indexInfo, f *field.Field) error {
	t := f.StorageType()
	column := b.findFreeColumn(info, f.ID)
	col, err := columnFor(column, t)
	if err != nil {
		return err
	}
	fi := &fieldInfo{Column: column, Type: t, Boost: f.Boost, MultiValued: storedMultiValued(f), Table: info.IndexTable}
	d := b.db.Dialect()
	if _, err := b.db.ExecContext(ctx, d.AddColumn(info.IndexTable, col)); err != nil {
		return amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to add column for field %s", f.ID), err)
	}
	switch {
	case t.IsText():
		fi.Table = info.TextTable
	case f.MultiValued:
		table, err := b.findFreeTable(ctx, info, f.ID)
		if err != nil {
			return err
		}
		valueCol, _ := columnFor("value", t)
		if err := b.db.CreateTable(ctx, store.Table{
			Name: table,
			Columns: []store.Column{
				{Name: "item_id", Kind: store.ColString, Length: 150, NotNull: true},
				valueCol,
			},
			Indexes: []store.TableIndex{
				{Name: table + "_value", Columns: []string{"value"}},
				{Name: table + "_item", Columns: []string{"item_id"}},
			},
		}); err != nil {
			return err
		}
		fi.Table = table
	}
	info.Fields[f.ID] = fi
	return nil
}

func (b *Backend) removeField(ctx context.Context, info *indexInfo, fieldID string) error {
	fi, ok := info.Fields[fieldID]
	if !ok {
		return nil
	}
	d := b.db.Dialect()
	switch {
	case fi.Type.IsText():
		if _, err := b.db.ExecContext(ctx, b.db.Rebind("DELETE FROM "+d.Quote(info.TextTable)+" WHERE field_name = ?"), fieldID); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to remove words of field %s", fieldID), err)
		}
	case fi.Table != info.IndexTable:
		if _, err := b.db.ExecContext(ctx, d.DropTable(fi.Table)); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to drop table of field %s", fieldID), err)
		}
	}
	if _, err := b.db.ExecContext(ctx, d.DropColumn(info.IndexTable, fi.Column)); err != nil {
		return amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to drop column of field %s", fieldID), err)
	}
	delete(info.Fields, fieldID)
	return nil
}

// UpdateIndex applies field renames, removals, additions and changes. It
// reports true when stored data no longer matches the fields.
func (b *Backend) UpdateIndex(ctx context.Context, idx backend.Index) (bool, error) {
	current, err := b.loadInfo(ctx, idx.ID())
	if err != nil {
		return false, err
	}
	if current == nil {
		return true, b.AddIndex(ctx, idx)
	}
	info := current.clone()
	d := b.db.Dialect()
	reindex := false

	for from, to := range idx.FieldRenames() {
		fi, ok := info.Fields[from]
		if !ok || from == to {
			continue
		}
		if fi.Type.IsText() {
			if _, err := b.db.ExecContext(ctx, b.db.Rebind("UPDATE "+d.Quote(info.TextTable)+" SET field_name = ? WHERE field_name = ?"), to, from); err != nil {
				return false, amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to rename field %s", from), err)
			}
		}
		delete(info.Fields, from)
		info.Fields[to] = fi
	}

	next := make(map[string]*field.Field)
	for _, f := range idx.Fields() {
		next[f.ID] = f
	}
	for _, id := range info.fieldIDs() {
		if _, ok := next[id]; !ok {
			if err := b.removeField(ctx, info, id); err != nil {
				return false, err
			}
		}
	}

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := next[id]
		fi, ok := info.Fields[id]
		if !ok {
			if err := b.addField(ctx, info, f); err != nil {
				return false, err
			}
			reindex = true
			continue
		}
		if fi.Type != f.StorageType() || fi.MultiValued != storedMultiValued(f) {
			if err := b.removeField(ctx, info, id); err != nil {
				return false, err
			}
			if err := b.addField(ctx, info, f); err != nil {
				return false, err
			}
			reindex = true
			continue
		}
		if fi.Boost != f.Boost {
			if fi.Type.IsText() {
				if fi.Boost == 0 {
					reindex = true
				} else {
					factor := f.Boost / fi.Boost
					stmt := "UPDATE " + d.Quote(info.TextTable) + " SET score = ROUND(score * ?) WHERE field_name = ?"
					if _, err := b.db.ExecContext(ctx, b.db.Rebind(stmt), factor, id); err != nil {
						return false, amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to rescore field %s", id), err)
					}
				}
			}
			fi.Boost = f.Boost
		}
	}

	if err := b.saveInfo(ctx, idx.ID(), info); err != nil {
		return false, err
	}
	return reindex, nil
}

// RemoveIndex drops all tables of an index.
func (b *Backend) RemoveIndex(ctx context.Context, indexID string) error {
	info, err := b.loadInfo(ctx, indexID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	d := b.db.Dialect()
	tables := append([]string{info.IndexTable, info.TextTable}, info.fieldTables()...)
	for _, t := range tables {
		if _, err := b.db.ExecContext(ctx, d.DropTable(t)); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to drop table %s", t), err)
		}
	}
	if _, err := b.db.ExecContext(ctx, b.db.Rebind("DELETE FROM "+infoTable+" WHERE index_id = ?"), indexID); err != nil {
		return amanerrors.New(amanerrors.ErrCodeSchema, "failed to remove index layout", err)
	}
	b.forgetInfo(indexID)
	b.logger.Info("database_index_removed", "index", indexID)
	return nil
}

// schemaMatches reports whether the stored layout covers every field of
// idx with the same type.
func schemaMatches(info *indexInfo, idx backend.Index) bool {
	for _, f := range idx.Fields() {
		fi, ok := info.Fields[f.ID]
		if !ok || fi.Type != f.StorageType() || fi.MultiValued != storedMultiValued(f) {
			return false
		}
	}
	return len(info.Fields) == len(idx.Fields())
}

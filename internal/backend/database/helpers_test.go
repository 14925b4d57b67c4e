package database

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// testIndex is a minimal index with fixed fields.
type testIndex struct {
	id         string
	fields     map[string]*field.Field
	renames    map[string]string
	processors map[string]bool
}

func newTestIndex(fields ...*field.Field) *testIndex {
	idx := &testIndex{id: "test", fields: make(map[string]*field.Field), processors: map[string]bool{}}
	for _, f := range fields {
		f.IndexID = idx.id
		idx.fields[f.ID] = f
	}
	return idx
}

func textField(id string, boost float64) *field.Field {
	f := field.New("test", id)
	f.Type = field.TypeText
	f.Boost = boost
	return f
}

func typedField(id string, t field.Type, multi bool) *field.Field {
	f := field.New("test", id)
	f.Type = t
	f.MultiValued = multi
	return f
}

func (i *testIndex) ID() string { return i.id }

func (i *testIndex) Field(id string) (*field.Field, bool) {
	f, ok := i.fields[id]
	return f, ok
}

func (i *testIndex) Fields() []*field.Field {
	out := make([]*field.Field, 0, len(i.fields))
	for _, f := range i.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (i *testIndex) FulltextFields() []string {
	var out []string
	for _, f := range i.Fields() {
		if f.IsFulltext() {
			out = append(out, f.ID)
		}
	}
	return out
}

func (i *testIndex) NewItemFields() map[string]*field.Field {
	out := make(map[string]*field.Field, len(i.fields))
	for id, f := range i.fields {
		out[id] = f.Definition()
	}
	return out
}

func (i *testIndex) IsProcessorProperty(string, string) bool { return false }

func (i *testIndex) AddPropertyValues(context.Context, *item.Item) error { return nil }

func (i *testIndex) LoadOriginalObject(context.Context, string) (item.Data, bool, error) {
	return item.Data{}, false, nil
}

func (i *testIndex) FieldRenames() map[string]string { return i.renames }

func (i *testIndex) IsValidProcessor(id string) bool { return i.processors[id] }

func (i *testIndex) newItem(id string, values map[string][]any) *item.Item {
	it := item.New(i, id, nil)
	for fid, vals := range values {
		f, ok := it.Field(fid)
		if !ok {
			continue
		}
		f.SetValues(vals)
	}
	it.SetFieldsExtracted(true)
	return it
}

func newTestBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := New(ctx, db, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return b
}

// setupCatalog indexes three items over two datasources.
func setupCatalog(t *testing.T, cfg Config) (*Backend, *testIndex) {
	t.Helper()
	ctx := context.Background()
	b := newTestBackend(t, cfg)
	idx := newTestIndex(
		textField("title", 1),
		typedField("type", field.TypeString, false),
		typedField("tags", field.TypeString, true),
		typedField("count", field.TypeInteger, false),
	)
	require.NoError(t, b.AddIndex(ctx, idx))

	items := []*item.Item{
		idx.newItem("entity:node/1:en", map[string][]any{
			"title": {"foo bar baz foobaz"}, "type": {"article"}, "tags": {"a", "b"}, "count": {10},
		}),
		idx.newItem("entity:node/2:en", map[string][]any{
			"title": {"foo qux"}, "type": {"page"}, "tags": {"b"}, "count": {3},
		}),
		idx.newItem("entity:user/3:de", map[string][]any{
			"title": {"qux"},
		}),
	}
	ids, err := b.IndexItems(ctx, idx, items)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	return b, idx
}

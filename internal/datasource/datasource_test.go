package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/field"
)

func newNodes() *Documents {
	return NewDocuments(DocumentsConfig{
		ID:    "entity:node",
		Label: "Content",
		Properties: map[string]*field.PropertyDefinition{
			"title":  {Name: "title", DataType: "string"},
			"status": {Name: "status", DataType: "boolean"},
		},
		URLPattern: "/node/{id}",
		PageSize:   2,
	})
}

type recorder struct{ changes []Change }

func (r *recorder) listen(_ context.Context, c Change) { r.changes = append(r.changes, c) }

func TestDocuments_PutLoad_Translations(t *testing.T) {
	// Given: a document with a German translation
	ds := newNodes()
	ctx := context.Background()
	ds.Put(ctx, Document{
		ID: "1", Bundle: "article", Langcode: "en",
		Fields:       map[string]any{"title": "Hello", "status": true},
		Translations: map[string]map[string]any{"de": {"title": "Hallo"}},
	})

	// When: loading both variants
	en, ok, err := ds.Load(ctx, "1:en")
	require.NoError(t, err)
	require.True(t, ok)
	de, ok, err := ds.Load(ctx, "1:de")
	require.NoError(t, err)
	require.True(t, ok)

	// Then: translated values override the original
	title, _ := en.Get("title")
	assert.Equal(t, "Hello", title.Value)
	title, _ = de.Get("title")
	assert.Equal(t, "Hallo", title.Value)
	status, _ := de.Get("status")
	assert.Equal(t, true, status.Value)

	assert.Equal(t, "article", ds.ItemBundle(de))
	assert.Equal(t, "de", ds.ItemLanguage(de))
	url, ok := ds.ItemURL(de)
	assert.True(t, ok)
	assert.Equal(t, "/node/1", url)

	// And: unknown variants are absent
	_, ok, err = ds.Load(ctx, "1:fr")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocuments_ItemIDs_Pages(t *testing.T) {
	ds := newNodes()
	ctx := context.Background()
	ds.Put(ctx,
		Document{ID: "1", Langcode: "en"},
		Document{ID: "2", Langcode: "en", Translations: map[string]map[string]any{"de": {}}},
	)

	p0, err := ds.ItemIDs(ctx, 0)
	require.NoError(t, err)
	p1, err := ds.ItemIDs(ctx, 1)
	require.NoError(t, err)
	p2, err := ds.ItemIDs(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"1:en", "2:de"}, p0)
	assert.Equal(t, []string{"2:en"}, p1)
	assert.Empty(t, p2)
}

func TestDocuments_ChangeNotifications(t *testing.T) {
	ds := newNodes()
	ctx := context.Background()
	rec := &recorder{}
	ds.Subscribe(rec.listen)

	// When: inserting, updating with a new translation, then deleting
	ds.Put(ctx, Document{ID: "1", Langcode: "en", Fields: map[string]any{"title": "a"}})
	ds.Put(ctx, Document{ID: "1", Langcode: "en", Fields: map[string]any{"title": "b"},
		Translations: map[string]map[string]any{"de": {"title": "B"}}})
	ds.Delete(ctx, "1")

	// Then: listeners see each change
	require.Len(t, rec.changes, 4)
	assert.Equal(t, Change{DatasourceID: "entity:node", Kind: Inserted, RawIDs: []string{"1:en"}}, rec.changes[0])
	assert.Equal(t, Change{DatasourceID: "entity:node", Kind: Inserted, RawIDs: []string{"1:de"}}, rec.changes[1])
	assert.Equal(t, Change{DatasourceID: "entity:node", Kind: Updated, RawIDs: []string{"1:en"}}, rec.changes[2])
	assert.Equal(t, Change{DatasourceID: "entity:node", Kind: Deleted, RawIDs: []string{"1:en", "1:de"}}, rec.changes[3])
}

func TestDocuments_Replace_ReportsOnlyDifferences(t *testing.T) {
	ds := newNodes()
	ctx := context.Background()
	ds.Put(ctx,
		Document{ID: "1", Langcode: "en", Fields: map[string]any{"title": "same"}},
		Document{ID: "2", Langcode: "en", Fields: map[string]any{"title": "old"}},
		Document{ID: "3", Langcode: "en"},
	)
	rec := &recorder{}
	ds.Subscribe(rec.listen)

	ds.Replace(ctx, []Document{
		{ID: "1", Langcode: "en", Fields: map[string]any{"title": "same"}},
		{ID: "2", Langcode: "en", Fields: map[string]any{"title": "new"}},
		{ID: "4", Langcode: "en"},
	})

	require.Len(t, rec.changes, 3)
	assert.Equal(t, Inserted, rec.changes[0].Kind)
	assert.Equal(t, []string{"4:en"}, rec.changes[0].RawIDs)
	assert.Equal(t, Updated, rec.changes[1].Kind)
	assert.Equal(t, []string{"2:en"}, rec.changes[1].RawIDs)
	assert.Equal(t, Deleted, rec.changes[2].Kind)
	assert.Equal(t, []string{"3:en"}, rec.changes[2].RawIDs)
	assert.Equal(t, 3, ds.Count())
}

func TestFilter_BundlesAndLanguages(t *testing.T) {
	ds := newNodes()
	ctx := context.Background()
	ds.Put(ctx,
		Document{ID: "1", Bundle: "article", Langcode: "en"},
		Document{ID: "2", Bundle: "page", Langcode: "en", Translations: map[string]map[string]any{"de": {}}},
	)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", AllowAll, []string{"1:en", "2:de", "2:en"}},
		{"only articles", Filter{Bundles: Selection{Selected: []string{"article"}}, Languages: Selection{Default: true}}, []string{"1:en"}},
		{"all but german", Filter{Bundles: Selection{Default: true}, Languages: Selection{Default: true, Selected: []string{"de"}}}, []string{"1:en", "2:en"}},
		{"nothing", Filter{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := FilteredIDs(ctx, ds, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSelection_Equal_IgnoresOrder(t *testing.T) {
	a := Selection{Selected: []string{"x", "y"}}
	assert.True(t, a.Equal(Selection{Selected: []string{"y", "x"}}))
	assert.False(t, a.Equal(Selection{Default: true, Selected: []string{"x", "y"}}))
}

func TestRegistry_UnknownDatasource(t *testing.T) {
	r := NewRegistry()
	r.Register(newNodes())

	_, err := r.Get("entity:user")
	require.Error(t, err)
	assert.Equal(t, []string{"entity:node"}, r.IDs())
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"docs.json":  `[{"id":"1","fields":{"n":1}},{"id":"2","fields":{"n":2}}]`,
		"docs.jsonl": "{\"id\":\"1\",\"fields\":{\"n\":1}}\n\n{\"id\":\"2\",\"fields\":{\"n\":2}}\n",
		"docs.yaml":  "- id: \"1\"\n  fields:\n    n: 1\n- id: \"2\"\n  fields:\n    n: 2\n",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			docs, err := LoadFile(path)
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "2", docs[1].ID)
			assert.Equal(t, float64(2), docs[1].Fields["n"])
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = ParseDocuments(".jsonl", []byte("{\"id\":\"1\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ParseDocuments(".json", []byte(`[{"fields":{}}]`))
	require.Error(t, err)
}

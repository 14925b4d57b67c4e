package item

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/field"
)

type fakeIndex struct {
	fields    []*field.Field
	objects   map[string]Data
	procProps map[string]bool
	loads     int
}

func (f *fakeIndex) ID() string { return "test" }

func (f *fakeIndex) NewItemFields() map[string]*field.Field {
	out := make(map[string]*field.Field, len(f.fields))
	for _, fl := range f.fields {
		out[fl.ID] = fl.Definition()
	}
	return out
}

func (f *fakeIndex) IsProcessorProperty(ds, prop string) bool {
	return ds == "" && f.procProps[prop]
}

func (f *fakeIndex) AddPropertyValues(_ context.Context, it *Item) error {
	if fl, ok := it.Field("url"); ok {
		fl.AddValue("/node/" + it.RawID())
	}
	return nil
}

func (f *fakeIndex) LoadOriginalObject(_ context.Context, id string) (Data, bool, error) {
	f.loads++
	d, ok := f.objects[id]
	return d, ok, nil
}

func nodeProps() map[string]*field.PropertyDefinition {
	return map[string]*field.PropertyDefinition{
		"title": {Name: "title", DataType: "string"},
		"body": {Name: "body", DataType: "text_format", MainProperty: "value", Properties: map[string]*field.PropertyDefinition{
			"value":  {Name: "value", DataType: "text"},
			"format": {Name: "format", DataType: "string"},
		}},
		"tags": {Name: "tags", DataType: "entity_reference", List: true, MainProperty: "target_id", Properties: map[string]*field.PropertyDefinition{
			"target_id": {Name: "target_id", DataType: "integer"},
			"entity": {Name: "entity", DataType: "entity", Properties: map[string]*field.PropertyDefinition{
				"name": {Name: "name", DataType: "string"},
			}},
		}},
	}
}

func testObject() Data {
	return NewObject(nodeProps(), map[string]any{
		"title": "Hello",
		"body":  map[string]any{"value": "Body text", "format": "html"},
		"tags": []any{
			map[string]any{"target_id": 1, "entity": map[string]any{"name": "Go", "translations": map[string]any{"de": map[string]any{"name": "Golang"}}}},
			map[string]any{"target_id": 2, "entity": map[string]any{"name": "Search"}},
		},
	})
}

func newField(id, path string) *field.Field {
	f := field.New("test", id)
	f.DatasourceID = "entity:node"
	f.PropertyPath = path
	return f
}

func TestExtractFields_FollowsListsComplexAndReferences(t *testing.T) {
	// Given: fields on direct, complex and nested list paths
	title := newField("title", "title")
	body := newField("body", "body")
	tagIDs := newField("tags", "tags")
	tagNames := newField("tag_names", "tags:entity:name")
	missing := newField("missing", "does_not_exist")

	// When: extracting
	ExtractFields(testObject(), map[string][]*field.Field{
		"title":            {title},
		"body":             {body},
		"tags":             {tagIDs},
		"tags:entity:name": {tagNames},
		"does_not_exist":   {missing},
	}, "en")

	// Then: each field receives its flattened values
	assert.Equal(t, []any{"Hello"}, title.Values)
	assert.Equal(t, []any{"Body text"}, body.Values)
	assert.Equal(t, []any{1, 2}, tagIDs.Values)
	assert.Equal(t, []any{"Go", "Search"}, tagNames.Values)
	assert.Empty(t, missing.Values)
}

func TestExtractFields_UsesTranslationOfReferencedObject(t *testing.T) {
	names := newField("tag_names", "tags:entity:name")

	ExtractFields(testObject(), map[string][]*field.Field{"tags:entity:name": {names}}, "de")

	assert.Equal(t, []any{"Golang", "Search"}, names.Values)
}

func TestItem_FieldsExtractsLazilyOnce(t *testing.T) {
	// Given: an index with a datasource field and a processor field
	url := field.New("test", "url")
	url.PropertyPath = "search_api_url"
	idx := &fakeIndex{
		fields:    []*field.Field{newField("title", "title"), url},
		objects:   map[string]Data{"entity:node/1:en": testObject()},
		procProps: map[string]bool{"search_api_url": true},
	}
	it := New(idx, "entity:node/1:en", nil)

	// When: reading fields twice
	fields, err := it.Fields(context.Background())
	require.NoError(t, err)
	_, err = it.Fields(context.Background())
	require.NoError(t, err)

	// Then: values are filled and the object was loaded once
	assert.Equal(t, []any{"Hello"}, fields["title"].Values)
	assert.Equal(t, []any{"/node/1:en"}, fields["url"].Values)
	assert.Equal(t, 1, idx.loads)
	assert.Equal(t, "en", it.Language())
	assert.Equal(t, "entity:node", it.DatasourceID())
}

func TestItem_MissingObjectLeavesFieldsEmpty(t *testing.T) {
	idx := &fakeIndex{fields: []*field.Field{newField("title", "title")}}
	it := New(idx, "entity:node/9:en", nil)

	fields, err := it.Fields(context.Background())

	require.NoError(t, err)
	assert.Empty(t, fields["title"].Values)
}

func TestItem_CloneIsIndependent(t *testing.T) {
	idx := &fakeIndex{fields: []*field.Field{newField("title", "title")}}
	obj := testObject()
	it := New(idx, "entity:node/1:en", &obj)
	_, err := it.Fields(context.Background())
	require.NoError(t, err)

	c := it.Clone()
	f, _ := c.Field("title")
	f.Values = []any{"changed"}
	c.SetExtraData("k", 1)

	orig, _ := it.Field("title")
	assert.Equal(t, []any{"Hello"}, orig.Values)
	assert.False(t, it.HasExtraData("k"))
}

func TestExtractItemValues_ReusesAndExtracts(t *testing.T) {
	idx := &fakeIndex{fields: []*field.Field{newField("title", "title")}}
	obj := testObject()
	it := New(idx, "entity:node/1:en", &obj)
	_, err := it.Fields(context.Background())
	require.NoError(t, err)
	f, _ := it.Field("title")
	f.Values = []any{"processed title"}

	values, err := ExtractItemValues(context.Background(), []*Item{it}, map[string]map[string]string{
		"entity:node": {"title": "entity:node/title", "tags:entity:name": "entity:node/tags:entity:name"},
		"entity:user": {"name": "entity:user/name"},
	})

	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, []any{"processed title"}, values[0]["entity:node/title"])
	assert.Equal(t, []any{"Go", "Search"}, values[0]["entity:node/tags:entity:name"])
	_, ok := values[0]["entity:user/name"]
	assert.False(t, ok)
}

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

func TestAddField_Errors(t *testing.T) {
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())

	tests := []struct {
		name  string
		field *field.Field
		code  string
	}{
		{"without ID", field.New("articles", ""), amanerrors.ErrCodeConfigInvalid},
		{"reserved ID", field.New("articles", "search_api_language"), amanerrors.ErrCodeFieldReserved},
		{"taken ID", field.New("articles", "title"), amanerrors.ErrCodeFieldExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := idx.AddField(tt.field)
			assert.Equal(t, tt.code, amanerrors.GetCode(err))
		})
	}

	// Given: a field of a datasource the index does not use
	other := field.New("articles", "user_name")
	other.DatasourceID = "entity:user"
	other.PropertyPath = "name"
	other.Type = field.TypeString
	assert.Equal(t, amanerrors.ErrCodeUnknownDatasource, amanerrors.GetCode(idx.AddField(other)))
}

func TestAddFieldFromProperty(t *testing.T) {
	// Given: an index
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())

	// When: adding a field for the list property "tags"
	fld, err := idx.AddFieldFromProperty(nodes, "tags", "", "")
	require.NoError(t, err)

	// Then: the field uses the default mapping and is multi-valued
	assert.Equal(t, "tags", fld.ID)
	assert.Equal(t, field.TypeString, fld.Type)
	assert.True(t, fld.MultiValued)

	// When: adding the same property again without an ID
	fld2, err := idx.AddFieldFromProperty(nodes, "tags", "", "")
	require.NoError(t, err)

	// Then: a unique ID is derived
	assert.NotEqual(t, "tags", fld2.ID)

	// When: the property does not exist
	_, err = idx.AddFieldFromProperty(nodes, "nope", "", "")
	assert.Equal(t, amanerrors.ErrCodeUnknownField, amanerrors.GetCode(err))
}

func TestRenameField_SaveKeepsData(t *testing.T) {
	ctx := context.Background()

	// Given: an indexed item
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "foo"), page("2", "bar"))
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)

	// When: renaming a field twice before saving
	require.NoError(t, idx.RenameField("kind", "bundle"))
	require.NoError(t, idx.RenameField("bundle", "content_type"))

	// Then: the backend sees one rename from the stored ID
	assert.Equal(t, map[string]string{"kind": "content_type"}, idx.FieldRenames())

	// When: saving
	_, err = idx.Save(ctx)
	require.NoError(t, err)
	_, err = idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)

	// Then: renames are reset and the new ID can be searched
	assert.Empty(t, idx.FieldRenames())
	r := search(t, idx, func(q *query.Query) { q.AddCondition("content_type", "page") })
	assert.Equal(t, []string{nodeID("2")}, item.IDs(r.Items()))
}

func TestRenameField_Errors(t *testing.T) {
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())

	assert.Equal(t, amanerrors.ErrCodeUnknownField, amanerrors.GetCode(idx.RenameField("nope", "x")))
	assert.Equal(t, amanerrors.ErrCodeFieldExists, amanerrors.GetCode(idx.RenameField("kind", "title")))
	assert.Equal(t, amanerrors.ErrCodeFieldReserved, amanerrors.GetCode(idx.RenameField("kind", "search_api_id")))

	// Renaming back and forth cancels out.
	require.NoError(t, idx.RenameField("kind", "bundle"))
	require.NoError(t, idx.RenameField("bundle", "kind"))
	assert.Empty(t, idx.FieldRenames())
}

func TestRemoveField(t *testing.T) {
	// Given: an index with a locked field added for a processor
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	locked, err := idx.EnsureField(nodes, "body", field.TypeText)
	require.NoError(t, err)
	assert.True(t, locked.IndexedLocked)

	// Then: the locked field cannot be removed
	assert.Equal(t, amanerrors.ErrCodeFieldLocked, amanerrors.GetCode(idx.RemoveField(locked.ID)))

	// And: unlocked and unknown fields can
	require.NoError(t, idx.RemoveField("kind"))
	require.NoError(t, idx.RemoveField("kind"))
	_, ok := idx.Field("kind")
	assert.False(t, ok)
}

func TestSetFieldBoostAndType(t *testing.T) {
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())

	require.NoError(t, idx.SetFieldBoost("title", 5))
	fld, _ := idx.Field("title")
	assert.Equal(t, 5.0, fld.Boost)
	assert.Equal(t, amanerrors.ErrCodeInvalidValue, amanerrors.GetCode(idx.SetFieldBoost("title", -1)))
	assert.Equal(t, amanerrors.ErrCodeUnknownField, amanerrors.GetCode(idx.SetFieldBoost("nope", 1)))

	require.NoError(t, idx.SetFieldType("kind", field.TypeText))
	fld, _ = idx.Field("kind")
	assert.True(t, fld.IsFulltext())

	locked, err := idx.EnsureField(nodes, "body", field.TypeText)
	require.NoError(t, err)
	assert.Equal(t, amanerrors.ErrCodeFieldLocked, amanerrors.GetCode(idx.SetFieldType(locked.ID, field.TypeString)))
}

func TestProcessorAdministration(t *testing.T) {
	ctx := context.Background()

	// Given: an indexed item
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "Foo"))
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)

	// Then: locked and unknown processors are rejected
	assert.Equal(t, amanerrors.ErrCodeProcessorLocked, amanerrors.GetCode(idx.DisableProcessor("add_url")))
	assert.Equal(t, amanerrors.ErrCodeUnknownProcessor, amanerrors.GetCode(idx.DisableProcessor("nope")))
	assert.Equal(t, amanerrors.ErrCodeUnknownProcessor, amanerrors.GetCode(idx.EnableProcessor("nope", ProcessorConfig{})))

	// When: enabling a processor working at index time and saving
	require.NoError(t, idx.EnableProcessor("ignorecase", ProcessorConfig{}))
	res, err := idx.Save(ctx)
	require.NoError(t, err)

	// Then: the index is scheduled for reindexing
	assert.True(t, res.Reindexed)
	assert.Equal(t, 1, status(t, idx).Remaining)

	// And: the processor is listed as enabled
	var enabled bool
	for _, p := range idx.AvailableProcessors() {
		if p.Descriptor.ID == "ignorecase" {
			enabled = p.Enabled
		}
	}
	assert.True(t, enabled)

	// When: saving again without changes
	_, err = idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)
	res, err = idx.Save(ctx)
	require.NoError(t, err)

	// Then: nothing happens
	assert.False(t, res.Changed())

	// When: disabling it again
	require.NoError(t, idx.DisableProcessor("ignorecase"))
	res, err = idx.Save(ctx)
	require.NoError(t, err)
	assert.True(t, res.Reindexed)
}

func TestSave_SearchTimeProcessorDoesNotReindex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "foo"))
	_, err := idx.IndexItems(ctx, -1, "")
	require.NoError(t, err)

	require.NoError(t, idx.EnableProcessor("highlight", ProcessorConfig{}))
	res, err := idx.Save(ctx)

	require.NoError(t, err)
	assert.False(t, res.Reindexed)
	assert.Zero(t, status(t, idx).Remaining)
}

func TestSave_TrackerOrderChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idx := f.newIndex(articlesConfig())
	f.put(article("1", "foo"))

	cfg := idx.Config()
	cfg.Tracker.Order = "lifo"
	_, err := idx.Update(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, "lifo", idx.Config().Tracker.Order)
	assert.Equal(t, 1, status(t, idx).Remaining)
}

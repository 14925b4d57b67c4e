package database

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

func countRows(t *testing.T, b *Backend, table, where string, args ...any) int {
	t.Helper()
	var n int
	stmt := "SELECT COUNT(*) FROM " + b.db.Dialect().Quote(table)
	if where != "" {
		stmt += " WHERE " + where
	}
	require.NoError(t, b.db.GetContext(context.Background(), &n, b.db.Rebind(stmt), args...))
	return n
}

func TestIndexItems_IsIdempotent(t *testing.T) {
	// Given: an indexed catalog
	ctx := context.Background()
	b, idx := setupCatalog(t, DefaultConfig())
	info, err := b.requireInfo(ctx, idx.ID())
	require.NoError(t, err)
	words := countRows(t, b, info.TextTable, "item_id = ?", "entity:node/1:en")
	tags := countRows(t, b, info.Fields["tags"].Table, "")

	// When: the same item is indexed again
	ids, err := b.IndexItems(ctx, idx, []*item.Item{
		idx.newItem("entity:node/1:en", map[string][]any{
			"title": {"foo bar baz foobaz"}, "type": {"article"}, "tags": {"a", "b"}, "count": {10},
		}),
	})
	require.NoError(t, err)

	// Then: nothing is duplicated
	assert.Equal(t, []string{"entity:node/1:en"}, ids)
	assert.Equal(t, 4, words)
	assert.Equal(t, words, countRows(t, b, info.TextTable, "item_id = ?", "entity:node/1:en"))
	assert.Equal(t, tags, countRows(t, b, info.Fields["tags"].Table, ""))
	assert.Equal(t, 3, countRows(t, b, info.IndexTable, ""))
}

func TestIndexItems_StoresDenormalizedPrefixAndDedupedWords(t *testing.T) {
	// Given: a text with repeated words in different case
	ctx := context.Background()
	b := newTestBackend(t, DefaultConfig())
	idx := newTestIndex(textField("body", 1))
	require.NoError(t, b.AddIndex(ctx, idx))

	_, err := b.IndexItems(ctx, idx, []*item.Item{
		idx.newItem("ds/1", map[string][]any{"body": {"Hello hello Wörld 007 and a very long tail of words"}}),
	})
	require.NoError(t, err)

	// Then: words are folded and merged, numbers trimmed
	info, err := b.requireInfo(ctx, idx.ID())
	require.NoError(t, err)
	var words []string
	require.NoError(t, b.db.SelectContext(ctx, &words,
		b.db.Rebind("SELECT word FROM "+b.db.Dialect().Quote(info.TextTable)+" WHERE field_name = ? ORDER BY word"), "body"))
	assert.Contains(t, words, "hello")
	assert.Contains(t, words, "world")
	assert.Contains(t, words, "7")
	assert.NotContains(t, words, "Hello")

	var score int64
	require.NoError(t, b.db.GetContext(ctx, &score,
		b.db.Rebind("SELECT score FROM "+b.db.Dialect().Quote(info.TextTable)+" WHERE word = ?"), "hello"))
	assert.Equal(t, int64(2000), score)

	// And: the denormalized column keeps a short prefix
	var prefix string
	require.NoError(t, b.db.GetContext(ctx, &prefix,
		"SELECT "+b.db.Dialect().Quote(info.Fields["body"].Column)+" FROM "+b.db.Dialect().Quote(info.IndexTable)))
	assert.LessOrEqual(t, len([]rune(prefix)), textColumnLength)
	assert.Contains(t, prefix, "Hello")
}

func TestIndexItems_UnknownTypeAborts(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, DefaultConfig())
	idx := newTestIndex(textField("body", 1))
	require.NoError(t, b.AddIndex(ctx, idx))
	idx.fields["weird"] = typedField("weird", "geo_point", false)

	_, err := b.IndexItems(ctx, idx, []*item.Item{idx.newItem("ds/1", nil)})

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeUnknownType))
}

func TestIndexItems_RepairsChangedLayout(t *testing.T) {
	// Given: an index whose fields changed without UpdateIndex
	ctx := context.Background()
	b, idx := setupCatalog(t, DefaultConfig())
	idx.fields["rating"] = typedField("rating", field.TypeDecimal, false)

	// When: items are indexed
	ids, err := b.IndexItems(ctx, idx, []*item.Item{
		idx.newItem("entity:node/4:en", map[string][]any{"title": {"new"}, "rating": {4.5}}),
	})

	// Then: the layout is repaired and the item stored
	require.NoError(t, err)
	assert.Equal(t, []string{"entity:node/4:en"}, ids)
	r := runSearch(t, b, idx, func(q *query.Query) { q.AddCondition("rating", 4, query.OpGreater) })
	assert.Equal(t, []string{"entity:node/4:en"}, resultIDs(r))
}

func TestDeleteItems(t *testing.T) {
	ctx := context.Background()
	b, idx := setupCatalog(t, DefaultConfig())
	info, err := b.requireInfo(ctx, idx.ID())
	require.NoError(t, err)

	require.NoError(t, b.DeleteItems(ctx, idx, []string{"entity:node/1:en"}))

	ids, err := b.IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"entity:node/2:en", "entity:user/3:de"}, ids)
	assert.Zero(t, countRows(t, b, info.TextTable, "item_id = ?", "entity:node/1:en"))
	assert.Zero(t, countRows(t, b, info.Fields["tags"].Table, "item_id = ?", "entity:node/1:en"))
}

func TestDeleteAllIndexItems_ByDatasource(t *testing.T) {
	ctx := context.Background()
	b, idx := setupCatalog(t, DefaultConfig())

	// When: one datasource is cleared
	require.NoError(t, b.DeleteAllIndexItems(ctx, idx, "entity:node"))
	ids, err := b.IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	// Then: only the other datasource's items remain
	assert.Equal(t, []string{"entity:user/3:de"}, ids)

	// When: everything is cleared
	require.NoError(t, b.DeleteAllIndexItems(ctx, idx, ""))
	ids, err = b.IndexedItemIDs(ctx, idx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpdateIndex_FieldChanges(t *testing.T) {
	ctx := context.Background()
	b, idx := setupCatalog(t, DefaultConfig())

	t.Run("unchanged fields need no reindex", func(t *testing.T) {
		reindex, err := b.UpdateIndex(ctx, idx)
		require.NoError(t, err)
		assert.False(t, reindex)
	})

	t.Run("boost change rescales stored scores", func(t *testing.T) {
		info, err := b.requireInfo(ctx, idx.ID())
		require.NoError(t, err)
		var before int64
		require.NoError(t, b.db.GetContext(ctx, &before, b.db.Rebind("SELECT score FROM "+b.db.Dialect().Quote(info.TextTable)+" WHERE item_id = ? AND word = ?"), "entity:user/3:de", "qux"))

		idx.fields["title"].Boost = 3
		reindex, err := b.UpdateIndex(ctx, idx)
		require.NoError(t, err)
		assert.False(t, reindex)

		var after int64
		require.NoError(t, b.db.GetContext(ctx, &after, b.db.Rebind("SELECT score FROM "+b.db.Dialect().Quote(info.TextTable)+" WHERE item_id = ? AND word = ?"), "entity:user/3:de", "qux"))
		assert.Equal(t, before*3, after)
	})

	t.Run("rename keeps data", func(t *testing.T) {
		title := idx.fields["title"]
		delete(idx.fields, "title")
		title.ID = "name"
		idx.fields["name"] = title
		idx.renames = map[string]string{"title": "name"}
		t.Cleanup(func() { idx.renames = nil })

		reindex, err := b.UpdateIndex(ctx, idx)
		require.NoError(t, err)
		assert.False(t, reindex)

		r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "foobaz")) })
		assert.Equal(t, []string{"entity:node/1:en"}, resultIDs(r))
	})

	t.Run("added field requires reindex", func(t *testing.T) {
		idx.fields["extra"] = typedField("extra", field.TypeBoolean, false)
		reindex, err := b.UpdateIndex(ctx, idx)
		require.NoError(t, err)
		assert.True(t, reindex)
	})

	t.Run("type change requires reindex", func(t *testing.T) {
		idx.fields["count"].Type = field.TypeDecimal
		reindex, err := b.UpdateIndex(ctx, idx)
		require.NoError(t, err)
		assert.True(t, reindex)
	})

	t.Run("removed field drops its storage", func(t *testing.T) {
		info, err := b.requireInfo(ctx, idx.ID())
		require.NoError(t, err)
		table := info.Fields["tags"].Table
		delete(idx.fields, "tags")

		_, err = b.UpdateIndex(ctx, idx)
		require.NoError(t, err)

		exists, err := b.db.TableExists(ctx, table)
		require.NoError(t, err)
		assert.False(t, exists)
		info, err = b.requireInfo(ctx, idx.ID())
		require.NoError(t, err)
		assert.NotContains(t, info.Fields, "tags")
	})
}

func TestRemoveIndex_DropsTables(t *testing.T) {
	ctx := context.Background()
	b, idx := setupCatalog(t, DefaultConfig())
	info, err := b.requireInfo(ctx, idx.ID())
	require.NoError(t, err)

	require.NoError(t, b.RemoveIndex(ctx, idx.ID()))

	for _, table := range []string{info.IndexTable, info.TextTable, info.Fields["tags"].Table} {
		exists, err := b.db.TableExists(ctx, table)
		require.NoError(t, err)
		assert.False(t, exists, table)
	}
	_, err = b.requireInfo(ctx, idx.ID())
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeSchema))
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{"min_chars": 3, "matching": "partial"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MinChars)
	assert.Equal(t, MatchPartial, cfg.Matching)
	assert.True(t, cfg.Autocomplete.SuggestSuffix)

	_, err = ParseConfig(map[string]any{"matching": "fuzzy"})
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeConfigInvalid))
}

package database

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

func runSearch(t *testing.T, b *Backend, idx *testIndex, build func(q *query.Query)) *query.ResultSet {
	t.Helper()
	q := query.New(idx)
	build(q)
	require.NoError(t, b.Search(context.Background(), idx, q))
	return q.Results()
}

func resultIDs(r *query.ResultSet) []string {
	return item.IDs(r.Items())
}

func TestSearch_WordsMatchWithAndConjunction(t *testing.T) {
	// Given: an item titled "foo bar baz foobaz" and a minimum word size of 3
	cfg := DefaultConfig()
	cfg.MinChars = 3
	b, idx := setupCatalog(t, cfg)

	// When: searching for both "bar" and "baz"
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "bar", "baz")) })

	// Then: the item is found
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"entity:node/1:en"}, resultIDs(r))
	assert.Greater(t, r.Items()[0].Score(), 0.0)

	// When: searching for a word nobody contains
	r = runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "nothing")) })

	// Then: the search is valid but empty
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Items())
	assert.Empty(t, r.Warnings())
}

func TestSearch_OrAndNegation(t *testing.T) {
	// Given: the catalog
	b, idx := setupCatalog(t, DefaultConfig())

	// When: one of two words must match
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.Or, "foobaz", "qux")) })
	// Then: items with either word are found
	assert.Equal(t, 3, r.Count())

	// When: a word is excluded
	r = runSearch(t, b, idx, func(q *query.Query) { q.SetRawKeys("foo -foobaz") })
	// Then: items containing it drop out
	assert.Equal(t, []string{"entity:node/2:en"}, resultIDs(r))

	// When: only a negated word is given
	r = runSearch(t, b, idx, func(q *query.Query) { q.SetRawKeys("-foo") })
	// Then: all other items match with the default score
	assert.Equal(t, []string{"entity:user/3:de"}, resultIDs(r))
	assert.InDelta(t, 1.0, r.Items()[0].Score(), 0.0001)
}

func TestSearch_NestedGroupWithNegatedAlternative(t *testing.T) {
	// Given: the catalog
	b, idx := setupCatalog(t, DefaultConfig())

	// When: searching for "foobaz" OR NOT "qux"
	keys := query.NewKeys(query.Or, "foobaz")
	keys.AddGroup(&query.Keys{Conjunction: query.And, Negation: true, Terms: []query.Term{{Word: "qux"}}})
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(keys) })

	// Then: only the item matching the positive part or lacking "qux" is found
	assert.Equal(t, []string{"entity:node/1:en"}, resultIDs(r))
}

func TestSearch_ScoresRepeatedWordsHigher(t *testing.T) {
	// Given: two items, one repeating the searched word
	ctx := context.Background()
	b := newTestBackend(t, DefaultConfig())
	idx := newTestIndex(textField("title", 2))
	require.NoError(t, b.AddIndex(ctx, idx))
	_, err := b.IndexItems(ctx, idx, []*item.Item{
		idx.newItem("ds/a", map[string][]any{"title": {"apple banana cherry"}}),
		idx.newItem("ds/b", map[string][]any{"title": {"apple apple apple"}}),
	})
	require.NoError(t, err)

	// When: searching for the word
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "Apple")) })

	// Then: the repeating item ranks first
	assert.Equal(t, []string{"ds/b", "ds/a"}, resultIDs(r))
	assert.Greater(t, r.Items()[0].Score(), r.Items()[1].Score())
}

func TestSearch_IgnoresShortKeys(t *testing.T) {
	// Given: a minimum word size of 3
	cfg := DefaultConfig()
	cfg.MinChars = 3
	b, idx := setupCatalog(t, cfg)

	// When: only a short key is given
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "fo")) })

	// Then: the key is reported and the search runs without keys
	assert.Equal(t, []string{"fo"}, r.IgnoredKeys())
	assert.Contains(t, r.Warnings(), "No valid search keys were present in the query.")
	assert.Equal(t, 3, r.Count())
}

func TestSearch_Conditions(t *testing.T) {
	b, idx := setupCatalog(t, DefaultConfig())

	tests := []struct {
		name  string
		build func(q *query.Query)
		want  []string
	}{
		{
			name:  "string equals",
			build: func(q *query.Query) { q.AddCondition("type", "article") },
			want:  []string{"entity:node/1:en"},
		},
		{
			name:  "not equals keeps missing values",
			build: func(q *query.Query) { q.AddCondition("type", "article", query.OpNotEqual) },
			want:  []string{"entity:node/2:en", "entity:user/3:de"},
		},
		{
			name:  "null",
			build: func(q *query.Query) { q.AddCondition("type", nil) },
			want:  []string{"entity:user/3:de"},
		},
		{
			name:  "greater than",
			build: func(q *query.Query) { q.AddCondition("count", 5, query.OpGreater) },
			want:  []string{"entity:node/1:en"},
		},
		{
			name:  "between",
			build: func(q *query.Query) { q.AddCondition("count", []any{1, 5}, query.OpBetween) },
			want:  []string{"entity:node/2:en"},
		},
		{
			name:  "multi-valued equals",
			build: func(q *query.Query) { q.AddCondition("tags", "b") },
			want:  []string{"entity:node/1:en", "entity:node/2:en"},
		},
		{
			name:  "multi-valued not equals excludes any match",
			build: func(q *query.Query) { q.AddCondition("tags", "a", query.OpNotEqual) },
			want:  []string{"entity:node/2:en", "entity:user/3:de"},
		},
		{
			name:  "multi-valued not in",
			build: func(q *query.Query) { q.AddCondition("tags", []any{"a", "b"}, query.OpNotIn) },
			want:  []string{"entity:user/3:de"},
		},
		{
			name:  "datasource",
			build: func(q *query.Query) { q.AddCondition(query.FieldDatasource, "entity:user") },
			want:  []string{"entity:user/3:de"},
		},
		{
			name:  "language",
			build: func(q *query.Query) { q.SetLanguages([]string{"en"}) },
			want:  []string{"entity:node/1:en", "entity:node/2:en"},
		},
		{
			name:  "item id in",
			build: func(q *query.Query) { q.AddCondition(query.FieldID, []any{"entity:node/2:en", "x"}, query.OpIn) },
			want:  []string{"entity:node/2:en"},
		},
		{
			name:  "fulltext field condition",
			build: func(q *query.Query) { q.AddCondition("title", "qux") },
			want:  []string{"entity:node/2:en", "entity:user/3:de"},
		},
		{
			name: "or group",
			build: func(q *query.Query) {
				g := query.NewConditionGroup(query.Or)
				g.AddCondition("type", "page").AddCondition("count", 10)
				q.AddConditionGroup(g)
			},
			want: []string{"entity:node/1:en", "entity:node/2:en"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runSearch(t, b, idx, tt.build)
			assert.Equal(t, tt.want, resultIDs(r))
			assert.Equal(t, len(tt.want), r.Count())
		})
	}
}

func TestSearch_MultiValuedConditionsInNestedGroups(t *testing.T) {
	// Given: items carrying several tags each
	ctx := context.Background()
	b := newTestBackend(t, DefaultConfig())
	idx := newTestIndex(typedField("tags", "string", true))
	require.NoError(t, b.AddIndex(ctx, idx))
	_, err := b.IndexItems(ctx, idx, []*item.Item{
		idx.newItem("ds/1", map[string][]any{"tags": {"a", "b"}}),
		idx.newItem("ds/2", map[string][]any{"tags": {"a", "c"}}),
		idx.newItem("ds/3", map[string][]any{"tags": {"a"}}),
		idx.newItem("ds/4", map[string][]any{"tags": {"b", "c"}}),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		group func() *query.ConditionGroup
		want  []string
	}{
		{
			name: "and matches different values of one item",
			group: func() *query.ConditionGroup {
				return query.NewConditionGroup(query.And).AddCondition("tags", "a").AddCondition("tags", "b")
			},
			want: []string{"ds/1"},
		},
		{
			name: "or within and",
			group: func() *query.ConditionGroup {
				or := query.NewConditionGroup(query.Or).AddCondition("tags", "b").AddCondition("tags", "c")
				return query.NewConditionGroup(query.And).AddCondition("tags", "a").AddGroup(or)
			},
			want: []string{"ds/1", "ds/2"},
		},
		{
			name: "and within or",
			group: func() *query.ConditionGroup {
				ab := query.NewConditionGroup(query.And).AddCondition("tags", "a").AddCondition("tags", "b")
				bc := query.NewConditionGroup(query.And).AddCondition("tags", "b").AddCondition("tags", "c")
				return query.NewConditionGroup(query.Or).AddGroup(ab).AddGroup(bc)
			},
			want: []string{"ds/1", "ds/4"},
		},
		{
			name: "or shares one join",
			group: func() *query.ConditionGroup {
				return query.NewConditionGroup(query.Or).AddCondition("tags", "b").AddCondition("tags", "c")
			},
			want: []string{"ds/1", "ds/2", "ds/4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: filtering with the group
			r := runSearch(t, b, idx, func(q *query.Query) { q.AddConditionGroup(tt.group()) })

			// Then: each item shows up once
			assert.ElementsMatch(t, tt.want, resultIDs(r))
			assert.Equal(t, len(tt.want), r.Count())
		})
	}
}

func TestSearch_EarlierWordsScoreHigher(t *testing.T) {
	// Given: one item naming the word first and one naming it after many
	// distinct words
	ctx := context.Background()
	b := newTestBackend(t, DefaultConfig())
	idx := newTestIndex(textField("body", 1))
	require.NoError(t, b.AddIndex(ctx, idx))
	filler := make([]string, 200)
	for i := range filler {
		filler[i] = fmt.Sprintf("filler%03d", i)
	}
	_, err := b.IndexItems(ctx, idx, []*item.Item{
		idx.newItem("ds/late", map[string][]any{"body": {strings.Join(filler, " ") + " needle"}}),
		idx.newItem("ds/early", map[string][]any{"body": {"needle " + strings.Join(filler, " ")}}),
	})
	require.NoError(t, err)

	// When: searching for the word
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "needle")) })

	// Then: the early mention ranks first with the full score
	require.Equal(t, []string{"ds/early", "ds/late"}, resultIDs(r))
	assert.InDelta(t, 1.0, r.Items()[0].Score(), 0.0001)
	assert.Less(t, r.Items()[1].Score(), r.Items()[0].Score())
}

func TestSearch_UnknownConditionFieldFails(t *testing.T) {
	// Given: the catalog
	b, idx := setupCatalog(t, DefaultConfig())

	// When: filtering on a field the index does not have
	q := query.New(idx)
	q.AddCondition("nope", 1)
	err := b.Search(context.Background(), idx, q)

	// Then: the search fails
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeUnknownCondition))
	assert.Contains(t, err.Error(), "Unknown field in filter clause: 'nope'.")
}

func TestSearch_SortAndPaging(t *testing.T) {
	b, idx := setupCatalog(t, DefaultConfig())

	// When: sorting by count descending
	r := runSearch(t, b, idx, func(q *query.Query) { q.Sort("count", query.Desc) })
	// Then: missing values come last
	assert.Equal(t, []string{"entity:node/1:en", "entity:node/2:en", "entity:user/3:de"}, resultIDs(r))

	// When: paging through the same order
	r = runSearch(t, b, idx, func(q *query.Query) { q.Sort("count", query.Desc).Range(1, 1) })
	// Then: the count covers all results
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []string{"entity:node/2:en"}, resultIDs(r))

	// When: sorting on an unknown field
	r = runSearch(t, b, idx, func(q *query.Query) { q.Sort("nope", query.Asc) })
	// Then: a warning is added and the item ID decides
	assert.Contains(t, r.Warnings(), "Trying to sort on unknown field 'nope'.")
	assert.Equal(t, []string{"entity:node/1:en", "entity:node/2:en", "entity:user/3:de"}, resultIDs(r))
}

func TestSearch_SkipResultCount(t *testing.T) {
	b, idx := setupCatalog(t, DefaultConfig())

	r := runSearch(t, b, idx, func(q *query.Query) {
		q.SetOption(query.OptionSkipResultCount, true)
		q.Range(0, 2)
	})

	assert.Len(t, r.Items(), 2)
	assert.Equal(t, 2, r.Count())
}

func TestSearch_PartialMatching(t *testing.T) {
	// Given: partial matching
	cfg := DefaultConfig()
	cfg.Matching = MatchPartial
	b, idx := setupCatalog(t, cfg)

	// When: searching for a word fragment
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "oba")) })
	// Then: words containing it match
	assert.Equal(t, []string{"entity:node/1:en"}, resultIDs(r))

	// When: two fragments must both match
	r = runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "fo", "ux")) })
	// Then: only items containing both are found
	assert.Equal(t, []string{"entity:node/2:en"}, resultIDs(r))
}

func TestSearch_PrefixMatching(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matching = MatchPrefix
	b, idx := setupCatalog(t, cfg)

	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "oba")) })
	assert.Empty(t, resultIDs(r))

	r = runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "fooba")) })
	assert.Equal(t, []string{"entity:node/1:en"}, resultIDs(r))
}

func TestSearch_NoFulltextFieldsWarns(t *testing.T) {
	// Given: an index without fulltext fields
	ctx := context.Background()
	b := newTestBackend(t, DefaultConfig())
	idx := newTestIndex(typedField("type", "string", false))
	require.NoError(t, b.AddIndex(ctx, idx))

	// When: searching with keys
	r := runSearch(t, b, idx, func(q *query.Query) { q.SetKeys(query.NewKeys(query.And, "foo")) })

	// Then: a warning is returned instead of results
	assert.Contains(t, r.Warnings(), "Search keys are given but no fulltext fields are defined.")
	assert.Empty(t, r.Items())
}

func TestSearch_FulltextOnNonTextFieldFails(t *testing.T) {
	b, idx := setupCatalog(t, DefaultConfig())

	q := query.New(idx)
	q.SetKeys(query.NewKeys(query.And, "foo")).SetFulltextFields([]string{"type"})
	err := b.Search(context.Background(), idx, q)

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidQuery))
}

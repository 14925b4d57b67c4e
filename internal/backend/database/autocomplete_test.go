package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/query"
)

func TestAutocomplete_SuggestsSuffixes(t *testing.T) {
	// Given: the catalog
	b, idx := setupCatalog(t, DefaultConfig())

	// When: the user typed "fo"
	got, err := b.Autocomplete(context.Background(), idx, query.New(idx), "fo", "fo")

	// Then: indexed words starting with it are suggested by frequency
	require.NoError(t, err)
	assert.Equal(t, []backend.Suggestion{
		{Suggestion: "foo", Suffix: "o", ResultCount: 2},
		{Suggestion: "foobaz", Suffix: "obaz", ResultCount: 1},
	}, got)
}

func TestAutocomplete_SuggestsAdditionalWords(t *testing.T) {
	// Given: only word suggestions
	cfg := DefaultConfig()
	cfg.Autocomplete.SuggestSuffix = false
	b, idx := setupCatalog(t, cfg)

	// When: the user typed a complete word
	q := query.New(idx)
	q.SetKeys(query.NewKeys(query.And, "foo"))
	got, err := b.Autocomplete(context.Background(), idx, q, "", "foo ")

	// Then: other words of the matching items are suggested, the typed
	// one and those in every result are not
	require.NoError(t, err)
	var words []string
	for _, s := range got {
		words = append(words, s.Suffix)
		assert.Equal(t, "foo "+s.Suffix, s.Suggestion)
	}
	assert.ElementsMatch(t, []string{"bar", "baz", "foobaz", "qux"}, words)
}

func TestAutocomplete_DisabledSuggestions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Autocomplete = AutocompleteConfig{}
	b, idx := setupCatalog(t, cfg)

	got, err := b.Autocomplete(context.Background(), idx, query.New(idx), "fo", "fo")

	require.NoError(t, err)
	assert.Empty(t, got)
}

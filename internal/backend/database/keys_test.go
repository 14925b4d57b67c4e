package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/query"
)

func words(n *keyNode) []string {
	var out []string
	for _, t := range n.terms {
		if t.group == nil {
			out = append(out, t.word)
		}
	}
	return out
}

func TestPrepareKeys_SplitsAndFoldsWords(t *testing.T) {
	p := &keyPreparer{minChars: 1}

	n := p.prepare(query.NewKeys(query.And, "Crème-Brûlée", "crème"))

	require.NotNil(t, n)
	assert.Equal(t, query.And, n.conj)
	assert.Equal(t, []string{"creme", "brulee"}, words(n))
}

func TestPrepareKeys_NumbersAreTrimmed(t *testing.T) {
	p := &keyPreparer{minChars: 3}

	n := p.prepare(query.NewKeys(query.Or, "-007", "000", "1.5"))

	require.NotNil(t, n)
	assert.Equal(t, []string{"7", "0", "1.5"}, words(n))
	assert.Empty(t, p.ignored)
}

func TestPrepareKeys_ShortWordsAreIgnored(t *testing.T) {
	p := &keyPreparer{minChars: 3}

	n := p.prepare(query.NewKeys(query.And, "an", "apple", "of"))

	require.NotNil(t, n)
	assert.Equal(t, []string{"apple"}, words(n))
	assert.Equal(t, []string{"an", "of"}, p.ignored)

	assert.Nil(t, p.prepare(query.NewKeys(query.And, "of")))
}

func TestPrepareKeys_PhraseInOrGroupBecomesAndGroup(t *testing.T) {
	p := &keyPreparer{minChars: 1}

	n := p.prepare(query.NewKeys(query.Or, "foo bar", "baz"))

	require.NotNil(t, n)
	assert.Equal(t, query.Or, n.conj)
	require.Len(t, n.terms, 2)
	require.NotNil(t, n.terms[0].group)
	assert.Equal(t, query.And, n.terms[0].group.conj)
	assert.Equal(t, []string{"foo", "bar"}, words(n.terms[0].group))
	assert.Equal(t, "baz", n.terms[1].word)
}

func TestPrepareKeys_MergesGroupsWithSameConjunction(t *testing.T) {
	p := &keyPreparer{minChars: 1}
	keys := query.NewKeys(query.And, "foo")
	keys.AddGroup(query.NewKeys(query.And, "bar", "foo"))
	keys.AddGroup(&query.Keys{Conjunction: query.And, Negation: true, Terms: []query.Term{{Word: "baz"}}})

	n := p.prepare(keys)

	require.NotNil(t, n)
	assert.Equal(t, []string{"foo", "bar"}, words(n))
	require.Len(t, n.terms, 3)
	require.NotNil(t, n.terms[2].group)
	assert.True(t, n.terms[2].group.neg)
}

func TestPrepareKeys_TokenizerKeepsPreparedWords(t *testing.T) {
	p := &keyPreparer{minChars: 1, tokenizerActive: true}

	n := p.prepare(query.NewKeys(query.And, "e-mail"))

	require.NotNil(t, n)
	assert.Equal(t, []string{"e-mail"}, words(n))
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "strasse", canonical("STRASSE"))
	assert.Equal(t, "ete", canonical("Été"))
	assert.Equal(t, canonical("ß"), canonical("ss"))
}

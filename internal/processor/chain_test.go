package processor

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

func TestNewChain_EnablesLockedProcessors(t *testing.T) {
	idx := newFakeIndex("entity:node")

	chain, err := NewChain(DefaultRegistry(), Deps{Index: idx}, map[string]Config{"tokenizer": {}})

	require.NoError(t, err)
	assert.True(t, chain.Has("tokenizer"))
	assert.True(t, chain.Has("add_url"))
	assert.True(t, chain.Has("aggregated_field"))
	assert.False(t, chain.Has("highlight"))
}

func TestNewChain_RejectsUnknownAndUnsupported(t *testing.T) {
	idx := newFakeIndex("entity:node")

	_, err := NewChain(DefaultRegistry(), Deps{Index: idx}, map[string]Config{"nope": {}})
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeUnknownProcessor))

	_, err = NewChain(DefaultRegistry(), Deps{Index: idx}, map[string]Config{"role_filter": {}})
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeConfigInvalid))
}

func TestChain_ByStageOrdersByWeight(t *testing.T) {
	// Given: the text processors with one weight override
	idx := newFakeIndex("entity:node")
	chain, err := NewChain(DefaultRegistry(), Deps{Index: idx}, map[string]Config{
		"html_filter": {},
		"ignorecase":  {},
		"tokenizer":   {},
		"stopwords":   {Weights: map[Stage]int{StagePreprocessIndex: -30}},
	})
	require.NoError(t, err)

	// When: listing the preprocess_index stage
	var ids []string
	for _, e := range chain.ByStage(StagePreprocessIndex) {
		ids = append(ids, e.Descriptor.ID)
	}

	// Then: lowest weight first
	assert.Equal(t, []string{"stopwords", "ignorecase", "html_filter", "tokenizer"}, ids)
}

func TestChain_PreprocessIndexItemsDoesNotModifyInput(t *testing.T) {
	// Given: an html body field processed by html_filter and tokenizer
	idx := newFakeIndex("entity:node")
	idx.addField("body", "entity:node", "body", field.TypeText)
	chain, err := NewChain(DefaultRegistry(), Deps{Index: idx}, map[string]Config{"html_filter": {}, "tokenizer": {}})
	require.NoError(t, err)
	idx.chain = chain
	it := idx.newItem("entity:node/1:en", map[string]any{"body": "<h1>Title</h1> body text"})
	dt, _ := field.DefaultDataTypes().Get(field.TypeText)
	f, _ := it.Field("body")
	f.SetDataType(dt)
	_, err = it.Fields(context.Background())
	require.NoError(t, err)

	// When: preprocessing
	out, err := chain.PreprocessIndexItems(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = chain.PreprocessIndexItems(context.Background(), []*item.Item{it})
	require.NoError(t, err)

	// Then: the copy holds boosted tokens and the input is untouched
	processed, _ := out[0].Field("body")
	tv := processed.Values[0].(*field.TextValue)
	assert.Equal(t, []field.TextToken{{Text: "Title", Boost: 5}, {Text: "body", Boost: 1}, {Text: "text", Boost: 1}}, tv.Tokens)
	original, _ := it.Field("body")
	assert.Equal(t, "<h1>Title</h1> body text", original.Values[0].(*field.TextValue).Text)
}

func TestChain_ProcessingLevels(t *testing.T) {
	idx := newFakeIndex("entity:node")
	idx.addField("title", "entity:node", "title", field.TypeText)
	chain, err := NewChain(DefaultRegistry(), Deps{Index: idx}, map[string]Config{"ignorecase": {}})
	require.NoError(t, err)

	q := query.New(idx).SetRawKeys("FOO").SetProcessingLevel(query.ProcessingBasic)
	require.NoError(t, chain.PreprocessQuery(context.Background(), q))
	assert.Equal(t, []string{"FOO"}, q.Keys().Words(false))

	q.SetProcessingLevel(query.ProcessingFull)
	require.NoError(t, chain.PreprocessQuery(context.Background(), q))
	assert.Equal(t, []string{"foo"}, q.Keys().Words(false))
}

func TestDescriptor_RequiresReindexing(t *testing.T) {
	tok := tokenizerDescriptor()
	assert.False(t, tok.RequiresReindexing(Settings{"minimum_word_size": 3}, Settings{"minimum_word_size": 3}))
	assert.True(t, tok.RequiresReindexing(Settings{"minimum_word_size": 3}, Settings{"minimum_word_size": 2}))
	assert.False(t, highlightDescriptor().RequiresReindexing(Settings{}, Settings{"prefix": "<em>"}))
}

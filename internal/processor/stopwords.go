package processor

import (
	"context"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in",
	"into", "is", "it", "no", "not", "of", "on", "or", "s", "such", "t", "that",
	"the", "their", "then", "there", "these", "they", "this", "to", "was",
	"will", "with",
}

func stopwordsDescriptor() Descriptor {
	return Descriptor{
		ID:          "stopwords",
		Label:       "Stopwords",
		Description: "Removes common words from indexed text and search keys.",
		Stages:      map[Stage]int{StagePreprocessIndex: -5, StagePreprocessQuery: -2, StagePostprocessQuery: -2},
	}
}

// Stopwords drops configured words and reports the ignored keys.
type Stopwords struct {
	fieldProcessing
	words map[string]bool
}

const ignoredStopwordsOption = "stopwords_ignored"

func newStopwords(deps Deps, s Settings) (Processor, error) {
	p := &Stopwords{words: make(map[string]bool)}
	for _, w := range s.Strings("stopwords", defaultStopwords) {
		if w = strings.TrimSpace(w); w != "" {
			p.words[w] = true
		}
	}
	p.fieldProcessing = newFieldProcessing(deps.Index, s, nil, p)
	return p, nil
}

func (p *Stopwords) ID() string { return "stopwords" }

// IsStopword reports whether w is configured as a stopword.
func (p *Stopwords) IsStopword(w string) bool {
	return p.words[strings.TrimSpace(w)]
}

func (p *Stopwords) PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	return p.preprocessIndexItems(ctx, items)
}

func (p *Stopwords) PreprocessSearchQuery(_ context.Context, q *query.Query) error {
	keys := q.Keys()
	if keys == nil {
		return nil
	}
	var dropped []string
	p.dropStopwords(keys, &dropped)
	if keys.IsEmpty() {
		q.SetKeys(nil)
	}
	if len(dropped) > 0 {
		q.SetOption(ignoredStopwordsOption, dropped)
	}
	return nil
}

func (p *Stopwords) dropStopwords(k *query.Keys, dropped *[]string) {
	terms := k.Terms[:0]
	for _, t := range k.Terms {
		if t.Group != nil {
			p.dropStopwords(t.Group, dropped)
			if len(t.Group.Terms) > 0 {
				terms = append(terms, t)
			}
			continue
		}
		if p.IsStopword(t.Word) {
			*dropped = append(*dropped, t.Word)
			continue
		}
		terms = append(terms, t)
	}
	k.Terms = terms
}

func (p *Stopwords) PostprocessSearchResults(_ context.Context, rs *query.ResultSet) error {
	dropped, _ := rs.Query().Options()[ignoredStopwordsOption].([]string)
	for _, w := range dropped {
		rs.AddIgnoredKey(w)
	}
	return nil
}

func (p *Stopwords) processFieldValue(value string, _ field.Type) result {
	if p.IsStopword(value) {
		return textResult("")
	}
	return textResult(value)
}

func (p *Stopwords) processKey(key string) result {
	return p.processFieldValue(key, field.TypeText)
}

func (p *Stopwords) processConditionValue(value string) string {
	return value
}

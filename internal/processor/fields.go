package processor

import (
	"context"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// result is the outcome of processing one string. A nil tokens slice means
// the string was not split.
type result struct {
	text   string
	tokens []field.TextToken
}

func textResult(s string) result { return result{text: s} }

// valueProcessor is implemented by processors built on fieldProcessing.
type valueProcessor interface {
	processFieldValue(value string, t field.Type) result
	processKey(key string) result
	processConditionValue(value string) string
}

// fieldProcessing applies a valueProcessor to item fields, query keys and
// condition values of the fields it is configured for.
type fieldProcessing struct {
	idx      Index
	fields   map[string]bool
	testType func(field.Type) bool
	vp       valueProcessor
}

func newFieldProcessing(idx Index, settings Settings, testType func(field.Type) bool, vp valueProcessor) fieldProcessing {
	fp := fieldProcessing{idx: idx, testType: testType, vp: vp}
	if list := settings.Strings("fields", nil); list != nil {
		fp.fields = make(map[string]bool, len(list))
		for _, f := range list {
			fp.fields[f] = true
		}
	}
	if fp.testType == nil {
		fp.testType = func(t field.Type) bool { return t.IsText() }
	}
	return fp
}

func (fp fieldProcessing) testField(f *field.Field) bool {
	if fp.fields != nil {
		return fp.fields[f.ID]
	}
	return fp.testType(f.Type)
}

func (fp fieldProcessing) preprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	for _, it := range items {
		fields, err := it.Fields(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range field.SortedIDs(fields) {
			f := fields[id]
			if fp.testField(f) {
				fp.processField(f)
			}
		}
	}
	return items, nil
}

func (fp fieldProcessing) processField(f *field.Field) {
	out := make([]any, 0, len(f.Values))
	for _, v := range f.Values {
		switch val := v.(type) {
		case *field.TextValue:
			if fp.processTextValue(val, f.Type) {
				out = append(out, val)
			}
		case string:
			r := fp.vp.processFieldValue(val, f.Type)
			if r.tokens != nil {
				tv := &field.TextValue{}
				tv.SetTokens(r.tokens)
				if tv.Text != "" {
					out = append(out, tv.Text)
				}
				continue
			}
			if r.text != "" {
				out = append(out, r.text)
			}
		default:
			out = append(out, v)
		}
	}
	f.Values = out
}

// processTextValue processes val in place and reports whether it is kept.
func (fp fieldProcessing) processTextValue(val *field.TextValue, t field.Type) bool {
	if !val.IsTokenized() {
		r := fp.vp.processFieldValue(val.Text, t)
		if r.tokens != nil {
			val.SetTokens(r.tokens)
			return len(val.Tokens) > 0
		}
		val.Text = r.text
		return val.Text != ""
	}
	tokens := make([]field.TextToken, 0, len(val.Tokens))
	for _, tok := range val.Tokens {
		r := fp.vp.processFieldValue(tok.Text, t)
		if r.tokens != nil {
			for _, nt := range r.tokens {
				if nt.Text == "" {
					continue
				}
				nt.Boost *= tok.Boost
				tokens = append(tokens, nt)
			}
			continue
		}
		if r.text == "" {
			continue
		}
		tokens = append(tokens, field.TextToken{Text: r.text, Boost: tok.Boost})
	}
	val.SetTokens(tokens)
	return len(tokens) > 0
}

func (fp fieldProcessing) preprocessSearchQuery(q *query.Query) {
	if keys := q.Keys(); keys != nil {
		fp.processKeys(keys)
		if keys.IsEmpty() {
			q.SetKeys(nil)
		}
	}
	fp.processConditions(q.ConditionGroup())
}

// processKeys processes every word in place. Words that become empty are
// removed; words split into several tokens become an AND group.
func (fp fieldProcessing) processKeys(k *query.Keys) {
	terms := k.Terms[:0]
	for _, t := range k.Terms {
		if t.Group != nil {
			fp.processKeys(t.Group)
			if len(t.Group.Terms) == 0 {
				continue
			}
			terms = append(terms, t)
			continue
		}
		r := fp.vp.processKey(t.Word)
		if r.tokens == nil {
			if r.text != "" {
				terms = append(terms, query.Term{Word: r.text})
			}
			continue
		}
		switch len(r.tokens) {
		case 0:
		case 1:
			terms = append(terms, query.Term{Word: r.tokens[0].Text})
		default:
			g := query.NewKeys(query.And)
			for _, tok := range r.tokens {
				g.AddWord(tok.Text)
			}
			terms = append(terms, query.Term{Group: g})
		}
	}
	k.Terms = terms
}

func (fp fieldProcessing) processConditions(g *query.ConditionGroup) {
	if g == nil {
		return
	}
	kept := g.Conditions[:0]
	for _, n := range g.Conditions {
		switch c := n.(type) {
		case *query.ConditionGroup:
			fp.processConditions(c)
			kept = append(kept, c)
		case *query.Condition:
			f, ok := fp.idx.Field(c.Field)
			if !ok || !fp.testField(f) {
				kept = append(kept, c)
				continue
			}
			if fp.processCondition(c) {
				kept = append(kept, c)
			}
		}
	}
	g.Conditions = kept
}

// processCondition processes string values and reports whether the
// condition is kept.
func (fp fieldProcessing) processCondition(c *query.Condition) bool {
	switch v := c.Value.(type) {
	case string:
		c.Value = fp.vp.processConditionValue(v)
		return c.Value != ""
	case []any:
		out := make([]any, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				s = fp.vp.processConditionValue(s)
				if s == "" {
					continue
				}
				e = s
			}
			out = append(out, e)
		}
		c.Value = out
		return len(out) > 0
	}
	return true
}

// baseValueProcessor applies one string function everywhere.
type baseValueProcessor struct {
	fn func(string) string
}

func (b baseValueProcessor) processFieldValue(value string, _ field.Type) result {
	return textResult(b.fn(value))
}

func (b baseValueProcessor) processKey(key string) result {
	return textResult(b.fn(key))
}

func (b baseValueProcessor) processConditionValue(value string) string {
	return b.fn(value)
}

package query

import (
	"encoding/json"
	"fmt"
	"strings"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Request is the JSON form of a query, accepted by the HTTP API and the
// MCP tools.
type Request struct {
	Keys            *KeysInput              `json:"keys,omitempty"`
	ParseMode       string                  `json:"parse_mode,omitempty"`
	Fields          []string                `json:"fields,omitempty"`
	Conditions      []ConditionInput        `json:"conditions,omitempty"`
	Sort            []Sort                  `json:"sort,omitempty"`
	Offset          int                     `json:"offset,omitempty"`
	Limit           *int                    `json:"limit,omitempty"`
	Languages       []string                `json:"languages,omitempty"`
	Facets          map[string]FacetRequest `json:"facets,omitempty"`
	Options         map[string]any          `json:"options,omitempty"`
	ProcessingLevel string                  `json:"processing_level,omitempty"`
	SearchID        string                  `json:"search_id,omitempty"`
}

// KeysInput is either a raw string (parsed with the parse mode) or a
// structured keys tree.
type KeysInput struct {
	Raw  string
	Tree *Keys
}

type keysJSON struct {
	Conjunction string            `json:"conjunction,omitempty"`
	Negation    bool              `json:"negation,omitempty"`
	Terms       []json.RawMessage `json:"terms"`
}

// UnmarshalJSON accepts a string or an object.
func (k *KeysInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		k.Raw = s
		return nil
	}
	tree, err := decodeKeys(data)
	if err != nil {
		return err
	}
	k.Tree = tree
	return nil
}

// MarshalJSON writes the raw string or the tree.
func (k KeysInput) MarshalJSON() ([]byte, error) {
	if k.Tree == nil {
		return json.Marshal(k.Raw)
	}
	return json.Marshal(encodeKeys(k.Tree))
}

func decodeKeys(data []byte) (*Keys, error) {
	var kj keysJSON
	if err := json.Unmarshal(data, &kj); err != nil {
		return nil, err
	}
	keys := &Keys{Conjunction: normalizeConjunction(kj.Conjunction), Negation: kj.Negation}
	for _, raw := range kj.Terms {
		var w string
		if err := json.Unmarshal(raw, &w); err == nil {
			keys.AddWord(w)
			continue
		}
		sub, err := decodeKeys(raw)
		if err != nil {
			return nil, err
		}
		keys.AddGroup(sub)
	}
	return keys, nil
}

func encodeKeys(k *Keys) map[string]any {
	terms := make([]any, 0, len(k.Terms))
	for _, t := range k.Terms {
		if t.Group != nil {
			terms = append(terms, encodeKeys(t.Group))
			continue
		}
		terms = append(terms, t.Word)
	}
	out := map[string]any{"conjunction": k.Conjunction, "terms": terms}
	if k.Negation {
		out["negation"] = true
	}
	return out
}

// ConditionInput is a condition or, when Conditions is set, a group.
type ConditionInput struct {
	Field       string           `json:"field,omitempty"`
	Value       any              `json:"value,omitempty"`
	Operator    string           `json:"operator,omitempty"`
	Conjunction string           `json:"conjunction,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Conditions  []ConditionInput `json:"conditions,omitempty"`
}

func (c ConditionInput) isGroup() bool {
	return c.Field == "" && (c.Conjunction != "" || len(c.Conditions) > 0)
}

func (c ConditionInput) build(g *ConditionGroup) error {
	if c.isGroup() {
		sub := NewConditionGroup(c.Conjunction, c.Tags...)
		for _, child := range c.Conditions {
			if err := child.build(sub); err != nil {
				return err
			}
		}
		g.AddGroup(sub)
		return nil
	}
	if c.Field == "" {
		return amanerrors.New(amanerrors.ErrCodeInvalidQuery, "condition without field", nil)
	}
	op, err := ParseOperator(c.Operator)
	if err != nil {
		return err
	}
	cond := &Condition{Field: c.Field, Value: c.Value, Operator: op}
	if err := cond.Validate(); err != nil {
		return err
	}
	g.Conditions = append(g.Conditions, cond)
	return nil
}

// ParseProcessingLevel maps "none", "basic" and "full" to levels.
func ParseProcessingLevel(s string) (int, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return ProcessingFull, nil
	case "basic":
		return ProcessingBasic, nil
	case "none":
		return ProcessingNone, nil
	}
	return 0, amanerrors.New(amanerrors.ErrCodeInvalidQuery, fmt.Sprintf("unknown processing level %q", s), nil)
}

// Build creates a query on idx from the request.
func (r *Request) Build(idx Index) (*Query, error) {
	q := New(idx)
	if r.ParseMode != "" {
		if err := q.SetParseMode(r.ParseMode); err != nil {
			return nil, err
		}
	}
	if r.Keys != nil {
		if r.Keys.Tree != nil {
			q.SetKeys(r.Keys.Tree)
		} else if r.Keys.Raw != "" {
			q.SetRawKeys(r.Keys.Raw)
		}
	}
	if r.Fields != nil {
		q.SetFulltextFields(r.Fields)
	}
	for _, c := range r.Conditions {
		if err := c.build(q.ConditionGroup()); err != nil {
			return nil, err
		}
	}
	for _, s := range r.Sort {
		q.Sort(s.Field, strings.ToUpper(s.Direction))
	}
	limit := -1
	if r.Limit != nil {
		limit = *r.Limit
	}
	q.Range(r.Offset, limit)
	if len(r.Languages) > 0 {
		q.SetLanguages(r.Languages)
	}
	for key, f := range r.Facets {
		if f.Field == "" {
			f.Field = key
		}
		if f.Operator == "" {
			f.Operator = And
		}
		f.Operator = normalizeConjunction(f.Operator)
		q.AddFacet(key, f)
	}
	for k, v := range r.Options {
		if k == OptionFacets {
			if err := addFacetOption(q, v); err != nil {
				return nil, err
			}
			continue
		}
		q.SetOption(k, v)
	}
	level, err := ParseProcessingLevel(r.ProcessingLevel)
	if err != nil {
		return nil, err
	}
	q.SetProcessingLevel(level)
	q.SetSearchID(r.SearchID)
	return q, nil
}

// addFacetOption adds facets given in the search_api_facets option, either
// a list of requests or a map keyed by facet key.
func addFacetOption(q *Query, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return amanerrors.New(amanerrors.ErrCodeInvalidQuery, "invalid search_api_facets option", err)
	}
	byKey := make(map[string]FacetRequest)
	var list []FacetRequest
	if err := json.Unmarshal(data, &list); err == nil {
		for _, f := range list {
			byKey[f.Field] = f
		}
	} else if err := json.Unmarshal(data, &byKey); err != nil {
		return amanerrors.New(amanerrors.ErrCodeInvalidQuery, "invalid search_api_facets option", err)
	}
	for key, f := range byKey {
		if f.Field == "" {
			f.Field = key
		}
		if f.Field == "" {
			return amanerrors.New(amanerrors.ErrCodeInvalidQuery, "facet without field", nil)
		}
		if f.Operator == "" {
			f.Operator = And
		}
		f.Operator = normalizeConjunction(f.Operator)
		q.AddFacet(key, f)
	}
	return nil
}

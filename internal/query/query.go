// Package query models search queries against an index and their results.
package query

import (
	"encoding/json"
	"fmt"
	"sort"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
)

// Sort directions.
const (
	Asc  = "ASC"
	Desc = "DESC"
)

// Pseudo-fields every index understands.
const (
	FieldID         = "search_api_id"
	FieldDatasource = "search_api_datasource"
	FieldLanguage   = "search_api_language"
	FieldRelevance  = "search_api_relevance"
	FieldRandom     = "search_api_random"
)

// Processing levels.
const (
	ProcessingNone  = 0
	ProcessingBasic = 1
	ProcessingFull  = 2
)

// Well-known option keys.
const (
	OptionFacets          = "search_api_facets"
	OptionAccessAccount   = "search_api_access_account"
	OptionBypassAccess    = "search_api_bypass_access"
	OptionSkipResultCount = "skip result count"
	OptionRandomSeed      = "search_api_random_sort_seed"
)

// Index is what a query needs from the index it runs against.
type Index interface {
	ID() string
	Field(id string) (*field.Field, bool)
	FulltextFields() []string
}

// Sort is one sort criterion.
type Sort struct {
	Field     string
	Direction string
}

// DefaultFacetMinCount applies to decoded facet requests without min_count.
const DefaultFacetMinCount = 1

// FacetRequest asks the backend for value counts of one field. A MinCount
// of 0 also lists values no result has.
type FacetRequest struct {
	Field    string `json:"field"`
	Limit    int    `json:"limit,omitempty"`
	MinCount int    `json:"min_count"`
	Missing  bool   `json:"missing,omitempty"`
	Operator string `json:"operator,omitempty"`
}

// UnmarshalJSON keeps DefaultFacetMinCount unless min_count is given.
func (f *FacetRequest) UnmarshalJSON(data []byte) error {
	type plain FacetRequest
	p := plain{MinCount: DefaultFacetMinCount}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = FacetRequest(p)
	return nil
}

// FacetTerm is one facet value and its count. Filter is the quoted value,
// or "!" for the missing-value bucket.
type FacetTerm struct {
	Filter string `json:"filter"`
	Count  int    `json:"count"`
}

// Query is a search against one index.
type Query struct {
	index Index

	keys           *Keys
	origKeys       *Keys
	parseMode      string
	fulltextFields []string
	conditions     *ConditionGroup
	sorts          []Sort
	offset         int
	limit          int
	options        map[string]any
	languages      []string
	searchID       string
	processing     int
	tags           map[string]bool
	aborted        string
	preExecuted    bool
	results        *ResultSet
}

// New returns an empty query on idx.
func New(idx Index) *Query {
	q := &Query{
		index:      idx,
		parseMode:  ParseModeTerms,
		conditions: NewConditionGroup(And),
		limit:      -1,
		options:    make(map[string]any),
		processing: ProcessingFull,
		tags:       make(map[string]bool),
	}
	q.results = NewResultSet(q)
	return q
}

// Index returns the queried index.
func (q *Query) Index() Index { return q.index }

// Keys returns the current (possibly preprocessed) keys.
func (q *Query) Keys() *Keys { return q.keys }

// OriginalKeys returns the keys as first set by the caller.
func (q *Query) OriginalKeys() *Keys { return q.origKeys }

// SetKeys replaces the keys. The first call also records the original keys.
func (q *Query) SetKeys(k *Keys) *Query {
	q.keys = k
	if q.origKeys == nil {
		q.origKeys = k.Clone()
	}
	return q
}

// SetRawKeys parses input with the query's parse mode.
func (q *Query) SetRawKeys(input string) *Query {
	return q.SetKeys(ParseKeys(q.parseMode, input))
}

// ParseMode returns the parse mode.
func (q *Query) ParseMode() string { return q.parseMode }

// SetParseMode sets the parse mode for subsequent SetRawKeys calls.
func (q *Query) SetParseMode(mode string) error {
	for _, m := range ParseModes() {
		if m == mode {
			q.parseMode = mode
			return nil
		}
	}
	return amanerrors.New(amanerrors.ErrCodeInvalidQuery, fmt.Sprintf("unknown parse mode %q", mode), nil)
}

// SetFulltextFields restricts the fulltext search. nil means all fields.
func (q *Query) SetFulltextFields(fields []string) *Query {
	q.fulltextFields = fields
	return q
}

// RestrictedFulltextFields returns the explicit restriction, if any.
func (q *Query) RestrictedFulltextFields() []string { return q.fulltextFields }

// FulltextFields returns the fields searched for keys.
func (q *Query) FulltextFields() []string {
	if q.fulltextFields != nil {
		return q.fulltextFields
	}
	if q.index == nil {
		return nil
	}
	return q.index.FulltextFields()
}

// ConditionGroup returns the top-level AND group.
func (q *Query) ConditionGroup() *ConditionGroup { return q.conditions }

// SetConditionGroup replaces the top-level group.
func (q *Query) SetConditionGroup(g *ConditionGroup) { q.conditions = g }

// AddCondition adds a condition to the top-level group.
func (q *Query) AddCondition(fieldID string, value any, op ...Operator) *Query {
	q.conditions.AddCondition(fieldID, value, op...)
	return q
}

// AddConditionGroup adds a nested group to the top-level group.
func (q *Query) AddConditionGroup(g *ConditionGroup) *Query {
	q.conditions.AddGroup(g)
	return q
}

// Sort adds a sort criterion.
func (q *Query) Sort(fieldID, direction string) *Query {
	if direction != Asc {
		direction = Desc
	}
	q.sorts = append(q.sorts, Sort{Field: fieldID, Direction: direction})
	return q
}

// Sorts returns the sort criteria in order.
func (q *Query) Sorts() []Sort { return q.sorts }

// Range sets offset and limit. A negative limit means no limit.
func (q *Query) Range(offset, limit int) *Query {
	if offset < 0 {
		offset = 0
	}
	q.offset, q.limit = offset, limit
	return q
}

func (q *Query) Offset() int { return q.offset }
func (q *Query) Limit() int  { return q.limit }

// Option returns an option value.
func (q *Query) Option(key string) (any, bool) {
	v, ok := q.options[key]
	return v, ok
}

// SetOption sets an option and returns the previous value.
func (q *Query) SetOption(key string, v any) any {
	old := q.options[key]
	q.options[key] = v
	return old
}

// Options returns the option map.
func (q *Query) Options() map[string]any { return q.options }

// BoolOption returns an option as bool.
func (q *Query) BoolOption(key string) bool {
	b, _ := q.options[key].(bool)
	return b
}

// Facets returns the requested facets keyed by facet key.
func (q *Query) Facets() map[string]FacetRequest {
	f, _ := q.options[OptionFacets].(map[string]FacetRequest)
	return f
}

// AddFacet requests a facet under key.
func (q *Query) AddFacet(key string, req FacetRequest) *Query {
	f := q.Facets()
	if f == nil {
		f = make(map[string]FacetRequest)
		q.options[OptionFacets] = f
	}
	f[key] = req
	return q
}

// FacetKeys returns the facet keys sorted.
func (q *Query) FacetKeys() []string {
	f := q.Facets()
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Languages returns the language restriction.
func (q *Query) Languages() []string { return q.languages }

// SetLanguages restricts results to the given langcodes.
func (q *Query) SetLanguages(langcodes []string) *Query {
	q.languages = langcodes
	return q
}

// SearchID identifies the caller, used in logs and caches.
func (q *Query) SearchID() string { return q.searchID }

// SetSearchID sets the search ID.
func (q *Query) SetSearchID(id string) *Query {
	q.searchID = id
	return q
}

// ProcessingLevel returns how much processor involvement the query gets.
func (q *Query) ProcessingLevel() int { return q.processing }

// SetProcessingLevel sets the processing level.
func (q *Query) SetProcessingLevel(level int) *Query {
	q.processing = level
	return q
}

// AddTag tags the query.
func (q *Query) AddTag(tag string) *Query {
	q.tags[tag] = true
	return q
}

// HasTag reports whether the query carries tag.
func (q *Query) HasTag(tag string) bool { return q.tags[tag] }

// Abort marks the query as aborted; it will return empty results.
func (q *Query) Abort(reason string) {
	if reason == "" {
		reason = "aborted"
	}
	q.aborted = reason
}

// WasAborted reports the abort reason, if any.
func (q *Query) WasAborted() (string, bool) {
	return q.aborted, q.aborted != ""
}

// MarkPreExecuted records that preprocessing ran and reports whether it
// had already run.
func (q *Query) MarkPreExecuted() bool {
	was := q.preExecuted
	q.preExecuted = true
	return was
}

// Results returns the query's result set.
func (q *Query) Results() *ResultSet { return q.results }

// Clone returns an independent copy with fresh results.
func (q *Query) Clone() *Query {
	c := *q
	c.keys = q.keys.Clone()
	c.origKeys = q.origKeys.Clone()
	c.fulltextFields = append([]string(nil), q.fulltextFields...)
	if q.fulltextFields == nil {
		c.fulltextFields = nil
	}
	c.conditions = q.conditions.Clone()
	c.sorts = append([]Sort(nil), q.sorts...)
	c.options = make(map[string]any, len(q.options))
	for k, v := range q.options {
		if f, ok := v.(map[string]FacetRequest); ok {
			fc := make(map[string]FacetRequest, len(f))
			for key, req := range f {
				fc[key] = req
			}
			v = fc
		}
		c.options[k] = v
	}
	c.languages = append([]string(nil), q.languages...)
	c.tags = make(map[string]bool, len(q.tags))
	for k, v := range q.tags {
		c.tags[k] = v
	}
	c.results = NewResultSet(&c)
	return &c
}

// CacheKey identifies the query for result caching.
func (q *Query) CacheKey() string {
	return fmt.Sprintf("%s|%s|%v|%s|%v|%d|%d|%v|%d|%v",
		q.indexID(), q.keys.String(), q.fulltextFields, conditionString(q.conditions),
		q.sorts, q.offset, q.limit, q.languages, q.processing, optionString(q.options))
}

func (q *Query) indexID() string {
	if q.index == nil {
		return ""
	}
	return q.index.ID()
}

func conditionString(g *ConditionGroup) string {
	if g == nil {
		return ""
	}
	s := g.Conjunction + fmt.Sprint(g.Tags) + "("
	for _, n := range g.Conditions {
		switch v := n.(type) {
		case *Condition:
			s += fmt.Sprintf("%s %s %v;", v.Field, v.Operator, v.Value)
		case *ConditionGroup:
			s += conditionString(v) + ";"
		}
	}
	return s + ")"
}

func optionString(opts map[string]any) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		v := opts[k]
		if f, ok := v.(map[string]FacetRequest); ok {
			fk := make([]string, 0, len(f))
			for key := range f {
				fk = append(fk, key)
			}
			sort.Strings(fk)
			for _, key := range fk {
				s += fmt.Sprintf("%s.%s=%+v;", k, key, f[key])
			}
			continue
		}
		s += fmt.Sprintf("%s=%v;", k, v)
	}
	return s
}

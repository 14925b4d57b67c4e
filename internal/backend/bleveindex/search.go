package bleveindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	blq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// MissingFilter is the facet filter of the bucket counting items without
// a value.
const MissingFilter = "!"

const (
	idPageSize     = 1000
	facetSizeLimit = 10000
)

// compiler turns a query into a bleve query for one open index.
type compiler struct {
	idx     backend.Index
	fields  map[string]field.Type
	results *query.ResultSet
}

func (c *compiler) warn(msg string) {
	if c.results != nil {
		c.results.AddWarning(msg)
	}
}

func everything() blq.Query { return bleve.NewMatchAllQuery() }

// not matches all documents except those matching q.
func not(q blq.Query) blq.Query {
	b := bleve.NewBooleanQuery()
	b.AddMust(everything())
	b.AddMustNot(q)
	return b
}

func (c *compiler) compile(q *query.Query) (blq.Query, error) {
	var parts []blq.Query
	if keys := q.Keys(); !keys.IsEmpty() {
		fields, err := c.fulltextFields(q)
		if err != nil {
			return nil, err
		}
		kq := c.keys(keys, fields)
		if kq == nil {
			c.warn("No valid search keys were present in the query.")
		} else {
			parts = append(parts, kq)
		}
	}

	group := q.ConditionGroup()
	if langs := q.Languages(); len(langs) > 0 {
		group = group.Clone()
		values := make([]any, len(langs))
		for i, l := range langs {
			values[i] = l
		}
		group.AddCondition(query.FieldLanguage, values, query.OpIn)
	}
	cq, err := c.group(group)
	if err != nil {
		return nil, err
	}
	if cq != nil {
		parts = append(parts, cq)
	}
	switch len(parts) {
	case 0:
		return everything(), nil
	case 1:
		return parts[0], nil
	}
	return bleve.NewConjunctionQuery(parts...), nil
}

func (c *compiler) fulltextFields(q *query.Query) ([]string, error) {
	names := q.FulltextFields()
	if len(names) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeNoFulltextFields, "Search keys are given but no fulltext fields are defined.", nil)
	}
	for _, name := range names {
		t, ok := c.fields[name]
		if !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidQuery, "Unknown field '%s' specified as search target.", name)
		}
		if !t.IsText() {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidQuery, "Cannot perform fulltext search on field '%s' of type '%s'.", name, t)
		}
	}
	return names, nil
}

// word matches w in any of fields, boosted by the field boost.
func (c *compiler) word(w string, fields []string) blq.Query {
	w = strings.TrimSpace(w)
	if w == "" {
		return nil
	}
	phrase := strings.ContainsFunc(w, unicode.IsSpace)
	alts := make([]blq.Query, 0, len(fields))
	for _, id := range fields {
		boost := 1.0
		if f, ok := c.idx.Field(id); ok {
			boost = f.Boost
		}
		if phrase {
			mq := bleve.NewMatchPhraseQuery(w)
			mq.SetField(id)
			mq.Analyzer = wordsAnalyzer
			mq.SetBoost(boost)
			alts = append(alts, mq)
			continue
		}
		mq := bleve.NewMatchQuery(w)
		mq.SetField(id)
		mq.Analyzer = wordsAnalyzer
		mq.SetBoost(boost)
		alts = append(alts, mq)
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return bleve.NewDisjunctionQuery(alts...)
}

// keys compiles a keys tree. Negated groups inside a conjunction exclude
// their matches; in a disjunction they match every item outside them.
func (c *compiler) keys(k *query.Keys, fields []string) blq.Query {
	var pos, neg []blq.Query
	for _, t := range k.Terms {
		var tq blq.Query
		if t.Group != nil {
			inner := *t.Group
			inner.Negation = false
			tq = c.keys(&inner, fields)
			if tq != nil && t.Group.Negation {
				neg = append(neg, tq)
				continue
			}
		} else {
			tq = c.word(t.Word, fields)
		}
		if tq != nil {
			pos = append(pos, tq)
		}
	}
	if len(pos) == 0 && len(neg) == 0 {
		return nil
	}

	var out blq.Query
	if k.Conjunction == query.Or {
		alts := pos
		for _, n := range neg {
			alts = append(alts, not(n))
		}
		out = bleve.NewDisjunctionQuery(alts...)
		if len(alts) == 1 {
			out = alts[0]
		}
	} else if len(neg) == 0 {
		out = bleve.NewConjunctionQuery(pos...)
		if len(pos) == 1 {
			out = pos[0]
		}
	} else {
		b := bleve.NewBooleanQuery()
		if len(pos) == 0 {
			b.AddMust(everything())
		} else {
			b.AddMust(pos...)
		}
		b.AddMustNot(neg...)
		out = b
	}
	if k.Negation {
		return not(out)
	}
	return out
}

func (c *compiler) group(g *query.ConditionGroup) (blq.Query, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	parts := make([]blq.Query, 0, len(g.Conditions))
	for _, n := range g.Conditions {
		var (
			nq  blq.Query
			err error
		)
		switch v := n.(type) {
		case *query.Condition:
			nq, err = c.condition(v)
		case *query.ConditionGroup:
			nq, err = c.group(v)
		}
		if err != nil {
			return nil, err
		}
		if nq != nil {
			parts = append(parts, nq)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	if g.Conjunction == query.Or {
		return bleve.NewDisjunctionQuery(parts...), nil
	}
	return bleve.NewConjunctionQuery(parts...), nil
}

func (c *compiler) condition(cond *query.Condition) (blq.Query, error) {
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	var t field.Type
	switch cond.Field {
	case query.FieldID:
		return c.idCondition(cond), nil
	case query.FieldDatasource, query.FieldLanguage:
		t = field.TypeString
	default:
		ft, ok := c.fields[cond.Field]
		if !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeUnknownCondition, "Unknown field in filter clause: '%s'.", cond.Field)
		}
		t = ft
	}

	op := cond.Operator
	positive := op
	switch op {
	case query.OpNotEqual:
		positive = query.OpEqual
	case query.OpNotIn:
		positive = query.OpIn
	case query.OpNotBetween:
		positive = query.OpBetween
	}

	vals := cond.Values()
	var pq blq.Query
	if cond.Value == nil {
		pq = not(c.exists(cond.Field, t))
	} else {
		var err error
		pq, err = c.positive(cond.Field, t, positive, vals)
		if err != nil {
			return nil, err
		}
	}
	if op.IsNegated() {
		return not(pq), nil
	}
	return pq, nil
}

func (c *compiler) idCondition(cond *query.Condition) blq.Query {
	var ids []string
	for _, v := range cond.Values() {
		if s, ok := field.Stringify(v); ok {
			ids = append(ids, s)
		}
	}
	q := bleve.NewDocIDQuery(ids)
	if cond.Operator.IsNegated() {
		return not(q)
	}
	return q
}

// exists matches documents having any value in the field.
func (c *compiler) exists(fieldID string, t field.Type) blq.Query {
	switch t {
	case field.TypeInteger, field.TypeDecimal, field.TypeDate:
		min, max := -math.MaxFloat64, math.MaxFloat64
		nq := bleve.NewNumericRangeQuery(&min, &max)
		nq.SetField(fieldID)
		return nq
	case field.TypeBoolean:
		tq := bleve.NewBoolFieldQuery(true)
		tq.SetField(fieldID)
		fq := bleve.NewBoolFieldQuery(false)
		fq.SetField(fieldID)
		return bleve.NewDisjunctionQuery(tq, fq)
	}
	wq := bleve.NewWildcardQuery("*")
	wq.SetField(fieldID)
	return wq
}

func (c *compiler) positive(fieldID string, t field.Type, op query.Operator, vals []any) (blq.Query, error) {
	switch t {
	case field.TypeInteger, field.TypeDecimal, field.TypeDate:
		nums := make([]float64, 0, len(vals))
		for _, v := range vals {
			n, ok := convert(v, t)
			if !ok {
				return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "Invalid value '%v' for field '%s'.", v, fieldID)
			}
			nums = append(nums, n.(float64))
		}
		return numericCondition(fieldID, op, nums), nil
	case field.TypeBoolean:
		alts := make([]blq.Query, 0, len(vals))
		for _, v := range vals {
			b, ok := field.ToBool(v)
			if !ok {
				return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "Invalid value '%v' for field '%s'.", v, fieldID)
			}
			bq := bleve.NewBoolFieldQuery(b)
			bq.SetField(fieldID)
			alts = append(alts, bq)
		}
		return disjunction(alts), nil
	}

	strs := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := field.Stringify(v)
		if !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "Invalid value '%v' for field '%s'.", v, fieldID)
		}
		strs = append(strs, s)
	}
	if t.IsText() {
		alts := make([]blq.Query, 0, len(strs))
		for _, s := range strs {
			mq := bleve.NewMatchPhraseQuery(s)
			mq.SetField(fieldID)
			mq.Analyzer = wordsAnalyzer
			alts = append(alts, mq)
		}
		return disjunction(alts), nil
	}
	return termCondition(fieldID, op, strs), nil
}

func disjunction(alts []blq.Query) blq.Query {
	if len(alts) == 1 {
		return alts[0]
	}
	return bleve.NewDisjunctionQuery(alts...)
}

func numericCondition(fieldID string, op query.Operator, nums []float64) blq.Query {
	yes, no := true, false
	rng := func(min, max *float64, minIncl, maxIncl *bool) blq.Query {
		q := bleve.NewNumericRangeInclusiveQuery(min, max, minIncl, maxIncl)
		q.SetField(fieldID)
		return q
	}
	v := nums[0]
	switch op {
	case query.OpLess:
		return rng(nil, &v, nil, &no)
	case query.OpLessEq:
		return rng(nil, &v, nil, &yes)
	case query.OpGreater:
		return rng(&v, nil, &no, nil)
	case query.OpGreaterEq:
		return rng(&v, nil, &yes, nil)
	case query.OpBetween:
		return rng(&nums[0], &nums[1], &yes, &yes)
	}
	alts := make([]blq.Query, 0, len(nums))
	for i := range nums {
		alts = append(alts, rng(&nums[i], &nums[i], &yes, &yes))
	}
	return disjunction(alts)
}

func termCondition(fieldID string, op query.Operator, strs []string) blq.Query {
	yes, no := true, false
	rng := func(min, max string, minIncl, maxIncl *bool) blq.Query {
		q := bleve.NewTermRangeInclusiveQuery(min, max, minIncl, maxIncl)
		q.SetField(fieldID)
		return q
	}
	v := strs[0]
	switch op {
	case query.OpLess:
		return rng("", v, nil, &no)
	case query.OpLessEq:
		return rng("", v, nil, &yes)
	case query.OpGreater:
		return rng(v, "", &no, nil)
	case query.OpGreaterEq:
		return rng(v, "", &yes, nil)
	case query.OpBetween:
		return rng(strs[0], strs[1], &yes, &yes)
	}
	alts := make([]blq.Query, 0, len(strs))
	for _, s := range strs {
		tq := bleve.NewTermQuery(s)
		tq.SetField(fieldID)
		alts = append(alts, tq)
	}
	return disjunction(alts)
}

// sortOrder maps query sorts to bleve sort strings. Items with equal
// sort values are ordered by ID.
func (c *compiler) sortOrder(q *query.Query, hasKeys bool) []string {
	var order []string
	sorts := q.Sorts()
	if len(sorts) == 0 && hasKeys {
		sorts = []query.Sort{{Field: query.FieldRelevance, Direction: query.Desc}}
	}
	for _, s := range sorts {
		prefix := ""
		if s.Direction == query.Desc {
			prefix = "-"
		}
		switch s.Field {
		case query.FieldRelevance:
			order = append(order, prefix+"_score")
		case query.FieldID:
			order = append(order, prefix+"_id")
		case query.FieldRandom:
			c.warn("Random sorting is not supported by this backend.")
		case query.FieldDatasource, query.FieldLanguage:
			order = append(order, prefix+s.Field)
		default:
			if _, ok := c.fields[s.Field]; !ok {
				c.warn(fmt.Sprintf("Trying to sort on unknown field '%s'.", s.Field))
				continue
			}
			order = append(order, prefix+s.Field)
		}
	}
	return append(order, "_id")
}

func (b *Backend) Search(ctx context.Context, idx backend.Index, q *query.Query) error {
	results := q.Results()
	oi, _, err := b.open(idx)
	if err != nil {
		return err
	}
	c := &compiler{idx: idx, fields: oi.fields, results: results}
	bq, err := c.compile(q)
	if ae, ok := amanerrors.As(err); ok && ae.Code == amanerrors.ErrCodeNoFulltextFields {
		results.AddWarning(ae.Message)
		return nil
	}
	if err != nil {
		return err
	}

	size := q.Limit()
	if size < 0 {
		total, err := oi.index.DocCount()
		if err != nil {
			return amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to count documents", err)
		}
		size = int(total)
	}
	req := bleve.NewSearchRequestOptions(bq, size, q.Offset(), false)
	req.SortBy(c.sortOrder(q, !q.Keys().IsEmpty()))
	facets := c.facetRequests(q, req)

	res, err := oi.index.SearchInContext(ctx, req)
	if err != nil {
		return amanerrors.New(amanerrors.ErrCodeSearchFailed, "bleve search failed", err)
	}
	items := make([]*item.Item, 0, len(res.Hits))
	for _, hit := range res.Hits {
		it := item.New(idx, hit.ID, nil)
		it.SetScore(hit.Score)
		items = append(items, it)
	}
	results.SetItems(items)
	results.SetCount(int(res.Total))

	if len(facets) > 0 {
		out, err := c.facetResults(ctx, oi, q, facets, res)
		if err != nil {
			return err
		}
		results.SetExtraData(query.OptionFacets, out)
	}
	return nil
}

// facetable reports whether the field's terms can be returned as facet
// values.
func facetable(t field.Type) bool {
	return t == field.TypeString || t == field.TypeURI || t.IsText()
}

// facetRequests adds AND facets to req and returns the facet keys to
// compute.
func (c *compiler) facetRequests(q *query.Query, req *bleve.SearchRequest) []string {
	var keys []string
	for _, key := range q.FacetKeys() {
		fr := q.Facets()[key]
		t, ok := c.fields[fr.Field]
		if !ok {
			c.warn(fmt.Sprintf("Unknown facet field '%s'.", fr.Field))
			continue
		}
		if !facetable(t) {
			c.warn(fmt.Sprintf("Facets on field '%s' of type '%s' are not supported.", fr.Field, t))
			continue
		}
		keys = append(keys, key)
		if !strings.EqualFold(fr.Operator, query.Or) {
			req.AddFacet(key, bleve.NewFacetRequest(fr.Field, facetSize(fr)))
		}
	}
	return keys
}

func facetSize(fr query.FacetRequest) int {
	if fr.Limit > 0 && !fr.Missing && fr.MinCount > 0 {
		return fr.Limit
	}
	return facetSizeLimit
}

func (c *compiler) facetResults(ctx context.Context, oi *openIndex, q *query.Query, keys []string, res *bleve.SearchResult) (map[string][]query.FacetTerm, error) {
	requests := q.Facets()
	out := make(map[string][]query.FacetTerm, len(keys))
	for _, key := range keys {
		fr := requests[key]
		r := res
		if strings.EqualFold(fr.Operator, query.Or) {
			oq := q.Clone()
			oq.SetConditionGroup(q.ConditionGroup().RemoveTagged("facet:" + fr.Field))
			bq, err := c.compile(oq)
			if err != nil {
				return nil, err
			}
			req := bleve.NewSearchRequestOptions(bq, 0, 0, false)
			req.AddFacet(key, bleve.NewFacetRequest(fr.Field, facetSize(fr)))
			r, err = oi.index.SearchInContext(ctx, req)
			if err != nil {
				return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "bleve facet search failed", err)
			}
		}
		terms, err := c.facetTerms(ctx, oi, fr, r.Facets[key])
		if err != nil {
			return nil, err
		}
		out[key] = terms
	}
	return out, nil
}

func (c *compiler) facetTerms(ctx context.Context, oi *openIndex, fr query.FacetRequest, result *search.FacetResult) ([]query.FacetTerm, error) {
	counts := make(map[string]int)
	missing := 0
	if result != nil {
		missing = result.Missing
		if result.Terms != nil {
			for _, t := range result.Terms.Terms() {
				if t.Count >= fr.MinCount {
					counts[t.Term] = t.Count
				}
			}
		}
	}
	if fr.MinCount == 0 {
		all, err := allTerms(ctx, oi, fr.Field)
		if err != nil {
			return nil, err
		}
		for _, t := range all {
			if _, ok := counts[t]; !ok {
				counts[t] = 0
			}
		}
	}

	terms := make([]query.FacetTerm, 0, len(counts)+1)
	values := make(map[string]string, len(counts))
	for v, n := range counts {
		filter := strconv.Quote(v)
		values[filter] = v
		terms = append(terms, query.FacetTerm{Filter: filter, Count: n})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return values[terms[i].Filter] < values[terms[j].Filter]
	})
	if fr.Missing && missing > 0 && missing >= fr.MinCount {
		pos := sort.Search(len(terms), func(i int) bool { return terms[i].Count < missing })
		terms = append(terms, query.FacetTerm{})
		copy(terms[pos+1:], terms[pos:])
		terms[pos] = query.FacetTerm{Filter: MissingFilter, Count: missing}
	}
	if fr.Limit > 0 && len(terms) > fr.Limit {
		terms = terms[:fr.Limit]
	}
	return terms, nil
}

// allTerms lists the indexed terms of a field.
func allTerms(ctx context.Context, oi *openIndex, fieldID string) ([]string, error) {
	dict, err := oi.index.FieldDict(fieldID)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to read field dictionary", err)
	}
	defer dict.Close()
	var out []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := dict.Next()
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to read field dictionary", err)
		}
		if entry == nil {
			return out, nil
		}
		out = append(out, entry.Term)
	}
}

// matchingIDs pages through every document matching q.
func matchingIDs(ctx context.Context, bi bleve.Index, q blq.Query) ([]string, error) {
	var ids []string
	for from := 0; ; from += idPageSize {
		req := bleve.NewSearchRequestOptions(q, idPageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := bi.SearchInContext(ctx, req)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to list bleve documents", err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < idPageSize {
			return ids, nil
		}
	}
}

package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// frag is a piece of SQL with its "?" arguments in order.
type frag struct {
	sql  string
	args []any
}

func (f frag) isEmpty() bool { return f.sql == "" }

func joinFrags(parts []frag, sep string) frag {
	out := frag{}
	sqls := make([]string, 0, len(parts))
	for _, p := range parts {
		sqls = append(sqls, p.sql)
		out.args = append(out.args, p.args...)
	}
	out.sql = strings.Join(sqls, sep)
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// dbQuery is a compiled search: optional keys subquery, joins and
// conditions on the denormalized table aliased "t".
type dbQuery struct {
	keys  *frag
	joins []frag
	where []frag
}

// search holds the state of one query compilation.
type search struct {
	b       *Backend
	idx     backend.Index
	info    *indexInfo
	d       store.Dialect
	partial bool
	prep    *keyPreparer

	warnings []string
	aliases  int
}

func (b *Backend) newSearch(idx backend.Index, info *indexInfo, partial bool) *search {
	return &search{
		b:       b,
		idx:     idx,
		info:    info,
		d:       b.db.Dialect(),
		partial: partial,
		prep:    &keyPreparer{minChars: b.cfg.MinChars, tokenizerActive: idx.IsValidProcessor("tokenizer")},
	}
}

func (s *search) warn(msg string) {
	for _, w := range s.warnings {
		if w == msg {
			return
		}
	}
	s.warnings = append(s.warnings, msg)
}

func (s *search) flush(r *query.ResultSet) {
	for _, w := range s.warnings {
		r.AddWarning(w)
	}
	for _, k := range s.prep.ignored {
		r.AddIgnoredKey(k)
	}
}

func (s *search) alias(prefix string) string {
	s.aliases++
	return fmt.Sprintf("%s%d", prefix, s.aliases)
}

func (s *search) q(ident string) string { return s.d.Quote(ident) }

// createDbQuery compiles keys and conditions of q.
func (s *search) createDbQuery(q *query.Query) (*dbQuery, error) {
	dq := &dbQuery{}
	if keys := q.Keys(); !keys.IsEmpty() {
		node := s.prep.prepare(keys)
		if node != nil {
			if node.neg {
				node = &keyNode{conj: query.And, terms: []keyTerm{{group: node}}}
			}
			fields, err := s.fulltextFields(q)
			if err != nil {
				return nil, err
			}
			kq := s.compileKeys(node, fields, false)
			dq.keys = &kq
		} else {
			s.warn("No valid search keys were present in the query.")
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
	cond, err := s.compileGroup(dq, group)
	if err != nil {
		return nil, err
	}
	if !cond.isEmpty() {
		dq.where = append(dq.where, cond)
	}
	return dq, nil
}

func (s *search) fulltextFields(q *query.Query) ([]string, error) {
	names := q.FulltextFields()
	if len(names) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeNoFulltextFields, "Search keys are given but no fulltext fields are defined.", nil)
	}
	for _, name := range names {
		fi, ok := s.info.Fields[name]
		if !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidQuery, "Unknown field '%s' specified as search target.", name)
		}
		if !fi.Type.IsText() {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidQuery, "Cannot perform fulltext search on field '%s' of type '%s'.", name, fi.Type)
		}
	}
	return names, nil
}

func (s *search) likePattern(word string) string {
	esc := store.EscapeLike(word)
	if s.b.cfg.Matching == MatchPrefix {
		return esc + "%"
	}
	return "%" + esc + "%"
}

// compileKeys returns a query selecting item_id and, unless idOnly, the
// summed score of every item matching n in the given fulltext fields.
func (s *search) compileKeys(n *keyNode, fields []string, idOnly bool) frag {
	var words []string
	var nested, negated []*keyNode
	for _, t := range n.terms {
		switch {
		case t.group == nil:
			words = append(words, t.word)
		case t.group.neg:
			negated = append(negated, t.group)
		default:
			nested = append(nested, t.group)
		}
	}
	hits := len(words) + len(nested)

	var parts []frag
	text := s.q(s.info.TextTable)
	fieldIn := "field_name IN (" + placeholders(len(fields)) + ")"
	fieldArgs := make([]any, len(fields))
	for i, f := range fields {
		fieldArgs[i] = f
	}

	if len(words) > 0 {
		if !s.partial {
			p := frag{sql: "SELECT item_id, score, word AS w FROM " + text +
				" WHERE word IN (" + placeholders(len(words)) + ") AND " + fieldIn}
			for _, w := range words {
				p.args = append(p.args, w)
			}
			p.args = append(p.args, fieldArgs...)
			parts = append(parts, p)
		} else {
			cols := []string{"item_id", "score"}
			var args []any
			var likes []string
			var likeArgs []any
			for i, w := range words {
				pattern := s.likePattern(w)
				cols = append(cols, fmt.Sprintf("CASE WHEN %s THEN 1 ELSE 0 END AS h%d", s.d.Like("word", false), i))
				args = append(args, pattern)
				likes = append(likes, s.d.Like("word", false))
				likeArgs = append(likeArgs, pattern)
			}
			for j := range nested {
				cols = append(cols, fmt.Sprintf("0 AS h%d", len(words)+j))
			}
			p := frag{sql: "SELECT " + strings.Join(cols, ", ") + " FROM " + text +
				" WHERE (" + strings.Join(likes, " OR ") + ") AND " + fieldIn}
			p.args = append(append(args, likeArgs...), fieldArgs...)
			parts = append(parts, p)
		}
	}

	for j, g := range nested {
		sub := s.compileKeys(g, fields, idOnly)
		score := "s.score"
		if idOnly {
			score = "0"
		}
		cols := []string{"s.item_id AS item_id", score + " AS score"}
		if !s.partial {
			cols = append(cols, fmt.Sprintf("'#%d' AS w", j+1))
		} else {
			for i := 0; i < len(words)+len(nested); i++ {
				v := 0
				if i == len(words)+j {
					v = 1
				}
				cols = append(cols, fmt.Sprintf("%d AS h%d", v, i))
			}
		}
		parts = append(parts, frag{sql: "SELECT " + strings.Join(cols, ", ") + " FROM (" + sub.sql + ") s", args: sub.args})
	}

	var positive *frag
	if len(parts) > 0 {
		union := joinFrags(parts, " UNION ALL ")
		sel := "SELECT u.item_id AS item_id"
		if !idOnly {
			sel += ", SUM(u.score) AS score"
		}
		sel += " FROM (" + union.sql + ") u GROUP BY u.item_id"
		if n.conj == query.And && hits > 1 {
			if !s.partial {
				sel += fmt.Sprintf(" HAVING COUNT(DISTINCT u.w) >= %d", hits)
			} else {
				conds := make([]string, hits)
				for i := range conds {
					conds[i] = fmt.Sprintf("SUM(u.h%d) >= 1", i)
				}
				sel += " HAVING " + strings.Join(conds, " AND ")
			}
		}
		positive = &frag{sql: sel, args: union.args}
	}
	if len(negated) == 0 {
		if positive == nil {
			// Prepared keys always hold a term.
			return frag{sql: "SELECT item_id, 0 AS score FROM " + text + " WHERE 1 = 0"}
		}
		return *positive
	}

	var notIn []frag
	for _, g := range negated {
		sub := s.compileKeys(g, fields, true)
		notIn = append(notIn, frag{sql: "t.item_id NOT IN (" + sub.sql + ")", args: sub.args})
	}
	index := s.q(s.info.IndexTable)
	defaultScore := fmt.Sprintf("%d", ScoreMultiplier)

	switch {
	case positive != nil && n.conj == query.And:
		sel := "SELECT t.item_id AS item_id"
		if !idOnly {
			sel += ", t.score AS score"
		}
		cond := joinFrags(notIn, " AND ")
		return frag{
			sql:  sel + " FROM (" + positive.sql + ") t WHERE " + cond.sql,
			args: append(append([]any(nil), positive.args...), cond.args...),
		}
	case positive == nil:
		sel := "SELECT t.item_id AS item_id"
		if !idOnly {
			sel += ", " + defaultScore + " AS score"
		}
		sep := " AND "
		if n.conj == query.Or {
			sep = " OR "
		}
		cond := joinFrags(notIn, sep)
		return frag{sql: sel + " FROM " + index + " t WHERE (" + cond.sql + ")", args: cond.args}
	default:
		// Positive parts OR negated parts: keep every item matching a
		// positive part, plus items missing any negated part.
		sel := "SELECT t.item_id AS item_id"
		if !idOnly {
			sel += ", COALESCE(p.score, " + defaultScore + ") AS score"
		}
		cond := joinFrags(notIn, " OR ")
		return frag{
			sql: sel + " FROM " + index + " t LEFT JOIN (" + positive.sql + ") p ON p.item_id = t.item_id" +
				" WHERE (p.item_id IS NOT NULL OR " + cond.sql + ")",
			args: append(append([]any(nil), positive.args...), cond.args...),
		}
	}
}

// compileGroup translates a condition group. Joins needed by conditions
// on multi-valued fields are added to dq.
func (s *search) compileGroup(dq *dbQuery, g *query.ConditionGroup) (frag, error) {
	if g.IsEmpty() {
		return frag{}, nil
	}
	// Conditions of an OR group share one join per field table.
	tables := make(map[string]string)
	var parts []frag
	for _, n := range g.Conditions {
		switch c := n.(type) {
		case *query.ConditionGroup:
			sub, err := s.compileGroup(dq, c)
			if err != nil {
				return frag{}, err
			}
			if !sub.isEmpty() {
				parts = append(parts, sub)
			}
		case *query.Condition:
			p, err := s.compileCondition(dq, g.Conjunction, tables, c)
			if err != nil {
				return frag{}, err
			}
			if !p.isEmpty() {
				parts = append(parts, p)
			}
		}
	}
	if len(parts) == 0 {
		return frag{}, nil
	}
	sep := " AND "
	if g.Conjunction == query.Or {
		sep = " OR "
	}
	f := joinFrags(parts, sep)
	f.sql = "(" + f.sql + ")"
	return f, nil
}

func (s *search) compileCondition(dq *dbQuery, conj string, tables map[string]string, c *query.Condition) (frag, error) {
	op := c.Operator
	if op == "" {
		op = query.OpEqual
	}
	op, err := query.ParseOperator(string(op))
	if err != nil {
		return frag{}, err
	}
	cc := *c
	cc.Operator = op
	if err := cc.Validate(); err != nil {
		return frag{}, err
	}

	switch c.Field {
	case query.FieldID:
		vals, err := s.convertAll(&cc, field.TypeString)
		if err != nil {
			return frag{}, err
		}
		return columnCondition("t.item_id", op, vals), nil
	case query.FieldDatasource:
		return s.likeCondition(&cc, func(v string) string { return store.EscapeLike(v+"/") + "%" })
	case query.FieldLanguage:
		return s.likeCondition(&cc, func(v string) string { return "%:" + store.EscapeLike(v) })
	}

	fi, ok := s.info.Fields[c.Field]
	if !ok {
		return frag{}, amanerrors.Newf(amanerrors.ErrCodeUnknownCondition, "Unknown field in filter clause: '%s'.", c.Field)
	}
	column := "t." + s.q(fi.Column)

	if c.Value == nil {
		switch op {
		case query.OpEqual:
			return frag{sql: column + " IS NULL"}, nil
		case query.OpNotEqual:
			return frag{sql: column + " IS NOT NULL"}, nil
		}
		return frag{}, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "operator %s on field '%s' needs a value", op, c.Field)
	}

	if fi.Type.IsText() {
		return s.fulltextCondition(&cc, fi)
	}

	vals, err := s.convertAll(&cc, fi.Type)
	if err != nil {
		return frag{}, err
	}
	if !fi.MultiValued || fi.Table == s.info.IndexTable {
		return columnCondition(column, op, vals), nil
	}

	table := s.q(fi.Table)
	if op.IsNegated() {
		// Multi-valued fields exclude an item when ANY of its values
		// matches, so tags != a drops items tagged a and b. Items without
		// values stay.
		a := s.alias("f")
		on := frag{sql: "LEFT JOIN " + table + " " + a + " ON " + a + ".item_id = t.item_id AND "}
		switch op {
		case query.OpNotEqual:
			on.sql += a + ".value = ?"
		case query.OpNotIn:
			on.sql += a + ".value IN (" + placeholders(len(vals)) + ")"
		case query.OpNotBetween:
			on.sql += a + ".value BETWEEN ? AND ?"
		}
		on.args = vals
		dq.joins = append(dq.joins, on)
		return frag{sql: a + ".value IS NULL"}, nil
	}

	// Under AND every condition joins its own rows, so tags = a AND tags = b
	// matches items having both values.
	a := tables[c.Field]
	if conj != query.Or || a == "" {
		a = s.alias("f")
		dq.joins = append(dq.joins, frag{sql: "LEFT JOIN " + table + " " + a + " ON " + a + ".item_id = t.item_id"})
		tables[c.Field] = a
	}
	return columnCondition(a+".value", op, vals), nil
}

func (s *search) fulltextCondition(c *query.Condition, fi *fieldInfo) (frag, error) {
	var in string
	switch c.Operator {
	case query.OpEqual, query.OpIn:
		in = " IN "
	case query.OpNotEqual, query.OpNotIn:
		in = " NOT IN "
	default:
		return frag{}, amanerrors.Newf(amanerrors.ErrCodeInvalidOperator, "operator %s is not supported on fulltext field '%s'", c.Operator, c.Field)
	}
	keys := query.NewKeys(query.Or)
	for _, v := range c.Values() {
		str, ok := field.Stringify(v)
		if !ok {
			continue
		}
		keys.AddGroup(query.NewKeys(query.And, str))
	}
	node := s.prep.prepare(keys)
	if node == nil {
		return frag{}, nil
	}
	if node.neg {
		node = &keyNode{conj: query.And, terms: []keyTerm{{group: node}}}
	}
	kq := s.compileKeys(node, []string{c.Field}, true)
	return frag{sql: "t.item_id" + in + "(" + kq.sql + ")", args: kq.args}, nil
}

func (s *search) likeCondition(c *query.Condition, pattern func(string) string) (frag, error) {
	if c.Value == nil {
		return frag{}, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "field '%s' needs a value", c.Field)
	}
	var parts []frag
	for _, v := range c.Values() {
		str, ok := field.Stringify(v)
		if !ok {
			return frag{}, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "Invalid value for field '%s'.", c.Field)
		}
		parts = append(parts, frag{sql: s.d.Like("t.item_id", c.Operator.IsNegated()), args: []any{pattern(str)}})
	}
	switch c.Operator {
	case query.OpEqual, query.OpNotEqual:
		return parts[0], nil
	case query.OpIn:
		f := joinFrags(parts, " OR ")
		f.sql = "(" + f.sql + ")"
		return f, nil
	case query.OpNotIn:
		f := joinFrags(parts, " AND ")
		f.sql = "(" + f.sql + ")"
		return f, nil
	}
	return frag{}, amanerrors.Newf(amanerrors.ErrCodeInvalidOperator, "operator %s is not supported on field '%s'", c.Operator, c.Field)
}

func (s *search) convertAll(c *query.Condition, t field.Type) ([]any, error) {
	raw := c.Values()
	out := make([]any, 0, len(raw))
	for _, v := range raw {
		cv, ok := convertValue(v, t)
		if !ok {
			return nil, amanerrors.Newf(amanerrors.ErrCodeInvalidValue, "Invalid value %v for field '%s' of type '%s'.", v, c.Field, t)
		}
		out = append(out, cv)
	}
	return out, nil
}

// columnCondition compares a single-valued column. Negated comparisons
// also match NULL.
func columnCondition(column string, op query.Operator, vals []any) frag {
	switch op {
	case query.OpNotEqual:
		return frag{sql: "(" + column + " <> ? OR " + column + " IS NULL)", args: vals[:1]}
	case query.OpIn:
		return frag{sql: column + " IN (" + placeholders(len(vals)) + ")", args: vals}
	case query.OpNotIn:
		return frag{sql: "(" + column + " NOT IN (" + placeholders(len(vals)) + ") OR " + column + " IS NULL)", args: vals}
	case query.OpBetween:
		return frag{sql: column + " BETWEEN ? AND ?", args: vals[:2]}
	case query.OpNotBetween:
		return frag{sql: "(" + column + " < ? OR " + column + " > ? OR " + column + " IS NULL)", args: vals[:2]}
	}
	return frag{sql: column + " " + string(op) + " ?", args: vals[:1]}
}

// selectSQL returns the SELECT of all matching items with their scores
// and the given extra columns as sort_<n>.
func (s *search) selectSQL(dq *dbQuery, extra []string) frag {
	score := fmt.Sprintf("%d", ScoreMultiplier)
	from := " FROM " + s.q(s.info.IndexTable) + " t"
	var args []any
	if dq.keys != nil {
		score = "k.score"
		from += " INNER JOIN (" + dq.keys.sql + ") k ON k.item_id = t.item_id"
		args = append(args, dq.keys.args...)
	}
	sel := "SELECT DISTINCT t.item_id AS item_id, " + score + " AS score"
	for i, e := range extra {
		sel += fmt.Sprintf(", %s AS sort_%d", e, i)
	}
	sql := sel + from
	for _, j := range dq.joins {
		sql += " " + j.sql
		args = append(args, j.args...)
	}
	if len(dq.where) > 0 {
		w := joinFrags(dq.where, " AND ")
		sql += " WHERE " + w.sql
		args = append(args, w.args...)
	}
	return frag{sql: sql, args: args}
}

// sortClauses resolves sorts into extra select columns and ORDER BY terms
// on the outer query aliased "r".
func (s *search) sortClauses(q *query.Query, hasKeys bool) ([]string, []string) {
	var extra, order []string
	random := false
	for _, srt := range q.Sorts() {
		dir := query.Asc
		if strings.EqualFold(srt.Direction, query.Desc) {
			dir = query.Desc
		}
		switch srt.Field {
		case query.FieldRelevance:
			order = append(order, "r.score "+dir)
		case query.FieldID:
			order = append(order, "r.item_id "+dir)
		case query.FieldRandom:
			order = append(order, s.d.Random())
			random = true
		default:
			fi, ok := s.info.Fields[srt.Field]
			if !ok {
				s.warn(fmt.Sprintf("Trying to sort on unknown field '%s'.", srt.Field))
				continue
			}
			order = append(order, fmt.Sprintf("r.sort_%d %s", len(extra), dir))
			extra = append(extra, "t."+s.q(fi.Column))
		}
	}
	if len(order) == 0 && hasKeys {
		order = append(order, "r.score DESC")
	}
	if !random {
		order = append(order, "r.item_id ASC")
	}
	return extra, order
}

// Search executes q against the index tables.
func (b *Backend) Search(ctx context.Context, idx backend.Index, q *query.Query) error {
	results := q.Results()
	info, err := b.requireInfo(ctx, idx.ID())
	if err != nil {
		return err
	}
	s := b.newSearch(idx, info, b.partialMatches())
	dq, err := s.createDbQuery(q)
	if ae, ok := amanerrors.As(err); ok && ae.Code == amanerrors.ErrCodeNoFulltextFields {
		results.AddWarning(ae.Message)
		s.flush(results)
		return nil
	}
	if err != nil {
		return err
	}

	extra, order := s.sortClauses(q, dq.keys != nil)
	base := s.selectSQL(dq, extra)

	count := -1
	if !q.BoolOption(query.OptionSkipResultCount) {
		if err := b.db.GetContext(ctx, &count, b.db.Rebind("SELECT COUNT(*) FROM ("+base.sql+") r"), base.args...); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to count results", err)
		}
		results.SetCount(count)
	}

	if count != 0 {
		stmt := "SELECT r.item_id AS item_id, r.score AS score FROM (" + base.sql + ") r ORDER BY " +
			strings.Join(order, ", ") + s.d.LimitOffset(q.Limit(), q.Offset())
		var rows []struct {
			ItemID string  `db:"item_id"`
			Score  float64 `db:"score"`
		}
		if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(stmt), base.args...); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to fetch results", err)
		}
		items := make([]*item.Item, 0, len(rows))
		for _, r := range rows {
			it := item.New(idx, r.ItemID, nil)
			it.SetScore(r.Score / ScoreMultiplier)
			items = append(items, it)
		}
		results.SetItems(items)
		if count < 0 {
			results.SetCount(len(items))
		}
	}

	if len(q.Facets()) > 0 {
		facets, err := s.facets(ctx, q, dq, count)
		if err != nil {
			return err
		}
		results.SetExtraData(query.OptionFacets, facets)
	}
	s.flush(results)
	return nil
}

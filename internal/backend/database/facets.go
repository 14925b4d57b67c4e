package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// MissingFilter is the facet filter of the bucket counting items without
// a value.
const MissingFilter = "!"

type facetRow struct {
	Value sql.NullString `db:"value"`
	Num   int            `db:"num"`
}

// facets computes all requested facets. AND facets share the result set
// of dq, materialized once into a temporary table when the database
// allows it. OR facets recompute their result set without the facet's
// own filters.
func (s *search) facets(ctx context.Context, q *query.Query, dq *dbQuery, count int) (map[string][]query.FacetTerm, error) {
	conn, err := s.b.db.Connx(ctx)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to acquire connection for facets", err)
	}
	defer conn.Close()

	var shared *frag
	var temp []string
	defer func() {
		for _, t := range temp {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), s.d.DropTempTable(t)); err != nil {
				s.b.logger.Warn("database_facet_temp_drop_failed", "table", t, "error", err)
			}
		}
	}()

	requests := q.Facets()
	out := make(map[string][]query.FacetTerm, len(requests))
	for _, key := range q.FacetKeys() {
		req := requests[key]
		fi, ok := s.info.Fields[req.Field]
		if !ok {
			s.warn(fmt.Sprintf("Unknown facet field '%s'.", req.Field))
			continue
		}

		var src frag
		if strings.EqualFold(req.Operator, query.Or) {
			oq := q.Clone()
			oq.SetConditionGroup(q.ConditionGroup().RemoveTagged("facet:" + req.Field))
			odq, err := s.createDbQuery(oq)
			if err != nil {
				return nil, err
			}
			sel := s.selectSQL(odq, nil)
			src = frag{sql: "SELECT r.item_id FROM (" + sel.sql + ") r", args: sel.args}
		} else {
			if count == 0 && req.MinCount > 0 {
				out[key] = []query.FacetTerm{}
				continue
			}
			if shared == nil {
				f, table := s.materialize(ctx, conn, dq)
				if table != "" {
					temp = append(temp, table)
				}
				shared = &f
			}
			src = *shared
		}

		terms, err := s.facetTerms(ctx, conn, req, fi, src)
		if err != nil {
			return nil, err
		}
		out[key] = terms
	}
	return out, nil
}

// materialize returns an item_id source for the results of dq. When the
// temporary table cannot be created, the source is the nested query.
func (s *search) materialize(ctx context.Context, conn *sqlx.Conn, dq *dbQuery) (frag, string) {
	sel := s.selectSQL(dq, nil)
	nested := frag{sql: "SELECT r.item_id FROM (" + sel.sql + ") r", args: sel.args}

	name := tablePrefx + "tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	stmt := s.d.CreateTempTableAs(name, nested.sql)
	if _, err := conn.ExecContext(ctx, s.b.db.Rebind(stmt), nested.args...); err != nil {
		s.b.logger.Debug("database_facet_temp_table_unavailable", "error", err)
		return nested, ""
	}
	return frag{sql: "SELECT item_id FROM " + s.q(name)}, name
}

// facetValues builds the value count query of one field, restricted to
// the items of src unless src is nil.
func (s *search) facetValues(fieldID string, fi *fieldInfo, src *frag, minCount int) frag {
	var f frag
	var where []string
	switch {
	case fi.Type.IsText():
		f.sql = "SELECT word AS value, COUNT(DISTINCT item_id) AS num FROM " + s.q(s.info.TextTable)
		where = append(where, "field_name = ?")
		f.args = append(f.args, fieldID)
	case fi.Table != s.info.IndexTable:
		f.sql = "SELECT value, COUNT(DISTINCT item_id) AS num FROM " + s.q(fi.Table)
	default:
		col := s.q(fi.Column)
		f.sql = "SELECT " + col + " AS value, COUNT(DISTINCT item_id) AS num FROM " + s.q(s.info.IndexTable)
		where = append(where, col+" IS NOT NULL")
	}
	if src != nil {
		where = append(where, "item_id IN ("+src.sql+")")
		f.args = append(f.args, src.args...)
	}
	if len(where) > 0 {
		f.sql += " WHERE " + strings.Join(where, " AND ")
	}
	f.sql += " GROUP BY value"
	if minCount > 1 {
		f.sql += fmt.Sprintf(" HAVING COUNT(DISTINCT item_id) >= %d", minCount)
	}
	f.sql += " ORDER BY num DESC, value ASC"
	return f
}

// missingCount counts the items of src without a value for the field.
func (s *search) missingCount(ctx context.Context, conn *sqlx.Conn, fieldID string, fi *fieldInfo, src frag) (int, error) {
	var f frag
	switch {
	case fi.Type.IsText():
		f.sql = "SELECT COUNT(*) FROM (" + src.sql + ") m WHERE m.item_id NOT IN (SELECT item_id FROM " +
			s.q(s.info.TextTable) + " WHERE field_name = ?)"
		f.args = append(append(f.args, src.args...), fieldID)
	case fi.Table != s.info.IndexTable:
		f.sql = "SELECT COUNT(*) FROM (" + src.sql + ") m WHERE m.item_id NOT IN (SELECT item_id FROM " + s.q(fi.Table) + ")"
		f.args = src.args
	default:
		f.sql = "SELECT COUNT(*) FROM " + s.q(s.info.IndexTable) + " WHERE " + s.q(fi.Column) +
			" IS NULL AND item_id IN (" + src.sql + ")"
		f.args = src.args
	}
	var n int
	err := conn.GetContext(ctx, &n, s.b.db.Rebind(f.sql), f.args...)
	return n, err
}

func (s *search) facetTerms(ctx context.Context, conn *sqlx.Conn, req query.FacetRequest, fi *fieldInfo, src frag) ([]query.FacetTerm, error) {
	failed := func(err error) error {
		return amanerrors.New(amanerrors.ErrCodeSearchFailed, fmt.Sprintf("failed to compute facet on field '%s'", req.Field), err)
	}

	stmt := s.facetValues(req.Field, fi, &src, req.MinCount)
	if req.Limit > 0 && !req.Missing {
		stmt.sql += s.d.LimitOffset(req.Limit, 0)
	}
	var rows []facetRow
	if err := conn.SelectContext(ctx, &rows, s.b.db.Rebind(stmt.sql), stmt.args...); err != nil {
		return nil, failed(err)
	}

	terms := make([]query.FacetTerm, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if !r.Value.Valid {
			continue
		}
		seen[r.Value.String] = true
		terms = append(terms, query.FacetTerm{Filter: `"` + r.Value.String + `"`, Count: r.Num})
	}

	if req.Missing {
		n, err := s.missingCount(ctx, conn, req.Field, fi, src)
		if err != nil {
			return nil, failed(err)
		}
		if n > 0 && n >= req.MinCount {
			terms = append(terms, query.FacetTerm{Filter: MissingFilter, Count: n})
			sort.SliceStable(terms, func(i, j int) bool { return terms[i].Count > terms[j].Count })
		}
	}
	if req.Limit > 0 && len(terms) > req.Limit {
		terms = terms[:req.Limit]
	}

	// With a minimum count of 0, values absent from the results are
	// listed with count 0.
	if req.MinCount == 0 && (req.Limit <= 0 || len(terms) < req.Limit) {
		all := s.facetValues(req.Field, fi, nil, 0)
		var rows []facetRow
		if err := conn.SelectContext(ctx, &rows, s.b.db.Rebind(all.sql), all.args...); err != nil {
			return nil, failed(err)
		}
		var zero []string
		for _, r := range rows {
			if r.Value.Valid && !seen[r.Value.String] {
				zero = append(zero, r.Value.String)
			}
		}
		sort.Strings(zero)
		for _, v := range zero {
			if req.Limit > 0 && len(terms) >= req.Limit {
				break
			}
			terms = append(terms, query.FacetTerm{Filter: `"` + v + `"`, Count: 0})
		}
	}
	return terms, nil
}

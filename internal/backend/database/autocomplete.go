package database

import (
	"context"
	"math"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/store"
)

const defaultSuggestionLimit = 10

type wordCount struct {
	Word string `db:"word"`
	Num  int    `db:"num"`
}

// Autocomplete suggests completions of incompleteKey and additional words
// found in the items matching q.
func (b *Backend) Autocomplete(ctx context.Context, idx backend.Index, q *query.Query, incompleteKey, userInput string) ([]backend.Suggestion, error) {
	info, err := b.requireInfo(ctx, idx.ID())
	if err != nil {
		return nil, err
	}
	limit := q.Limit()
	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	s := b.newSearch(idx, info, b.partialMatches())
	fields, err := s.fulltextFields(q)
	if amanerrors.HasCode(err, amanerrors.ErrCodeNoFulltextFields) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	incomplete := canonical(strings.TrimSpace(incompleteKey))
	userInput = strings.TrimRight(userInput, " ")
	var out []backend.Suggestion
	seen := make(map[string]bool)

	if b.cfg.Autocomplete.SuggestSuffix && incomplete != "" {
		dq, err := s.createDbQuery(q)
		if err != nil {
			return nil, err
		}
		sel := s.selectSQL(dq, nil)
		stmt := frag{sql: "SELECT word, COUNT(DISTINCT item_id) AS num FROM " + s.q(info.TextTable) +
			" WHERE " + s.d.Like("word", false) + " AND word <> ? AND field_name IN (" + placeholders(len(fields)) + ")" +
			" AND item_id IN (SELECT r.item_id FROM (" + sel.sql + ") r)" +
			" GROUP BY word ORDER BY num DESC, word ASC" + s.d.LimitOffset(limit, 0)}
		stmt.args = append(stmt.args, store.EscapeLike(incomplete)+"%", incomplete)
		for _, f := range fields {
			stmt.args = append(stmt.args, f)
		}
		stmt.args = append(stmt.args, sel.args...)

		var rows []wordCount
		if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(stmt.sql), stmt.args...); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to fetch suffix suggestions", err)
		}
		for _, r := range rows {
			suffix := strings.TrimPrefix(r.Word, incomplete)
			seen[r.Word] = true
			out = append(out, backend.Suggestion{Suggestion: userInput + suffix, Suffix: suffix, ResultCount: r.Num})
		}
	}

	if b.cfg.Autocomplete.SuggestWords && len(out) < limit {
		wq := q.Clone()
		keys := q.Keys().Clone()
		if keys == nil {
			keys = query.NewKeys(query.And)
		}
		if incomplete != "" {
			keys.AddWord(incompleteKey)
		}
		wq.SetKeys(keys)
		dq, err := s.createDbQuery(wq)
		if err != nil {
			return nil, err
		}
		sel := s.selectSQL(dq, nil)
		var total int
		if err := b.db.GetContext(ctx, &total, b.db.Rebind("SELECT COUNT(*) FROM ("+sel.sql+") r"), sel.args...); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to count autocomplete results", err)
		}
		if total == 0 {
			return out, nil
		}
		maxOccurrences := int(math.Max(1, math.Floor(float64(total)*b.cfg.AutocompleteMaxOccurrences)))

		exclude := keys.Words(false)
		stmt := frag{sql: "SELECT word, COUNT(DISTINCT item_id) AS num FROM " + s.q(info.TextTable) +
			" WHERE field_name IN (" + placeholders(len(fields)) + ")"}
		for _, f := range fields {
			stmt.args = append(stmt.args, f)
		}
		var excluded []string
		for _, w := range exclude {
			excluded = append(excluded, s.prep.splitKey(w)...)
		}
		if len(excluded) > 0 {
			stmt.sql += " AND word NOT IN (" + placeholders(len(excluded)) + ")"
			for _, w := range excluded {
				stmt.args = append(stmt.args, w)
			}
		}
		stmt.sql += " AND item_id IN (SELECT r.item_id FROM (" + sel.sql + ") r)" +
			" GROUP BY word HAVING COUNT(DISTINCT item_id) <= ?" +
			" ORDER BY num DESC, word ASC" + s.d.LimitOffset(limit, 0)
		stmt.args = append(stmt.args, sel.args...)
		stmt.args = append(stmt.args, maxOccurrences)

		var rows []wordCount
		if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(stmt.sql), stmt.args...); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "failed to fetch word suggestions", err)
		}
		prefix := strings.TrimSpace(userInput)
		for _, r := range rows {
			if len(out) >= limit {
				break
			}
			if seen[r.Word] {
				continue
			}
			seen[r.Word] = true
			suggestion := r.Word
			if prefix != "" {
				suggestion = prefix + " " + r.Word
			}
			out = append(out, backend.Suggestion{Suggestion: suggestion, Suffix: r.Word, ResultCount: r.Num})
		}
	}
	return out, nil
}

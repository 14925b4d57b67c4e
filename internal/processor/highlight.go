package processor

import (
	"context"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// ExtraHighlightedFields is the item extra data key for highlighted values.
const ExtraHighlightedFields = "highlighted_fields"

const ellipsis = "…"

var (
	htmlTagSplitRe = regexp.MustCompile(`((?:</?[[:alpha:]](?:[^>"']*|"[^"]*"|'[^']')*>)+)`)
	cjkRe          = regexp.MustCompile(`[` + cjkClass + `]`)
)

func highlightDescriptor() Descriptor {
	return Descriptor{
		ID:          "highlight",
		Label:       "Highlight",
		Description: "Adds an excerpt and highlights search keys in the results.",
		Stages:      map[Stage]int{StagePostprocessQuery: 0},
	}
}

// Highlight creates excerpts and highlights the search keys in result fields.
type Highlight struct {
	idx              Index
	prefix           string
	suffix           string
	excerpt          bool
	excerptAlways    bool
	excerptLength    int
	mode             string
	highlightPartial bool
	exclude          map[string]bool
}

func newHighlight(deps Deps, s Settings) (Processor, error) {
	h := &Highlight{
		idx:              deps.Index,
		prefix:           s.String("prefix", "<strong>"),
		suffix:           s.String("suffix", "</strong>"),
		excerpt:          s.Bool("excerpt", true),
		excerptAlways:    s.Bool("excerpt_always", false),
		excerptLength:    s.Int("excerpt_length", 256),
		mode:             s.String("highlight", "always"),
		highlightPartial: s.Bool("highlight_partial", false),
		exclude:          map[string]bool{},
	}
	switch h.mode {
	case "always", "server", "never":
	default:
		return nil, invalidSetting("highlight", "highlight", errInvalidMode(h.mode))
	}
	for _, f := range s.Strings("exclude_fields", nil) {
		h.exclude[f] = true
	}
	return h, nil
}

type errInvalidMode string

func (e errInvalidMode) Error() string { return "unknown mode " + string(e) }

func (h *Highlight) ID() string { return "highlight" }

func (h *Highlight) PostprocessSearchResults(ctx context.Context, rs *query.ResultSet) error {
	items := rs.Items()
	if rs.Count() == 0 || len(items) == 0 {
		return nil
	}
	keys := h.keywords(rs.Query())
	if len(keys) == 0 && !h.excerptAlways {
		return nil
	}

	fulltext := h.fulltextFields(rs.Query())
	if len(fulltext) == 0 {
		return nil
	}
	if h.excerpt {
		values, err := h.fieldValues(ctx, items, fulltext, false)
		if err != nil {
			return err
		}
		for i, it := range items {
			var parts []string
			for _, id := range fulltext {
				for _, v := range values[i][id] {
					if s, ok := field.Stringify(v); ok && s != "" {
						parts = append(parts, s)
					}
				}
			}
			if ex, ok := h.createExcerpt(strings.Join(parts, "\n\n"), keys); ok {
				it.SetExcerpt(ex)
			}
		}
	}
	if h.mode == "never" || len(keys) == 0 {
		return nil
	}
	values, err := h.fieldValues(ctx, items, fulltext, h.mode == "server")
	if err != nil {
		return err
	}
	for i, it := range items {
		highlighted := map[string][]string{}
		for _, id := range fulltext {
			var changed []string
			for _, v := range values[i][id] {
				s, ok := field.Stringify(v)
				if !ok {
					continue
				}
				if out := h.highlightField(s, keys, true); out != s {
					changed = append(changed, out)
				}
			}
			if len(changed) > 0 {
				highlighted[id] = changed
			}
		}
		if len(highlighted) > 0 {
			it.SetExtraData(ExtraHighlightedFields, highlighted)
		}
	}
	return nil
}

func (h *Highlight) fulltextFields(q *query.Query) []string {
	var out []string
	for _, id := range q.FulltextFields() {
		if !h.exclude[id] {
			out = append(out, id)
		}
	}
	return out
}

// fieldValues returns per-item values of the given fields, keyed by field
// ID. With serverOnly only values already on the items are used.
func (h *Highlight) fieldValues(ctx context.Context, items []*item.Item, ids []string, serverOnly bool) ([]map[string][]any, error) {
	if serverOnly {
		out := make([]map[string][]any, len(items))
		for i, it := range items {
			out[i] = map[string][]any{}
			for _, id := range ids {
				if f, ok := it.FieldsNoExtract()[id]; ok {
					out[i][id] = f.Values
				}
			}
		}
		return out, nil
	}
	required := map[string]map[string]string{}
	for _, id := range ids {
		f, ok := h.idx.Field(id)
		if !ok {
			continue
		}
		if required[f.DatasourceID] == nil {
			required[f.DatasourceID] = map[string]string{}
		}
		required[f.DatasourceID][f.PropertyPath] = id
	}
	return item.ExtractItemValues(ctx, items, required)
}

// keywords returns the non-negated words of the original keys.
func (h *Highlight) keywords(q *query.Query) []string {
	keys := q.OriginalKeys()
	if keys == nil {
		keys = q.Keys()
	}
	seen := map[string]bool{}
	var out []string
	for _, w := range keys.Words(true) {
		w = strings.TrimSpace(strings.Trim(w, `"`))
		lw := strings.ToLower(w)
		if w == "" || seen[lw] {
			continue
		}
		seen[lw] = true
		out = append(out, w)
	}
	return out
}

// createExcerpt picks text around key occurrences until the excerpt length
// is reached, merges overlapping ranges and highlights the result.
func (h *Highlight) createExcerpt(text string, keys []string) (string, bool) {
	text = strings.NewReplacer("<", " <", ">", "> ").Replace(text)
	text = normalizeText(stripAllTags(text))
	runes := []rune(text)
	lower := lowerRunes(runes)

	contextLen := h.excerptLength/4 - 3
	ranges := map[int]int{}
	lookStart := map[string]int{}
	length := 0
	remaining := keys
	for length < h.excerptLength && len(remaining) > 0 {
		var found []string
		for _, key := range remaining {
			if length >= h.excerptLength {
				break
			}
			pos := h.findKey(lower, lowerRunes([]rune(key)), lookStart[key])
			if pos < 0 {
				continue
			}
			lookStart[key] = pos + 1
			found = append(found, key)

			before := 0
			if pos > contextLen {
				before = indexRune(runes, ' ', pos-contextLen)
				if before < 0 {
					continue
				}
				before++
			}
			if before > pos {
				continue
			}
			var after int
			if len(runes) > pos+contextLen {
				after = lastIndexRune(runes[:pos+contextLen], ' ', pos)
			} else {
				after = len(runes)
			}
			if after > pos {
				ranges[before] = after
				length += after - before
			}
		}
		remaining = found
	}

	if len(ranges) == 0 {
		if !h.excerptAlways || len(runes) == 0 {
			return "", false
		}
		return html.EscapeString(truncateWords(runes, h.excerptLength)), true
	}

	starts := make([]int, 0, len(ranges))
	for s := range ranges {
		starts = append(starts, s)
	}
	sort.Ints(starts)
	var parts []string
	from, to := starts[0], ranges[starts[0]]
	for _, s := range starts[1:] {
		e := ranges[s]
		if s <= to {
			if e > to {
				to = e
			}
			continue
		}
		parts = append(parts, html.EscapeString(string(runes[from:to])))
		from, to = s, e
	}
	parts = append(parts, html.EscapeString(string(runes[from:to])))
	excerpt := ellipsis + strings.Join(parts, ellipsis) + ellipsis
	return h.highlightField(excerpt, keys, false), true
}

// findKey returns the rune offset of key in text at or after start,
// requiring word boundaries unless partial matching is enabled.
func (h *Highlight) findKey(text, key []rune, start int) int {
	if len(key) == 0 {
		return -1
	}
	for i := start; i+len(key) <= len(text); i++ {
		if !runesEqual(text[i:i+len(key)], key) {
			continue
		}
		if h.highlightPartial || (isBoundaryAt(text, i-1) && isBoundaryAt(text, i+len(key))) {
			return i
		}
	}
	return -1
}

// highlightField wraps key occurrences with prefix and suffix. With isHTML
// only text between tags is touched; otherwise text is already escaped.
func (h *Highlight) highlightField(text string, keys []string, isHTML bool) string {
	sorted := append([]string(nil), keys...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})
	lowered := make([][]rune, len(sorted))
	for i, k := range sorted {
		if !isHTML {
			k = html.EscapeString(k)
		}
		lowered[i] = lowerRunes([]rune(k))
	}
	if !isHTML {
		return h.highlightText(text, lowered)
	}
	var b strings.Builder
	last := 0
	for _, loc := range htmlTagSplitRe.FindAllStringIndex(text, -1) {
		b.WriteString(h.highlightText(text[last:loc[0]], lowered))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(h.highlightText(text[last:], lowered))
	return b.String()
}

func (h *Highlight) highlightText(text string, keys [][]rune) string {
	runes := []rune(text)
	lower := lowerRunes(runes)
	var b strings.Builder
	for i := 0; i < len(runes); {
		matched := 0
		for _, k := range keys {
			if len(k) == 0 || i+len(k) > len(runes) || !runesEqual(lower[i:i+len(k)], k) {
				continue
			}
			if h.highlightPartial || (isBoundaryAt(lower, i-1) && isBoundaryAt(lower, i+len(k))) {
				matched = len(k)
				break
			}
		}
		if matched == 0 {
			b.WriteRune(runes[i])
			i++
			continue
		}
		b.WriteString(h.prefix)
		b.WriteString(string(runes[i : i+matched]))
		b.WriteString(h.suffix)
		i += matched
	}
	return b.String()
}

// isBoundaryAt reports whether position i is outside text or holds a
// character that separates words.
func isBoundaryAt(text []rune, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := text[i]
	if cjkRe.MatchString(string(r)) {
		return true
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func lowerRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexRune(rs []rune, r rune, from int) int {
	for i := from; i < len(rs); i++ {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func lastIndexRune(rs []rune, r rune, min int) int {
	for i := len(rs) - 1; i >= min && i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func truncateWords(rs []rune, max int) string {
	if len(rs) <= max {
		return string(rs)
	}
	cut := lastIndexRune(rs[:max], ' ', 1)
	if cut <= 0 {
		cut = max
	}
	return strings.TrimSpace(string(rs[:cut])) + ellipsis
}

var anyTagRe = regexp.MustCompile(`<[^>]*>`)

func stripAllTags(s string) string {
	return anyTagRe.ReplaceAllString(s, "")
}

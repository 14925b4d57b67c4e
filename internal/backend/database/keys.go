package database

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Aman-CERP/amansearch/internal/query"
)

// canonical returns the case- and diacritic-folded form stored for words,
// so matching does not depend on database collations.
func canonical(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return cases.Fold().String(folded)
}

var numericRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func isNumeric(s string) bool {
	return numericRe.MatchString(s)
}

// trimNumber strips leading minus signs and zeros from a numeric word.
func trimNumber(s string) string {
	t := strings.TrimLeft(s, "-0")
	if t == "" {
		return "0"
	}
	return t
}

// splitIntoWords splits on everything but letters and digits.
func splitIntoWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// keyNode is a normalized keys tree: words and nested groups, with words
// already in canonical form.
type keyNode struct {
	conj  string
	neg   bool
	terms []keyTerm
}

type keyTerm struct {
	word  string
	group *keyNode
}

// keyPreparer normalizes search keys and collects ignored words.
type keyPreparer struct {
	minChars        int
	tokenizerActive bool
	ignored         []string
}

func (p *keyPreparer) ignore(k string) {
	for _, e := range p.ignored {
		if e == k {
			return
		}
	}
	p.ignored = append(p.ignored, k)
}

// prepareString prepares a scalar key, such as a fulltext condition value.
func (p *keyPreparer) prepareString(s string) *keyNode {
	return p.prepare(query.NewKeys(query.And, s))
}

// prepare normalizes k. Words are split and canonicalized, too short words
// are dropped, duplicate words within a group are removed and nested
// non-negated groups are merged into parents with the same conjunction.
// It returns nil when no searchable word is left.
func (p *keyPreparer) prepare(k *query.Keys) *keyNode {
	if k == nil {
		return nil
	}
	n := &keyNode{conj: k.Conjunction, neg: k.Negation}
	if n.conj != query.Or {
		n.conj = query.And
	}
	for _, t := range k.Terms {
		if t.Group == nil {
			words := p.splitKey(t.Word)
			switch {
			case len(words) == 1:
				n.terms = append(n.terms, keyTerm{word: words[0]})
			case len(words) > 1 && n.conj == query.And:
				for _, w := range words {
					n.terms = append(n.terms, keyTerm{word: w})
				}
			case len(words) > 1:
				g := &keyNode{conj: query.And}
				for _, w := range words {
					g.terms = append(g.terms, keyTerm{word: w})
				}
				n.terms = append(n.terms, keyTerm{group: g})
			}
			continue
		}
		sub := p.prepare(t.Group)
		if sub == nil {
			continue
		}
		if !sub.neg && (sub.conj == n.conj || len(sub.terms) == 1) {
			n.terms = append(n.terms, sub.terms...)
			continue
		}
		n.terms = append(n.terms, keyTerm{group: sub})
	}
	n.dedupe()
	if len(n.terms) == 0 {
		return nil
	}
	if len(n.terms) == 1 && !n.neg {
		if g := n.terms[0].group; g != nil {
			return g
		}
	}
	return n
}

func (n *keyNode) dedupe() {
	seen := make(map[string]bool, len(n.terms))
	out := n.terms[:0]
	for _, t := range n.terms {
		if t.group == nil {
			if seen[t.word] {
				continue
			}
			seen[t.word] = true
		}
		out = append(out, t)
	}
	n.terms = out
}

// splitKey turns one scalar key into canonical words.
func (p *keyPreparer) splitKey(key string) []string {
	processed := canonical(strings.TrimSpace(key))
	if processed == "" {
		return nil
	}
	if isNumeric(processed) {
		return []string{trimNumber(processed)}
	}
	if utf8.RuneCountInString(processed) < p.minChars {
		p.ignore(key)
		return nil
	}
	var words []string
	if p.tokenizerActive {
		words = strings.Fields(processed)
	} else {
		words = splitIntoWords(processed)
	}
	switch {
	case len(words) == 0:
		return nil
	case len(words) == 1 && words[0] == processed:
		return []string{truncateWord(processed)}
	case len(words) == 1:
		return p.splitKey(words[0])
	}
	var out []string
	for _, w := range words {
		out = append(out, p.splitKey(w)...)
	}
	return out
}

func truncateWord(w string) string {
	if utf8.RuneCountInString(w) <= wordLength {
		return w
	}
	return string([]rune(w)[:wordLength])
}

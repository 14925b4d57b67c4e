package query

import (
	"strings"
	"unicode"
)

// Conjunctions.
const (
	And = "AND"
	Or  = "OR"
)

// Keys is a tree of fulltext search keys.
type Keys struct {
	Conjunction string
	Negation    bool
	Terms       []Term
}

// Term is either a single word or a nested group.
type Term struct {
	Word  string
	Group *Keys
}

// NewKeys returns a group with the given conjunction and words.
func NewKeys(conjunction string, words ...string) *Keys {
	k := &Keys{Conjunction: normalizeConjunction(conjunction)}
	for _, w := range words {
		k.AddWord(w)
	}
	return k
}

// AddWord appends a word term.
func (k *Keys) AddWord(w string) *Keys {
	k.Terms = append(k.Terms, Term{Word: w})
	return k
}

// AddGroup appends a nested group.
func (k *Keys) AddGroup(g *Keys) *Keys {
	k.Terms = append(k.Terms, Term{Group: g})
	return k
}

// IsEmpty reports whether the tree contains no words at all.
func (k *Keys) IsEmpty() bool {
	if k == nil {
		return true
	}
	for _, t := range k.Terms {
		if t.Group == nil && t.Word != "" {
			return false
		}
		if t.Group != nil && !t.Group.IsEmpty() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (k *Keys) Clone() *Keys {
	if k == nil {
		return nil
	}
	c := &Keys{Conjunction: k.Conjunction, Negation: k.Negation, Terms: make([]Term, len(k.Terms))}
	for i, t := range k.Terms {
		c.Terms[i] = Term{Word: t.Word, Group: t.Group.Clone()}
	}
	return c
}

// Words returns all words in the tree. With positiveOnly, words under
// negated groups are skipped.
func (k *Keys) Words(positiveOnly bool) []string {
	if k == nil || (positiveOnly && k.Negation) {
		return nil
	}
	var out []string
	for _, t := range k.Terms {
		if t.Group != nil {
			out = append(out, t.Group.Words(positiveOnly)...)
			continue
		}
		if t.Word != "" {
			out = append(out, t.Word)
		}
	}
	return out
}

// String renders the keys in the "terms" syntax.
func (k *Keys) String() string {
	if k == nil {
		return ""
	}
	parts := make([]string, 0, len(k.Terms))
	for _, t := range k.Terms {
		if t.Group != nil {
			parts = append(parts, "("+t.Group.String()+")")
			continue
		}
		w := t.Word
		if strings.ContainsFunc(w, unicode.IsSpace) {
			w = `"` + w + `"`
		}
		parts = append(parts, w)
	}
	sep := " "
	if k.Conjunction == Or {
		sep = " OR "
	}
	s := strings.Join(parts, sep)
	if k.Negation {
		return "-(" + s + ")"
	}
	return s
}

func normalizeConjunction(c string) string {
	if strings.EqualFold(c, Or) {
		return Or
	}
	return And
}

// Parse modes.
const (
	ParseModeTerms  = "terms"
	ParseModePhrase = "phrase"
	ParseModeDirect = "direct"
)

// ParseModes lists the supported parse modes.
func ParseModes() []string {
	return []string{ParseModeTerms, ParseModePhrase, ParseModeDirect}
}

// ParseKeys turns user input into keys. "terms" splits on whitespace,
// honours quoted phrases and a leading "-" for negation; "phrase" treats the
// whole input as one phrase; "direct" passes the input through as one word.
func ParseKeys(mode, input string) *Keys {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	switch mode {
	case ParseModeDirect:
		return NewKeys(And, input)
	case ParseModePhrase:
		return NewKeys(And, strings.Trim(input, `"`))
	}

	keys := NewKeys(And)
	for _, tok := range tokenizeTerms(input) {
		neg := strings.HasPrefix(tok, "-") && len(tok) > 1
		if neg {
			tok = tok[1:]
		}
		word := strings.Trim(tok, `"`)
		if word == "" {
			continue
		}
		if neg {
			keys.AddGroup(&Keys{Conjunction: And, Negation: true, Terms: []Term{{Word: word}}})
			continue
		}
		keys.AddWord(word)
	}
	if len(keys.Terms) == 0 {
		return nil
	}
	return keys
}

func tokenizeTerms(input string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range input {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

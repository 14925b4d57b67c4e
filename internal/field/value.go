package field

import "strings"

// TextToken is one token of a tokenized text value.
type TextToken struct {
	Text  string
	Boost float64
}

// NewToken returns a token with the given boost.
func NewToken(text string, boost float64) TextToken {
	return TextToken{Text: text, Boost: boost}
}

// TextValue is a fulltext value. Tokens is nil until a processor tokenizes it.
type TextValue struct {
	Text   string
	Tokens []TextToken
}

// NewTextValue returns an untokenized text value.
func NewTextValue(text string) *TextValue {
	return &TextValue{Text: text}
}

// IsTokenized reports whether the value has been split into tokens.
func (v *TextValue) IsTokenized() bool {
	return v.Tokens != nil
}

// SetTokens replaces the tokens and keeps Text in sync.
func (v *TextValue) SetTokens(tokens []TextToken) {
	if tokens == nil {
		tokens = []TextToken{}
	}
	v.Tokens = tokens
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	v.Text = strings.Join(parts, " ")
}

// Clone returns a deep copy.
func (v *TextValue) Clone() *TextValue {
	c := &TextValue{Text: v.Text}
	if v.Tokens != nil {
		c.Tokens = make([]TextToken, len(v.Tokens))
		copy(c.Tokens, v.Tokens)
	}
	return c
}

func (v *TextValue) String() string {
	return v.Text
}

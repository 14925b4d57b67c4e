package processor

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

func transliterationDescriptor() Descriptor {
	return Descriptor{
		ID:          "transliteration",
		Label:       "Transliteration",
		Description: "Folds accented and special letters to their ASCII counterparts.",
		Stages:      map[Stage]int{StagePreprocessIndex: -20, StagePreprocessQuery: -20},
	}
}

var specialLetters = strings.NewReplacer(
	"ß", "ss", "Æ", "AE", "æ", "ae", "Ø", "O", "ø", "o", "Œ", "OE", "œ", "oe",
	"Ł", "L", "ł", "l", "Đ", "D", "đ", "d", "Þ", "TH", "þ", "th", "ı", "i",
)

// Transliterate strips diacritics and expands ligatures.
func Transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return specialLetters.Replace(out)
}

// Transliteration folds values, keys and condition values to ASCII.
type Transliteration struct {
	fieldProcessing
}

func newTransliteration(deps Deps, s Settings) (Processor, error) {
	p := &Transliteration{}
	p.fieldProcessing = newFieldProcessing(deps.Index, s, func(t field.Type) bool {
		return t.IsText() || t == field.TypeString
	}, baseValueProcessor{fn: Transliterate})
	return p, nil
}

func (p *Transliteration) ID() string { return "transliteration" }

func (p *Transliteration) PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	return p.preprocessIndexItems(ctx, items)
}

func (p *Transliteration) PreprocessSearchQuery(_ context.Context, q *query.Query) error {
	p.preprocessSearchQuery(q)
	return nil
}

package processor

import (
	"context"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

func ignoreCaseDescriptor() Descriptor {
	return Descriptor{
		ID:          "ignorecase",
		Label:       "Ignore case",
		Description: "Makes searches case-insensitive on selected fields.",
		Stages:      map[Stage]int{StagePreprocessIndex: -20, StagePreprocessQuery: -20},
	}
}

// IgnoreCase lowercases values, keys and condition values.
type IgnoreCase struct {
	fieldProcessing
}

func newIgnoreCase(deps Deps, s Settings) (Processor, error) {
	p := &IgnoreCase{}
	p.fieldProcessing = newFieldProcessing(deps.Index, s, func(t field.Type) bool {
		return t.IsText() || t == field.TypeString
	}, baseValueProcessor{fn: strings.ToLower})
	return p, nil
}

func (p *IgnoreCase) ID() string { return "ignorecase" }

func (p *IgnoreCase) PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	return p.preprocessIndexItems(ctx, items)
}

func (p *IgnoreCase) PreprocessSearchQuery(_ context.Context, q *query.Query) error {
	p.preprocessSearchQuery(q)
	return nil
}

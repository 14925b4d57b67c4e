package processor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
)

// Property names provided by processors.
const (
	PropertyURL                  = "search_api_url"
	PropertyAggregatedField      = "aggregated_field"
	PropertyLanguageWithFallback = "language_with_fallback"
	PropertyNodeGrants           = "search_api_node_grants"
)

// fieldsForProperty returns the item's fields filled from a processor property.
func fieldsForProperty(it *item.Item, property string) []*field.Field {
	var out []*field.Field
	fields := it.FieldsNoExtract()
	for _, id := range field.SortedIDs(fields) {
		f := fields[id]
		if f.DatasourceID == "" && f.PropertyPath == property {
			out = append(out, f)
		}
	}
	return out
}

// objectValue reads a top-level property of the item's source object.
func objectValue(ctx context.Context, it *item.Item, name string) (item.Data, bool) {
	obj, ok, err := it.OriginalObject(ctx)
	if err != nil || !ok {
		return item.Data{}, false
	}
	return obj.Get(name)
}

func addURLDescriptor() Descriptor {
	return Descriptor{
		ID:          "add_url",
		Label:       "URL field",
		Description: "Adds the item's URL to the indexed data.",
		Stages:      map[Stage]int{StageAddProperties: 0},
		Locked:      true,
		Hidden:      true,
	}
}

// AddURL provides the search_api_url property.
type AddURL struct {
	idx Index
}

func newAddURL(deps Deps, _ Settings) (Processor, error) {
	return &AddURL{idx: deps.Index}, nil
}

func (p *AddURL) ID() string { return "add_url" }

func (p *AddURL) PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	if datasourceID != "" {
		return nil
	}
	return map[string]*field.PropertyDefinition{
		PropertyURL: {Name: PropertyURL, Label: "URI", Description: "A URI where the item can be accessed", DataType: "uri"},
	}
}

func (p *AddURL) AddFieldValues(ctx context.Context, it *item.Item) error {
	fields := fieldsForProperty(it, PropertyURL)
	if len(fields) == 0 || p.idx == nil {
		return nil
	}
	url, ok := p.idx.ItemURL(ctx, it)
	if !ok {
		return nil
	}
	for _, f := range fields {
		f.AddValue(url)
	}
	return nil
}

func languageWithFallbackDescriptor() Descriptor {
	return Descriptor{
		ID:          "language_with_fallback",
		Label:       "Language (with fallback)",
		Description: "Adds the item's language plus the languages it serves as fallback for.",
		Stages:      map[Stage]int{StageAddProperties: 20},
		Locked:      true,
		Hidden:      true,
	}
}

// LanguageWithFallback provides the item language plus configured fallback
// languages that have no translation of their own.
type LanguageWithFallback struct {
	fallbacks []string
}

func newLanguageWithFallback(_ Deps, s Settings) (Processor, error) {
	return &LanguageWithFallback{fallbacks: s.Strings("fallbacks", nil)}, nil
}

func (p *LanguageWithFallback) ID() string { return "language_with_fallback" }

func (p *LanguageWithFallback) PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	if datasourceID != "" {
		return nil
	}
	return map[string]*field.PropertyDefinition{
		PropertyLanguageWithFallback: {Name: PropertyLanguageWithFallback, Label: "Language (with fallback)", DataType: "string", List: true},
	}
}

func (p *LanguageWithFallback) AddFieldValues(ctx context.Context, it *item.Item) error {
	fields := fieldsForProperty(it, PropertyLanguageWithFallback)
	if len(fields) == 0 {
		return nil
	}
	langs := []string{it.Language()}
	if def, ok := objectValue(ctx, it, "default_langcode"); ok {
		if isDefault, _ := field.ToBool(def.Value); isDefault {
			translated := map[string]bool{}
			if tr, ok := objectValue(ctx, it, "translations"); ok {
				if m, ok := tr.Value.(map[string]any); ok {
					for lang := range m {
						translated[lang] = true
					}
				}
			}
			for _, fb := range p.fallbacks {
				if fb != it.Language() && !translated[fb] {
					langs = append(langs, fb)
				}
			}
		}
	}
	for _, f := range fields {
		for _, l := range langs {
			if l != "" {
				f.AddValue(l)
			}
		}
	}
	return nil
}

func aggregatedFieldDescriptor() Descriptor {
	return Descriptor{
		ID:          "aggregated_field",
		Label:       "Aggregated fields",
		Description: "Adds fields combining the values of several properties.",
		Stages:      map[Stage]int{StageAddProperties: 20},
		Locked:      true,
		Hidden:      true,
	}
}

// Aggregation types.
const (
	AggregateUnion  = "union"
	AggregateConcat = "concat"
	AggregateSum    = "sum"
	AggregateCount  = "count"
	AggregateMax    = "max"
	AggregateMin    = "min"
	AggregateFirst  = "first"
	AggregateLast   = "last"
)

// AggregatedField fills fields configured with an aggregation type and a
// list of combined property paths.
type AggregatedField struct{}

func newAggregatedField(_ Deps, _ Settings) (Processor, error) {
	return &AggregatedField{}, nil
}

func (p *AggregatedField) ID() string { return "aggregated_field" }

func (p *AggregatedField) PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	if datasourceID != "" {
		return nil
	}
	return map[string]*field.PropertyDefinition{
		PropertyAggregatedField: {Name: PropertyAggregatedField, Label: "Aggregated field", DataType: "string"},
	}
}

func (p *AggregatedField) AddFieldValues(ctx context.Context, it *item.Item) error {
	for _, f := range fieldsForProperty(it, PropertyAggregatedField) {
		typ, _ := f.Configuration["type"].(string)
		if typ == "" {
			typ = AggregateUnion
		}
		paths := Settings(f.Configuration).Strings("fields", nil)
		required := make(map[string]map[string]string)
		for _, combined := range paths {
			ds, path := field.SplitCombinedID(combined)
			if required[ds] == nil {
				required[ds] = make(map[string]string)
			}
			required[ds][path] = combined
		}
		extracted, err := item.ExtractItemValues(ctx, []*item.Item{it}, required)
		if err != nil {
			return err
		}
		var values []any
		for _, combined := range paths {
			values = append(values, extracted[0][combined]...)
		}
		aggregated, err := aggregate(typ, values)
		if err != nil {
			return err
		}
		for _, v := range aggregated {
			f.AddValue(v)
		}
	}
	return nil
}

func aggregate(typ string, values []any) ([]any, error) {
	switch typ {
	case AggregateUnion:
		return values, nil
	case AggregateConcat:
		parts := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := field.Stringify(v); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return []any{strings.Join(parts, "\n\n")}, nil
	case AggregateCount:
		return []any{int64(len(values))}, nil
	case AggregateFirst:
		if len(values) == 0 {
			return nil, nil
		}
		return values[:1], nil
	case AggregateLast:
		if len(values) == 0 {
			return nil, nil
		}
		return values[len(values)-1:], nil
	case AggregateSum, AggregateMax, AggregateMin:
		var acc float64
		n := 0
		for _, v := range values {
			f, ok := field.ToFloat(v)
			if !ok {
				continue
			}
			switch {
			case n == 0:
				acc = f
			case typ == AggregateSum:
				acc += f
			case typ == AggregateMax:
				acc = math.Max(acc, f)
			default:
				acc = math.Min(acc, f)
			}
			n++
		}
		if n == 0 {
			if typ == AggregateSum {
				return []any{float64(0)}, nil
			}
			return nil, nil
		}
		return []any{acc}, nil
	}
	return nil, fmt.Errorf("unknown aggregation type %q", typ)
}

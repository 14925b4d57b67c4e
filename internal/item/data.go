package item

import (
	"sort"

	"github.com/Aman-CERP/amansearch/internal/field"
)

// Data is a raw source value paired with its property definition. Complex
// values are map[string]any, lists are []any.
type Data struct {
	Definition *field.PropertyDefinition
	Value      any
}

// NewObject wraps a top-level source object described by props.
func NewObject(props map[string]*field.PropertyDefinition, values map[string]any) Data {
	return Data{
		Definition: &field.PropertyDefinition{Name: "", DataType: "object", Properties: props},
		Value:      values,
	}
}

// IsList reports whether the value is a list.
func (d Data) IsList() bool {
	if d.Definition != nil && d.Definition.List {
		return true
	}
	_, ok := d.Value.([]any)
	return ok
}

// IsComplex reports whether the value has nested properties.
func (d Data) IsComplex() bool {
	if d.Definition != nil && d.Definition.IsComplex() {
		return true
	}
	_, ok := d.Value.(map[string]any)
	return ok
}

// Elements returns the list elements, or d itself for single values.
func (d Data) Elements() []Data {
	if !d.IsList() {
		return []Data{d}
	}
	var def *field.PropertyDefinition
	if d.Definition != nil {
		def = d.Definition.Item()
	}
	switch v := d.Value.(type) {
	case []any:
		out := make([]Data, 0, len(v))
		for _, e := range v {
			out = append(out, Data{Definition: def, Value: e})
		}
		return out
	case nil:
		return nil
	default:
		return []Data{{Definition: def, Value: v}}
	}
}

// Get returns a direct child property. Missing properties are reported as
// absent.
func (d Data) Get(name string) (Data, bool) {
	m, ok := d.Value.(map[string]any)
	if !ok {
		return Data{}, false
	}
	v, ok := m[name]
	if !ok {
		return Data{}, false
	}
	var def *field.PropertyDefinition
	if d.Definition != nil {
		def, _ = d.Definition.Property(name)
	}
	return Data{Definition: def, Value: v}, true
}

// Translate returns the given language variant of a complex value. Values
// carry variants under a "translations" map keyed by langcode.
func (d Data) Translate(langcode string) Data {
	m, ok := d.Value.(map[string]any)
	if !ok || langcode == "" {
		return d
	}
	tr, ok := m["translations"].(map[string]any)
	if !ok {
		return d
	}
	variant, ok := tr[langcode].(map[string]any)
	if !ok {
		return d
	}
	merged := make(map[string]any, len(m)+len(variant))
	for k, v := range m {
		if k != "translations" {
			merged[k] = v
		}
	}
	for k, v := range variant {
		merged[k] = v
	}
	return Data{Definition: d.Definition, Value: merged}
}

// ExtractFields fills fields from object. fields maps property paths
// relative to object to the fields that receive their values.
func ExtractFields(object Data, fields map[string][]*field.Field, langcode string) {
	direct := make(map[string][]*field.Field)
	nested := make(map[string]map[string][]*field.Field)
	for path, fs := range fields {
		key, rest := field.SplitPropertyPath(path, false)
		if rest == "" {
			direct[key] = append(direct[key], fs...)
			continue
		}
		if nested[key] == nil {
			nested[key] = make(map[string][]*field.Field)
		}
		nested[key][rest] = append(nested[key][rest], fs...)
	}

	for _, key := range sortedKeys(direct) {
		child, ok := object.Get(key)
		if !ok {
			continue
		}
		values := ExtractFieldValues(child)
		for _, f := range direct[key] {
			for _, v := range values {
				f.AddValue(v)
			}
		}
	}

	for _, key := range sortedKeys(nested) {
		child, ok := object.Get(key)
		if !ok {
			continue
		}
		for _, elem := range child.Elements() {
			if !elem.IsComplex() {
				continue
			}
			ExtractFields(elem.Translate(langcode), nested[key], langcode)
		}
	}
}

// ExtractFieldValues flattens d into scalar values. Lists recurse per
// element and complex values resolve through their main property.
func ExtractFieldValues(d Data) []any {
	if d.IsList() {
		var out []any
		for _, e := range d.Elements() {
			out = append(out, ExtractFieldValues(e)...)
		}
		return out
	}
	if d.IsComplex() {
		if d.Definition == nil || d.Definition.MainProperty == "" {
			return nil
		}
		main, ok := d.Get(d.Definition.MainProperty)
		if !ok {
			return nil
		}
		return ExtractFieldValues(main)
	}
	if d.Value == nil {
		return nil
	}
	return []any{d.Value}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

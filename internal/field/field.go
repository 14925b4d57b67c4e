// Package field models index fields, their typed values, property
// definitions of source objects and the mapping between the two.
package field

import (
	"fmt"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Type is the type of an index field.
type Type string

// Canonical field types.
const (
	TypeText          Type = "text"
	TypeTokenizedText Type = "tokenized_text"
	TypeString        Type = "string"
	TypeInteger       Type = "integer"
	TypeDecimal       Type = "decimal"
	TypeBoolean       Type = "boolean"
	TypeDate          Type = "date"
	TypeURI           Type = "uri"
)

// CanonicalTypes lists the built-in field types.
func CanonicalTypes() []Type {
	return []Type{TypeText, TypeTokenizedText, TypeString, TypeInteger, TypeDecimal, TypeBoolean, TypeDate, TypeURI}
}

// IsText reports whether values of this type are fulltext values.
func (t Type) IsText() bool {
	return t == TypeText || t == TypeTokenizedText
}

// IsTextType reports whether t is one of textTypes (default: the fulltext types).
func IsTextType(t Type, textTypes ...Type) bool {
	if len(textTypes) == 0 {
		return t.IsText()
	}
	for _, tt := range textTypes {
		if t == tt {
			return true
		}
	}
	return false
}

// Index is the part of an index a field needs to know about.
type Index interface {
	ID() string
	Field(id string) (*Field, bool)
}

// Field is one field of an index together with the values extracted for a
// single item. Index-level field definitions carry no values.
type Field struct {
	IndexID       string
	ID            string
	Label         string
	Description   string
	DatasourceID  string
	PropertyPath  string
	Type          Type
	Boost         float64
	IndexedLocked bool
	TypeLocked    bool
	Hidden        bool
	MultiValued   bool
	Configuration map[string]any
	Values        []any

	dataType DataType
	storedAs Type
}

// New returns a field with default boost 1.
func New(indexID, id string) *Field {
	return &Field{IndexID: indexID, ID: id, Boost: 1, Type: TypeString}
}

// CreateField builds a field for idx and applies every known setter found in
// info. Unknown keys are ignored.
func CreateField(idx Index, id string, info map[string]any) (*Field, error) {
	indexID := ""
	if idx != nil {
		indexID = idx.ID()
	}
	f := New(indexID, id)
	if err := f.Apply(info); err != nil {
		return nil, err
	}
	return f, nil
}

// Apply sets field properties from an info map keyed by property name.
func (f *Field) Apply(info map[string]any) error {
	for key, raw := range info {
		var err error
		switch key {
		case "label":
			f.Label, err = asString(key, raw)
		case "description":
			f.Description, err = asString(key, raw)
		case "datasource_id":
			f.DatasourceID, err = asString(key, raw)
		case "property_path":
			f.PropertyPath, err = asString(key, raw)
		case "type":
			var s string
			s, err = asString(key, raw)
			f.Type = Type(s)
		case "boost":
			f.Boost, err = asFloat(key, raw)
			if err == nil && f.Boost < 0 {
				err = fmt.Errorf("boost must not be negative")
			}
		case "indexed_locked":
			f.IndexedLocked, err = asBool(key, raw)
		case "type_locked":
			f.TypeLocked, err = asBool(key, raw)
		case "hidden":
			f.Hidden, err = asBool(key, raw)
		case "multi_valued":
			f.MultiValued, err = asBool(key, raw)
		case "configuration":
			m, ok := raw.(map[string]any)
			if !ok && raw != nil {
				err = fmt.Errorf("expected a map")
			}
			f.Configuration = m
		}
		if err != nil {
			return amanerrors.New(amanerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid value for %q of field '%s': %v", key, f.ID, err), err)
		}
	}
	return nil
}

// CombinedPropertyPath returns datasource and property path joined by "/".
func (f *Field) CombinedPropertyPath() string {
	return CreateCombinedID(f.DatasourceID, f.PropertyPath)
}

// IsFulltext reports whether the field holds fulltext values.
func (f *Field) IsFulltext() bool {
	return f.StorageType().IsText()
}

// StorageType is the type backends store the field as. It differs from
// Type for custom types the backend does not support.
func (f *Field) StorageType() Type {
	if f.storedAs != "" {
		return f.storedAs
	}
	return f.Type
}

// SetStorageType records the type resolved for the field's backend.
func (f *Field) SetStorageType(t Type) {
	f.storedAs = t
}

// SetDataType attaches the data type plugin whose GetValue normalizes added values.
func (f *Field) SetDataType(dt DataType) {
	f.dataType = dt
}

// DataType returns the attached data type plugin, if any.
func (f *Field) DataType() DataType {
	return f.dataType
}

// AddValue normalizes v through the field's data type and appends it.
// Values the data type rejects are dropped.
func (f *Field) AddValue(v any) {
	if f.dataType != nil {
		nv, ok := f.dataType.GetValue(v)
		if !ok {
			return
		}
		v = nv
	}
	f.Values = append(f.Values, v)
}

// SetValues replaces the values without normalization.
func (f *Field) SetValues(values []any) {
	f.Values = values
}

// Clone returns a deep copy of the field including its values.
func (f *Field) Clone() *Field {
	c := *f
	if f.Configuration != nil {
		c.Configuration = make(map[string]any, len(f.Configuration))
		for k, v := range f.Configuration {
			c.Configuration[k] = v
		}
	}
	if f.Values != nil {
		c.Values = make([]any, len(f.Values))
		for i, v := range f.Values {
			if tv, ok := v.(*TextValue); ok {
				v = tv.Clone()
			}
			c.Values[i] = v
		}
	}
	return &c
}

// Definition returns a value-less copy, as stored on the index.
func (f *Field) Definition() *Field {
	c := f.Clone()
	c.Values = nil
	return c
}

// Equal compares the field definitions, ignoring values.
func (f *Field) Equal(o *Field) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.ID == o.ID && f.Label == o.Label && f.DatasourceID == o.DatasourceID &&
		f.PropertyPath == o.PropertyPath && f.Type == o.Type && f.Boost == o.Boost &&
		f.IndexedLocked == o.IndexedLocked && f.TypeLocked == o.TypeLocked &&
		f.Hidden == o.Hidden && f.MultiValued == o.MultiValued &&
		fmt.Sprint(f.Configuration) == fmt.Sprint(o.Configuration)
}

// Info returns the field definition as an info map accepted by CreateField.
func (f *Field) Info() map[string]any {
	info := map[string]any{
		"label":         f.Label,
		"property_path": f.PropertyPath,
		"type":          string(f.Type),
		"boost":         f.Boost,
	}
	if f.DatasourceID != "" {
		info["datasource_id"] = f.DatasourceID
	}
	if f.IndexedLocked {
		info["indexed_locked"] = true
	}
	if f.TypeLocked {
		info["type_locked"] = true
	}
	if f.Hidden {
		info["hidden"] = true
	}
	if f.MultiValued {
		info["multi_valued"] = true
	}
	if len(f.Configuration) > 0 {
		info["configuration"] = f.Configuration
	}
	return info
}

func (f *Field) String() string {
	return fmt.Sprintf("%s (%s, %s)", f.ID, f.Type, f.CombinedPropertyPath())
}

var reservedIDs = map[string]bool{
	"search_api_id":         true,
	"search_api_datasource": true,
	"search_api_relevance":  true,
	"search_api_language":   true,
	"search_api_random":     true,
	"search_api_excerpt":    true,
}

// IsFieldIDReserved reports whether id names a pseudo-field.
func IsFieldIDReserved(id string) bool {
	return reservedIDs[id]
}

func asString(key string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

func asFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
	return b, nil
}

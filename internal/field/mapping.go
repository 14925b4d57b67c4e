package field

import (
	"fmt"
	"sort"
	"strings"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

func defaultTypeMapping() map[string]Type {
	return map[string]Type{
		"string":           TypeString,
		"email":            TypeString,
		"language":         TypeString,
		"text":             TypeText,
		"text_long":        TypeText,
		"uri":              TypeURI,
		"integer":          TypeInteger,
		"timestamp":        TypeDate,
		"datetime_iso8601": TypeDate,
		"boolean":          TypeBoolean,
		"float":            TypeDecimal,
		"decimal":          TypeDecimal,
	}
}

// FieldTypeMapping returns the default data type to field type mapping.
// Data types not listed (maps, references, binary data) are not indexable.
func FieldTypeMapping() map[string]Type {
	return defaultTypeMapping()
}

// Mapper resolves field types for property definitions.
type Mapper struct {
	mapping map[string]Type
}

// NewMapper returns a mapper with the default mapping plus overrides. An
// override with an empty type removes the data type from the mapping.
func NewMapper(overrides map[string]Type) *Mapper {
	m := defaultTypeMapping()
	for k, v := range overrides {
		if v == "" {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	return &Mapper{mapping: m}
}

// TypeFor returns the default field type for a property. Complex properties
// without a mapping of their own use their main property's data type.
func (m *Mapper) TypeFor(def *PropertyDefinition) (Type, bool) {
	if def == nil {
		return "", false
	}
	if t, ok := m.mapping[def.DataType]; ok {
		return t, true
	}
	if main := def.MainPropertyDefinition(); main != def {
		t, ok := m.mapping[main.DataType]
		return t, ok
	}
	return "", false
}

// Helper creates fields from property definitions.
type Helper struct {
	mapper    *Mapper
	dataTypes *DataTypes
}

// NewHelper returns a helper using the given mapper and data type registry.
func NewHelper(mapper *Mapper, dataTypes *DataTypes) *Helper {
	if mapper == nil {
		mapper = NewMapper(nil)
	}
	if dataTypes == nil {
		dataTypes = DefaultDataTypes()
	}
	return &Helper{mapper: mapper, dataTypes: dataTypes}
}

// Mapper returns the helper's type mapper.
func (h *Helper) Mapper() *Mapper { return h.mapper }

// DataTypes returns the helper's data type registry.
func (h *Helper) DataTypes() *DataTypes { return h.dataTypes }

// CreateFieldFromProperty builds a field for property found at propertyPath
// of the given datasource. An empty fieldID derives a free one from the
// path; an empty typ uses the default mapping.
func (h *Helper) CreateFieldFromProperty(idx Index, property *PropertyDefinition, datasourceID, propertyPath, fieldID string, typ Type) (*Field, error) {
	if typ == "" {
		t, ok := h.mapper.TypeFor(property)
		if !ok {
			return nil, amanerrors.New(amanerrors.ErrCodeUnmappedDataType,
				fmt.Sprintf("No default data type mapping could be found for property '%s' (%s) of type '%s'.",
					propertyPath, datasourceID, property.DataType), nil)
		}
		typ = t
	}
	if _, ok := h.dataTypes.Get(typ); !ok {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknownType,
			fmt.Sprintf("Unknown field type '%s'.", typ), nil)
	}
	if fieldID == "" {
		fieldID = NewFieldID(idx, propertyPath)
	}
	f, err := CreateField(idx, fieldID, map[string]any{
		"label":         property.Label,
		"datasource_id": datasourceID,
		"property_path": propertyPath,
		"type":          string(typ),
	})
	if err != nil {
		return nil, err
	}
	if property.Hidden {
		f.Hidden = true
	}
	return f, nil
}

// NewFieldID returns a free field ID derived from the last segment of a
// property path, suffixed with _N on collision.
func NewFieldID(idx Index, propertyPath string) string {
	_, last := SplitPropertyPath(propertyPath, true)
	base := sanitizeID(last)
	if base == "" {
		base = "field"
	}
	taken := func(id string) bool {
		if IsFieldIDReserved(id) {
			return true
		}
		if idx == nil {
			return false
		}
		_, ok := idx.Field(id)
		return ok
	}
	id := base
	for i := 1; taken(id); i++ {
		id = fmt.Sprintf("%s_%d", base, i)
	}
	return id
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SortedIDs returns the keys of a field map in lexical order.
func SortedIDs(fields map[string]*Field) []string {
	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

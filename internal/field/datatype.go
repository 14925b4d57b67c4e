package field

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
)

// DataType normalizes raw values for one field type.
type DataType interface {
	ID() Type
	Label() string
	// Fallback is the canonical type used by backends that do not support
	// this type. Canonical types return themselves.
	Fallback() Type
	// GetValue converts a raw value. ok is false for values that cannot be
	// represented and must be dropped.
	GetValue(raw any) (v any, ok bool)
}

// DataTypes is a registry of data type plugins.
type DataTypes struct {
	mu    sync.RWMutex
	types map[Type]DataType
}

// NewDataTypes returns an empty registry.
func NewDataTypes() *DataTypes {
	return &DataTypes{types: make(map[Type]DataType)}
}

// DefaultDataTypes returns a registry with all canonical types and the
// markdown custom type.
func DefaultDataTypes() *DataTypes {
	r := NewDataTypes()
	for _, dt := range []DataType{
		textType{id: TypeText, label: "Fulltext"},
		textType{id: TypeTokenizedText, label: "Fulltext (tokenized)"},
		stringType{id: TypeString, label: "String"},
		stringType{id: TypeURI, label: "URI"},
		integerType{},
		decimalType{},
		booleanType{},
		dateType{},
		NewMarkdownType(),
	} {
		r.Register(dt)
	}
	return r
}

// Register adds or replaces a data type.
func (r *DataTypes) Register(dt DataType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[dt.ID()] = dt
}

// Get returns the data type for id.
func (r *DataTypes) Get(id Type) (DataType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[id]
	return dt, ok
}

// IDs returns all registered type IDs, sorted.
func (r *DataTypes) IDs() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]Type, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve returns the data type for id and the type a backend should store
// it as: id itself when supported, otherwise the fallback.
func (r *DataTypes) Resolve(id Type, supported func(Type) bool) (DataType, Type, bool) {
	dt, ok := r.Get(id)
	if !ok {
		return nil, "", false
	}
	if supported == nil || supported(id) {
		return dt, id, true
	}
	return dt, dt.Fallback(), true
}

type textType struct {
	id    Type
	label string
}

func (t textType) ID() Type       { return t.id }
func (t textType) Label() string  { return t.label }
func (t textType) Fallback() Type { return t.id }

func (t textType) GetValue(raw any) (any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case *TextValue:
		return v, true
	case TextValue:
		return &v, true
	}
	s, ok := Stringify(raw)
	if !ok {
		return nil, false
	}
	return NewTextValue(s), true
}

type stringType struct {
	id    Type
	label string
}

func (t stringType) ID() Type       { return t.id }
func (t stringType) Label() string  { return t.label }
func (t stringType) Fallback() Type { return t.id }

func (t stringType) GetValue(raw any) (any, bool) {
	if tv, ok := raw.(*TextValue); ok {
		return tv.Text, true
	}
	return Stringify(raw)
}

type integerType struct{}

func (integerType) ID() Type       { return TypeInteger }
func (integerType) Label() string  { return "Integer" }
func (integerType) Fallback() Type { return TypeInteger }

func (integerType) GetValue(raw any) (any, bool) {
	f, ok := ToFloat(raw)
	if !ok {
		return nil, false
	}
	return int64(f), true
}

type decimalType struct{}

func (decimalType) ID() Type       { return TypeDecimal }
func (decimalType) Label() string  { return "Decimal" }
func (decimalType) Fallback() Type { return TypeDecimal }

func (decimalType) GetValue(raw any) (any, bool) {
	return ToFloat(raw)
}

type booleanType struct{}

func (booleanType) ID() Type       { return TypeBoolean }
func (booleanType) Label() string  { return "Boolean" }
func (booleanType) Fallback() Type { return TypeBoolean }

func (booleanType) GetValue(raw any) (any, bool) {
	return ToBool(raw)
}

type dateType struct{}

func (dateType) ID() Type       { return TypeDate }
func (dateType) Label() string  { return "Date" }
func (dateType) Fallback() Type { return TypeDate }

func (dateType) GetValue(raw any) (any, bool) {
	return ToTimestamp(raw)
}

// MarkdownType renders markdown sources to HTML fulltext. Backends without
// support for it index the rendered HTML as plain text.
type MarkdownType struct {
	md goldmark.Markdown
}

// TypeMarkdown is the ID of the markdown custom type.
const TypeMarkdown Type = "markdown"

// NewMarkdownType returns the markdown data type.
func NewMarkdownType() *MarkdownType {
	return &MarkdownType{md: goldmark.New()}
}

func (*MarkdownType) ID() Type       { return TypeMarkdown }
func (*MarkdownType) Label() string  { return "Markdown" }
func (*MarkdownType) Fallback() Type { return TypeText }

func (m *MarkdownType) GetValue(raw any) (any, bool) {
	var src string
	switch v := raw.(type) {
	case *TextValue:
		if v.IsTokenized() {
			return v, true
		}
		src = v.Text
	default:
		s, ok := Stringify(raw)
		if !ok {
			return nil, false
		}
		src = s
	}
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return NewTextValue(src), true
	}
	return NewTextValue(strings.TrimSpace(buf.String())), true
}

// Stringify converts scalar values to their string form.
func Stringify(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case time.Time:
		return v.UTC().Format(time.RFC3339), true
	case *TextValue:
		return v.Text, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// ToFloat converts numeric values and numeric strings.
func ToFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case []byte:
		return ToFloat(string(v))
	case *TextValue:
		return ToFloat(v.Text)
	default:
		return 0, false
	}
}

// ToBool converts booleans, numbers and common boolean strings.
func ToBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "off", "no":
			return false, true
		default:
			return true, true
		}
	}
	f, ok := ToFloat(raw)
	if !ok {
		return false, false
	}
	return f != 0, true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTimestamp converts dates to Unix seconds. Numbers are taken as
// timestamps; strings may be numeric or one of the ISO 8601 layouts.
func ToTimestamp(raw any) (int64, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v.Unix(), true
	case *time.Time:
		if v == nil {
			return 0, false
		}
		return v.Unix(), true
	case string:
		s := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix(), true
			}
		}
		return 0, false
	case bool:
		return 0, false
	}
	f, ok := ToFloat(raw)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

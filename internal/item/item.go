// Package item holds the per-item indexing unit and the extraction of field
// values from source objects.
package item

import (
	"context"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/field"
)

// Index is what an item needs from its index.
type Index interface {
	ID() string
	// NewItemFields returns value-less copies of the index fields.
	NewItemFields() map[string]*field.Field
	// IsProcessorProperty reports whether a top-level property of the
	// datasource ("" for datasource-independent ones) is provided by a processor.
	IsProcessorProperty(datasourceID, property string) bool
	// AddPropertyValues lets processors fill the fields they provide.
	AddPropertyValues(ctx context.Context, it *Item) error
	// LoadOriginalObject loads the source object of a combined item ID.
	LoadOriginalObject(ctx context.Context, id string) (Data, bool, error)
}

// Item is a single item being indexed or returned as a search result.
type Item struct {
	index        Index
	id           string
	datasourceID string
	rawID        string
	language     string

	original       Data
	originalLoaded bool

	fields          map[string]*field.Field
	fieldsExtracted bool

	score     float64
	boost     float64
	excerpt   string
	extraData map[string]any
}

// New returns an item for a combined ID. original may be nil.
func New(idx Index, id string, original *Data) *Item {
	ds, raw := field.SplitCombinedID(id)
	it := &Item{
		index:        idx,
		id:           id,
		datasourceID: ds,
		rawID:        raw,
		score:        1,
		boost:        1,
	}
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		it.language = raw[i+1:]
	}
	if original != nil {
		it.original = *original
		it.originalLoaded = true
	}
	return it
}

func (it *Item) ID() string           { return it.id }
func (it *Item) DatasourceID() string { return it.datasourceID }
func (it *Item) RawID() string        { return it.rawID }
func (it *Item) Index() Index         { return it.index }

// Language returns the item's langcode.
func (it *Item) Language() string { return it.language }

// SetLanguage overrides the langcode derived from the raw ID.
func (it *Item) SetLanguage(langcode string) { it.language = langcode }

// OriginalObject returns the source object, loading it on first use.
func (it *Item) OriginalObject(ctx context.Context) (Data, bool, error) {
	if it.originalLoaded {
		return it.original, it.original.Value != nil, nil
	}
	if it.index == nil {
		return Data{}, false, nil
	}
	d, ok, err := it.index.LoadOriginalObject(ctx, it.id)
	if err != nil {
		return Data{}, false, err
	}
	it.originalLoaded = true
	if ok {
		it.original = d
	}
	return it.original, ok, nil
}

// SetOriginalObject sets the source object.
func (it *Item) SetOriginalObject(d Data) {
	it.original = d
	it.originalLoaded = true
}

// Field returns a field of this item without triggering extraction.
func (it *Item) Field(id string) (*field.Field, bool) {
	if it.fields == nil {
		it.initFields()
	}
	f, ok := it.fields[id]
	return f, ok
}

// FieldsNoExtract returns the item's fields as they are.
func (it *Item) FieldsNoExtract() map[string]*field.Field {
	if it.fields == nil {
		it.initFields()
	}
	return it.fields
}

// Fields returns the item's fields, extracting their values on first use.
// Failure to load the source object leaves the fields empty.
func (it *Item) Fields(ctx context.Context) (map[string]*field.Field, error) {
	if it.fields == nil {
		it.initFields()
	}
	if it.fieldsExtracted {
		return it.fields, nil
	}
	it.fieldsExtracted = true

	byPath := make(map[string][]*field.Field)
	needProcessors := false
	for _, f := range it.fields {
		if f.DatasourceID != "" && f.DatasourceID != it.datasourceID {
			continue
		}
		first, _ := field.SplitPropertyPath(f.PropertyPath, false)
		if it.index != nil && it.index.IsProcessorProperty(f.DatasourceID, first) {
			needProcessors = true
			continue
		}
		if f.DatasourceID == "" {
			continue
		}
		byPath[f.PropertyPath] = append(byPath[f.PropertyPath], f)
	}

	if len(byPath) > 0 {
		obj, ok, err := it.OriginalObject(ctx)
		if err != nil {
			return it.fields, err
		}
		if ok {
			ExtractFields(obj, byPath, it.language)
		}
	}
	if needProcessors && it.index != nil {
		if err := it.index.AddPropertyValues(ctx, it); err != nil {
			return it.fields, err
		}
	}
	return it.fields, nil
}

// SetFields replaces the fields.
func (it *Item) SetFields(fields map[string]*field.Field) {
	it.fields = fields
}

// SetField replaces or adds a single field.
func (it *Item) SetField(f *field.Field) {
	if it.fields == nil {
		it.initFields()
	}
	it.fields[f.ID] = f
}

// FieldsExtracted reports whether field values have been extracted.
func (it *Item) FieldsExtracted() bool { return it.fieldsExtracted }

// SetFieldsExtracted marks the fields as extracted.
func (it *Item) SetFieldsExtracted(v bool) { it.fieldsExtracted = v }

func (it *Item) Score() float64      { return it.score }
func (it *Item) SetScore(s float64)  { it.score = s }
func (it *Item) Boost() float64      { return it.boost }
func (it *Item) SetBoost(b float64)  { it.boost = b }
func (it *Item) Excerpt() string     { return it.excerpt }
func (it *Item) SetExcerpt(e string) { it.excerpt = e }
func (it *Item) HasExtraData(k string) bool {
	_, ok := it.extraData[k]
	return ok
}

// ExtraData returns a stored extra value.
func (it *Item) ExtraData(key string) (any, bool) {
	v, ok := it.extraData[key]
	return v, ok
}

// SetExtraData stores a value under key.
func (it *Item) SetExtraData(key string, v any) {
	if it.extraData == nil {
		it.extraData = make(map[string]any)
	}
	it.extraData[key] = v
}

// AllExtraData returns a copy of the extra data.
func (it *Item) AllExtraData() map[string]any {
	out := make(map[string]any, len(it.extraData))
	for k, v := range it.extraData {
		out[k] = v
	}
	return out
}

// Clone returns a copy whose fields and values can be modified freely.
func (it *Item) Clone() *Item {
	c := *it
	if it.fields != nil {
		c.fields = make(map[string]*field.Field, len(it.fields))
		for id, f := range it.fields {
			c.fields[id] = f.Clone()
		}
	}
	if it.extraData != nil {
		c.extraData = it.AllExtraData()
	}
	return &c
}

func (it *Item) initFields() {
	if it.index != nil {
		it.fields = it.index.NewItemFields()
	}
	if it.fields == nil {
		it.fields = make(map[string]*field.Field)
	}
}

// CloneAll clones a batch of items.
func CloneAll(items []*Item) []*Item {
	out := make([]*Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// IDs returns the IDs of items in order.
func IDs(items []*Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

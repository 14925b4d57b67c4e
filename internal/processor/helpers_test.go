package processor

import (
	"context"
	"sort"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
)

type fakeIndex struct {
	fields      map[string]*field.Field
	datasources []string
	objects     map[string]item.Data
	chain       *Chain
}

func newFakeIndex(datasources ...string) *fakeIndex {
	return &fakeIndex{fields: map[string]*field.Field{}, datasources: datasources, objects: map[string]item.Data{}}
}

func (f *fakeIndex) addField(id, ds, path string, typ field.Type) *field.Field {
	fl := field.New("test", id)
	fl.DatasourceID = ds
	fl.PropertyPath = path
	fl.Type = typ
	f.fields[id] = fl
	return fl
}

func (f *fakeIndex) ID() string { return "test" }

func (f *fakeIndex) Fields() []*field.Field {
	out := make([]*field.Field, 0, len(f.fields))
	for _, id := range field.SortedIDs(f.fields) {
		out = append(out, f.fields[id])
	}
	return out
}

func (f *fakeIndex) Field(id string) (*field.Field, bool) {
	fl, ok := f.fields[id]
	return fl, ok
}

func (f *fakeIndex) FulltextFields() []string {
	var out []string
	for id, fl := range f.fields {
		if fl.IsFulltext() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeIndex) DatasourceIDs() []string { return f.datasources }

func (f *fakeIndex) EnsureField(ds, path string, typ field.Type) (*field.Field, error) {
	for _, fl := range f.fields {
		if fl.DatasourceID == ds && fl.PropertyPath == path {
			return fl, nil
		}
	}
	fl := f.addField(field.NewFieldID(f, path), ds, path, typ)
	fl.IndexedLocked = true
	return fl, nil
}

func (f *fakeIndex) ItemURL(_ context.Context, it *item.Item) (string, bool) {
	return "/node/" + it.RawID(), true
}

func (f *fakeIndex) NewItemFields() map[string]*field.Field {
	out := make(map[string]*field.Field, len(f.fields))
	for id, fl := range f.fields {
		out[id] = fl.Definition()
	}
	return out
}

func (f *fakeIndex) IsProcessorProperty(ds, prop string) bool {
	return f.chain != nil && f.chain.IsProcessorProperty(ds, prop)
}

func (f *fakeIndex) AddPropertyValues(ctx context.Context, it *item.Item) error {
	if f.chain == nil {
		return nil
	}
	return f.chain.AddFieldValues(ctx, it)
}

func (f *fakeIndex) LoadOriginalObject(_ context.Context, id string) (item.Data, bool, error) {
	d, ok := f.objects[id]
	return d, ok, nil
}

func (f *fakeIndex) newItem(id string, values map[string]any) *item.Item {
	obj := item.NewObject(nil, values)
	f.objects[id] = obj
	return item.New(f, id, nil)
}

func textValues(f *field.Field) []string {
	var out []string
	for _, v := range f.Values {
		switch tv := v.(type) {
		case *field.TextValue:
			out = append(out, tv.Text)
		case string:
			out = append(out, tv)
		}
	}
	return out
}

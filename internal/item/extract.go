package item

import (
	"context"

	"github.com/Aman-CERP/amansearch/internal/field"
)

// ExtractItemValues extracts raw values for arbitrary properties of items.
// required maps datasource IDs ("" for datasource-independent properties) to
// property paths and the keys the values are returned under. Values already
// present on an item are reused; datasource properties are extracted from
// the source object otherwise.
func ExtractItemValues(ctx context.Context, items []*Item, required map[string]map[string]string) ([]map[string][]any, error) {
	out := make([]map[string][]any, 0, len(items))
	for _, it := range items {
		extracted := make(map[string][]any)
		done := make(map[string]bool)

		for _, f := range it.FieldsNoExtract() {
			key, ok := required[f.DatasourceID][f.PropertyPath]
			if !ok || (!it.fieldsExtracted && len(f.Values) == 0) {
				continue
			}
			extracted[key] = append([]any(nil), f.Values...)
			done[key] = true
		}

		var pending map[string][]*field.Field
		for path, key := range required[it.datasourceID] {
			if done[key] {
				continue
			}
			if pending == nil {
				pending = make(map[string][]*field.Field)
			}
			pending[path] = append(pending[path], field.New("", key))
		}
		for _, key := range required[""] {
			if !done[key] {
				extracted[key] = nil
			}
		}

		if len(pending) > 0 {
			obj, ok, err := it.OriginalObject(ctx)
			if err != nil {
				return nil, err
			}
			if ok {
				ExtractFields(obj, pending, it.language)
			}
			for _, fs := range pending {
				for _, f := range fs {
					extracted[f.ID] = f.Values
				}
			}
		}
		out = append(out, extracted)
	}
	return out, nil
}

// Package processor implements the processor pipeline that alters items
// before indexing and queries and results around a search.
package processor

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// Stage is a point in the indexing or search flow where processors run.
type Stage string

// Processing stages.
const (
	StageAddProperties    Stage = "add_properties"
	StageAlterItems       Stage = "alter_items"
	StagePreIndexSave     Stage = "pre_index_save"
	StagePreprocessIndex  Stage = "preprocess_index"
	StagePreprocessQuery  Stage = "preprocess_query"
	StagePostprocessQuery Stage = "postprocess_query"
)

// Stages lists all stages in flow order.
func Stages() []Stage {
	return []Stage{StageAddProperties, StageAlterItems, StagePreIndexSave, StagePreprocessIndex, StagePreprocessQuery, StagePostprocessQuery}
}

// IsIndexTime reports whether the stage affects indexed data.
func (s Stage) IsIndexTime() bool {
	return s == StageAlterItems || s == StagePreprocessIndex
}

// Index is what processors need from the index they are attached to.
type Index interface {
	ID() string
	Fields() []*field.Field
	Field(id string) (*field.Field, bool)
	FulltextFields() []string
	DatasourceIDs() []string
	// EnsureField returns the field for a property, creating a locked one
	// when the index has none.
	EnsureField(datasourceID, propertyPath string, typ field.Type) (*field.Field, error)
	// ItemURL returns the URL of an item's source object.
	ItemURL(ctx context.Context, it *item.Item) (string, bool)
}

// Processor is the common interface; behavior comes from the optional
// stage interfaces below.
type Processor interface {
	ID() string
}

// PropertyProvider contributes properties and fills their values.
type PropertyProvider interface {
	Processor
	// PropertyDefinitions returns the properties provided for a datasource
	// ("" for datasource-independent ones).
	PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition
	AddFieldValues(ctx context.Context, it *item.Item) error
}

// ItemAlterer removes or rewrites items before indexing.
type ItemAlterer interface {
	Processor
	AlterIndexedItems(ctx context.Context, items []*item.Item) ([]*item.Item, error)
}

// IndexSaveHook adjusts the index before it is saved.
type IndexSaveHook interface {
	Processor
	PreIndexSave(idx Index) error
}

// IndexPreprocessor transforms extracted field values.
type IndexPreprocessor interface {
	Processor
	PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error)
}

// QueryPreprocessor rewrites a query before execution.
type QueryPreprocessor interface {
	Processor
	PreprocessSearchQuery(ctx context.Context, q *query.Query) error
}

// ResultPostprocessor rewrites results after execution.
type ResultPostprocessor interface {
	Processor
	PostprocessSearchResults(ctx context.Context, rs *query.ResultSet) error
}

// Deps are the collaborators handed to processor factories.
type Deps struct {
	Index  Index
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

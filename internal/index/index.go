// Package index ties datasources, processors, the tracker and a server's
// backend together into searchable indexes.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/datasource"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/processor"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/tracker"
)

// TrackerFactory creates the tracker of an index for an indexing order.
type TrackerFactory func(ctx context.Context, indexID, order string) (tracker.Tracker, error)

// Deps are the collaborators of an index.
type Deps struct {
	// Server holds the index data. Nil means the index has no server.
	Server *backend.Server

	// Servers resolves server IDs when the configured server changes.
	// Optional; without it the server cannot be switched on save.
	Servers func(id string) (*backend.Server, bool)

	// Datasources resolves the datasource IDs of the config (required).
	Datasources *datasource.Registry

	// Processors builds the processor chain (required).
	Processors *processor.Registry

	// Trackers creates the tracker (required).
	Trackers TrackerFactory

	// Fields creates fields and resolves data types. Defaults to the
	// default mapping and data types.
	Fields *field.Helper

	// Cache stores search results. Optional.
	Cache ResultCache

	Logger *slog.Logger
}

// Index is a configured search index.
type Index struct {
	mu sync.RWMutex

	cfg         Config
	saved       Config
	savedServer *backend.Server

	fields  map[string]*field.Field
	renames map[string]string
	chain   *processor.Chain
	tracker tracker.Tracker

	server      *backend.Server
	servers     func(id string) (*backend.Server, bool)
	datasources *datasource.Registry
	processors  *processor.Registry
	trackers    TrackerFactory
	helper      *field.Helper
	cache       ResultCache
	logger      *slog.Logger
}

var (
	_ backend.Index   = (*Index)(nil)
	_ processor.Index = (*Index)(nil)
)

// New builds an index from cfg. The processor chain runs its
// pre_index_save stage, which may add locked fields.
func New(ctx context.Context, cfg Config, deps Deps) (*Index, error) {
	if cfg.ID == "" {
		return nil, amanerrors.New(amanerrors.ErrCodeConfigInvalid, "index ID is required", nil)
	}
	if deps.Datasources == nil || deps.Processors == nil || deps.Trackers == nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInternal, "index dependencies are incomplete", nil)
	}
	if deps.Fields == nil {
		deps.Fields = field.NewHelper(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg = cfg.Clone()
	if cfg.Options.BatchSize <= 0 {
		cfg.Options.BatchSize = DefaultBatchSize
	}

	idx := &Index{
		cfg:         cfg,
		renames:     make(map[string]string),
		server:      deps.Server,
		servers:     deps.Servers,
		datasources: deps.Datasources,
		processors:  deps.Processors,
		trackers:    deps.Trackers,
		helper:      deps.Fields,
		cache:       deps.Cache,
		logger:      deps.Logger.With(slog.String("index", cfg.ID)),
	}
	for id := range cfg.Datasources {
		if _, err := deps.Datasources.Get(id); err != nil {
			return nil, amanerrors.Newf(amanerrors.ErrCodeUnknownDatasource, "The datasource with ID '%s' could not be retrieved for index '%s'.", id, cfg.ID)
		}
	}

	fields, err := idx.buildFields(cfg.Fields)
	if err != nil {
		return nil, err
	}
	idx.fields = fields

	chain, err := idx.buildChain(cfg.Processors)
	if err != nil {
		return nil, err
	}
	idx.chain = chain
	idx.resolveMultiValued()
	if err := chain.PreIndexSave(idx); err != nil {
		return nil, err
	}

	t, err := deps.Trackers(ctx, cfg.ID, cfg.Tracker.Order)
	if err != nil {
		return nil, err
	}
	idx.tracker = t
	idx.saved = idx.currentConfig()
	idx.savedServer = idx.server
	return idx, nil
}

func (idx *Index) buildFields(configs map[string]FieldConfig) (map[string]*field.Field, error) {
	fields := make(map[string]*field.Field, len(configs))
	for id, fc := range configs {
		if field.IsFieldIDReserved(id) {
			return nil, reservedError(id)
		}
		f, err := field.CreateField(idx, id, fc.Info())
		if err != nil {
			return nil, err
		}
		if err := idx.attachDataType(f); err != nil {
			return nil, err
		}
		fields[id] = f
	}
	return fields, nil
}

func (idx *Index) buildChain(configs map[string]ProcessorConfig) (*processor.Chain, error) {
	cc := make(map[string]processor.Config, len(configs))
	for id, pc := range configs {
		cc[id] = pc.chainConfig()
	}
	return processor.NewChain(idx.processors, processor.Deps{Index: idx, Logger: idx.logger}, cc)
}

// attachDataType resolves the field type against the server's backend.
func (idx *Index) attachDataType(f *field.Field) error {
	dt, stored, ok := idx.helper.DataTypes().Resolve(f.Type, idx.server.SupportsDataType)
	if !ok {
		return amanerrors.Newf(amanerrors.ErrCodeUnknownType, "Unknown field type '%s' of field '%s'.", f.Type, f.ID)
	}
	f.SetDataType(dt)
	f.SetStorageType(stored)
	return nil
}

// resolveMultiValued derives the multi-valued flag of every field from
// its property definition.
func (idx *Index) resolveMultiValued() {
	for _, f := range idx.fields {
		f.MultiValued = field.IsMultiValuedPath(idx.propertyDefinitions(f.DatasourceID), f.PropertyPath)
	}
}

// propertyDefinitions returns the datasource's properties plus those
// added by processors.
func (idx *Index) propertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	out := make(map[string]*field.PropertyDefinition)
	if datasourceID != "" {
		if ds, err := idx.datasources.Get(datasourceID); err == nil {
			for k, v := range ds.PropertyDefinitions() {
				out[k] = v
			}
		}
	}
	if idx.chain != nil {
		for k, v := range idx.chain.PropertyDefinitions(datasourceID) {
			out[k] = v
		}
	}
	return out
}

// PropertyDefinitions returns the properties fields can be created from.
func (idx *Index) PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.propertyDefinitions(datasourceID)
}

func (idx *Index) ID() string { return idx.cfg.ID }

func (idx *Index) Name() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cfg.Name
}

// Config returns a copy of the current configuration, including unsaved
// changes.
func (idx *Index) Config() Config {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.currentConfig()
}

func (idx *Index) currentConfig() Config {
	cfg := idx.cfg.Clone()
	cfg.Fields = make(map[string]FieldConfig, len(idx.fields))
	for id, f := range idx.fields {
		cfg.Fields[id] = FieldConfigOf(f)
	}
	return cfg
}

// Status reports whether the index is enabled.
func (idx *Index) Status() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cfg.Enabled
}

func (idx *Index) IsReadOnly() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.cfg.ReadOnly
}

// Server returns the index's server, which may be nil.
func (idx *Index) Server() *backend.Server {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.server
}

// Tracker returns the item tracker.
func (idx *Index) Tracker() tracker.Tracker {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tracker
}

// Processors returns the enabled processors.
func (idx *Index) Processors() []processor.Enabled {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.chain.Enabled()
}

func (idx *Index) IsValidProcessor(id string) bool {
	return idx.chain != nil && idx.chain.Has(id)
}

func (idx *Index) DatasourceIDs() []string {
	ids := make([]string, 0, len(idx.cfg.Datasources))
	for id := range idx.cfg.Datasources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (idx *Index) Field(id string) (*field.Field, bool) {
	f, ok := idx.fields[id]
	return f, ok
}

// Fields returns the fields sorted by ID.
func (idx *Index) Fields() []*field.Field {
	out := make([]*field.Field, 0, len(idx.fields))
	for _, id := range field.SortedIDs(idx.fields) {
		out = append(out, idx.fields[id])
	}
	return out
}

// FieldsByDatasource returns the fields of one datasource; "" selects the
// datasource-independent fields.
func (idx *Index) FieldsByDatasource(datasourceID string) []*field.Field {
	var out []*field.Field
	for _, f := range idx.Fields() {
		if f.DatasourceID == datasourceID {
			out = append(out, f)
		}
	}
	return out
}

func (idx *Index) FulltextFields() []string {
	var out []string
	for _, f := range idx.Fields() {
		if f.IsFulltext() {
			out = append(out, f.ID)
		}
	}
	return out
}

func (idx *Index) FieldRenames() map[string]string { return idx.renames }

func (idx *Index) NewItemFields() map[string]*field.Field {
	out := make(map[string]*field.Field, len(idx.fields))
	for id, f := range idx.fields {
		out[id] = f.Definition()
	}
	return out
}

func (idx *Index) IsProcessorProperty(datasourceID, property string) bool {
	return idx.chain != nil && idx.chain.IsProcessorProperty(datasourceID, property)
}

func (idx *Index) AddPropertyValues(ctx context.Context, it *item.Item) error {
	if idx.chain == nil {
		return nil
	}
	return idx.chain.AddFieldValues(ctx, it)
}

func (idx *Index) LoadOriginalObject(ctx context.Context, id string) (item.Data, bool, error) {
	dsID, raw := field.SplitCombinedID(id)
	ds, err := idx.datasources.Get(dsID)
	if err != nil {
		return item.Data{}, false, err
	}
	return ds.Load(ctx, raw)
}

// EnsureField returns the field indexing a property, adding a locked
// hidden field when there is none.
func (idx *Index) EnsureField(datasourceID, propertyPath string, typ field.Type) (*field.Field, error) {
	for _, f := range idx.Fields() {
		if f.DatasourceID == datasourceID && f.PropertyPath == propertyPath {
			return f, nil
		}
	}
	props := idx.propertyDefinitions(datasourceID)
	def, ok := field.RetrieveNestedProperty(props, propertyPath)
	if !ok {
		def = &field.PropertyDefinition{Name: propertyPath, Label: propertyPath}
	}
	f, err := idx.helper.CreateFieldFromProperty(idx, def, datasourceID, propertyPath, "", typ)
	if err != nil {
		return nil, err
	}
	f.IndexedLocked = true
	f.TypeLocked = true
	f.Hidden = true
	f.MultiValued = field.IsMultiValuedPath(props, propertyPath)
	if err := idx.attachDataType(f); err != nil {
		return nil, err
	}
	idx.fields[f.ID] = f
	idx.logger.Debug("index_field_ensured", slog.String("field", f.ID), slog.String("property", f.CombinedPropertyPath()))
	return f, nil
}

func (idx *Index) ItemURL(ctx context.Context, it *item.Item) (string, bool) {
	obj, ok, err := it.OriginalObject(ctx)
	if err != nil || !ok {
		return "", false
	}
	ds, err := idx.datasources.Get(it.DatasourceID())
	if err != nil {
		return "", false
	}
	return ds.ItemURL(obj)
}

// Query returns a new query on this index.
func (idx *Index) Query() *query.Query {
	return query.New(idx)
}

// isAvailable reports whether the index can write to its server.
func (idx *Index) isAvailable() bool {
	return idx.cfg.Enabled && idx.server.IsAvailable()
}

func (idx *Index) requireServer() error {
	if idx.server == nil {
		return amanerrors.Newf(amanerrors.ErrCodeNoServer, "Index '%s' has no server.", idx.cfg.ID)
	}
	if !idx.server.IsAvailable() {
		return amanerrors.Newf(amanerrors.ErrCodeBackendUnavailable, "The server '%s' of index '%s' is not available.", idx.server.ID(), idx.cfg.ID)
	}
	return nil
}

func reservedError(id string) error {
	return amanerrors.New(amanerrors.ErrCodeFieldReserved,
		fmt.Sprintf("'%s' is a reserved value and cannot be used as the machine name of a normal field.", id), nil)
}

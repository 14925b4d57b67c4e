package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// Config is the per-index configuration of one processor.
type Config struct {
	Weights  map[Stage]int
	Settings Settings
}

// Enabled is a configured processor instance within a chain.
type Enabled struct {
	Processor  Processor
	Descriptor Descriptor
	Config     Config
	order      int
}

// Weight returns the effective weight at stage.
func (e Enabled) Weight(s Stage) int {
	if w, ok := e.Config.Weights[s]; ok {
		return w
	}
	return e.Descriptor.Stages[s]
}

// Chain runs the enabled processors of an index stage by stage, ordered by
// weight and then registration order.
type Chain struct {
	enabled []Enabled
	logger  *slog.Logger
}

// NewChain builds the processors configured for an index. Locked
// processors are enabled even when not configured.
func NewChain(reg *Registry, deps Deps, configs map[string]Config) (*Chain, error) {
	c := &Chain{logger: deps.logger()}
	ids := make(map[string]bool, len(configs))
	for id := range configs {
		ids[id] = true
	}
	for _, d := range reg.Descriptors() {
		if d.Locked && (d.Supports == nil || deps.Index == nil || d.Supports(deps.Index)) {
			ids[d.ID] = true
		}
	}

	for id := range ids {
		d, ok := reg.Descriptor(id)
		if !ok {
			return nil, amanerrors.New(amanerrors.ErrCodeUnknownProcessor, fmt.Sprintf("unknown processor '%s'", id), nil)
		}
		if d.Supports != nil && deps.Index != nil && !d.Supports(deps.Index) {
			return nil, amanerrors.New(amanerrors.ErrCodeConfigInvalid,
				fmt.Sprintf("processor '%s' is not available for index '%s'", id, deps.Index.ID()), nil)
		}
		cfg := configs[id]
		p, err := reg.Build(id, deps, cfg.Settings)
		if err != nil {
			return nil, err
		}
		c.enabled = append(c.enabled, Enabled{Processor: p, Descriptor: d, Config: cfg, order: reg.order(id)})
	}
	sort.Slice(c.enabled, func(i, j int) bool { return c.enabled[i].order < c.enabled[j].order })
	return c, nil
}

// Enabled returns the enabled processors in registration order.
func (c *Chain) Enabled() []Enabled { return c.enabled }

// Has reports whether processor id is enabled.
func (c *Chain) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Get returns an enabled processor.
func (c *Chain) Get(id string) (Enabled, bool) {
	for _, e := range c.enabled {
		if e.Descriptor.ID == id {
			return e, true
		}
	}
	return Enabled{}, false
}

// ByStage returns the processors running at stage, sorted by weight.
func (c *Chain) ByStage(s Stage) []Enabled {
	var out []Enabled
	for _, e := range c.enabled {
		if e.Descriptor.SupportsStage(s) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Weight(s), out[j].Weight(s)
		if wi != wj {
			return wi < wj
		}
		return out[i].order < out[j].order
	})
	return out
}

// PropertyDefinitions returns the processor-provided properties for a
// datasource, tagged with the providing processor.
func (c *Chain) PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	out := make(map[string]*field.PropertyDefinition)
	for _, e := range c.ByStage(StageAddProperties) {
		pp, ok := e.Processor.(PropertyProvider)
		if !ok {
			continue
		}
		for name, def := range pp.PropertyDefinitions(datasourceID) {
			d := *def
			d.ProcessorID = e.Descriptor.ID
			out[name] = &d
		}
	}
	return out
}

// IsProcessorProperty reports whether a top-level property is provided by
// an enabled processor.
func (c *Chain) IsProcessorProperty(datasourceID, property string) bool {
	_, ok := c.PropertyDefinitions(datasourceID)[property]
	return ok
}

// AddFieldValues lets every property provider fill its fields on it.
func (c *Chain) AddFieldValues(ctx context.Context, it *item.Item) error {
	for _, e := range c.ByStage(StageAddProperties) {
		pp, ok := e.Processor.(PropertyProvider)
		if !ok {
			continue
		}
		if err := pp.AddFieldValues(ctx, it); err != nil {
			return fmt.Errorf("processor %s: %w", e.Descriptor.ID, err)
		}
	}
	return nil
}

// PreIndexSave runs the pre_index_save stage.
func (c *Chain) PreIndexSave(idx Index) error {
	for _, e := range c.ByStage(StagePreIndexSave) {
		h, ok := e.Processor.(IndexSaveHook)
		if !ok {
			continue
		}
		if err := h.PreIndexSave(idx); err != nil {
			return fmt.Errorf("processor %s: %w", e.Descriptor.ID, err)
		}
	}
	return nil
}

// AlterItems runs the alter_items stage. The input batch is not modified;
// the returned batch holds the surviving items.
func (c *Chain) AlterItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	stage := c.ByStage(StageAlterItems)
	if len(stage) == 0 {
		return append([]*item.Item(nil), items...), nil
	}
	out := append([]*item.Item(nil), items...)
	for _, e := range stage {
		a, ok := e.Processor.(ItemAlterer)
		if !ok {
			continue
		}
		var err error
		if out, err = a.AlterIndexedItems(ctx, out); err != nil {
			return nil, fmt.Errorf("processor %s: %w", e.Descriptor.ID, err)
		}
	}
	return out, nil
}

// PreprocessIndexItems runs the preprocess_index stage on copies of items.
func (c *Chain) PreprocessIndexItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	out := item.CloneAll(items)
	for _, e := range c.ByStage(StagePreprocessIndex) {
		p, ok := e.Processor.(IndexPreprocessor)
		if !ok {
			continue
		}
		var err error
		if out, err = p.PreprocessIndexItems(ctx, out); err != nil {
			return nil, fmt.Errorf("processor %s: %w", e.Descriptor.ID, err)
		}
	}
	return out, nil
}

// PreprocessQuery runs the preprocess_query stage. Processing level none
// skips all processors; basic runs only locked ones.
func (c *Chain) PreprocessQuery(ctx context.Context, q *query.Query) error {
	for _, e := range c.queryStage(StagePreprocessQuery, q) {
		p, ok := e.Processor.(QueryPreprocessor)
		if !ok {
			continue
		}
		if err := p.PreprocessSearchQuery(ctx, q); err != nil {
			return fmt.Errorf("processor %s: %w", e.Descriptor.ID, err)
		}
	}
	return nil
}

// PostprocessResults runs the postprocess_query stage.
func (c *Chain) PostprocessResults(ctx context.Context, rs *query.ResultSet) error {
	for _, e := range c.queryStage(StagePostprocessQuery, rs.Query()) {
		p, ok := e.Processor.(ResultPostprocessor)
		if !ok {
			continue
		}
		if err := p.PostprocessSearchResults(ctx, rs); err != nil {
			return fmt.Errorf("processor %s: %w", e.Descriptor.ID, err)
		}
	}
	return nil
}

func (c *Chain) queryStage(s Stage, q *query.Query) []Enabled {
	level := q.ProcessingLevel()
	if level == query.ProcessingNone {
		return nil
	}
	stage := c.ByStage(s)
	if level == query.ProcessingFull {
		return stage
	}
	var out []Enabled
	for _, e := range stage {
		if e.Descriptor.Locked {
			out = append(out, e)
		}
	}
	return out
}

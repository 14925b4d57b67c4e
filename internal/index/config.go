package index

import (
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amansearch/internal/datasource"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/processor"
	"github.com/Aman-CERP/amansearch/internal/tracker"
)

// Default index options.
const (
	DefaultCronLimit = 50
	DefaultBatchSize = 50
)

// Config is the stored configuration of an index.
type Config struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Enabled indexes track items and accept searches.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ReadOnly indexes can be searched but are never written to.
	ReadOnly bool `yaml:"read_only" json:"read_only"`

	// Server is the ID of the server holding the index data.
	Server string `yaml:"server" json:"server"`

	Datasources map[string]DatasourceConfig `yaml:"datasources" json:"datasources"`
	Fields      map[string]FieldConfig      `yaml:"fields,omitempty" json:"fields,omitempty"`
	Processors  map[string]ProcessorConfig  `yaml:"processors,omitempty" json:"processors,omitempty"`
	Tracker     TrackerConfig               `yaml:"tracker" json:"tracker"`
	Options     Options                     `yaml:"options" json:"options"`
}

// DatasourceConfig selects the bundles and languages of a datasource.
// A nil selection includes everything.
type DatasourceConfig struct {
	Bundles   *datasource.Selection `yaml:"bundles,omitempty" json:"bundles,omitempty"`
	Languages *datasource.Selection `yaml:"languages,omitempty" json:"languages,omitempty"`
	Options   map[string]any        `yaml:"options,omitempty" json:"options,omitempty"`
}

// Filter returns the item filter of the datasource.
func (c DatasourceConfig) Filter() datasource.Filter {
	f := datasource.AllowAll
	if c.Bundles != nil {
		f.Bundles = *c.Bundles
	}
	if c.Languages != nil {
		f.Languages = *c.Languages
	}
	return f
}

// FieldConfig is the stored form of a field.
type FieldConfig struct {
	Label         string         `yaml:"label,omitempty" json:"label,omitempty"`
	DatasourceID  string         `yaml:"datasource_id,omitempty" json:"datasource_id,omitempty"`
	PropertyPath  string         `yaml:"property_path" json:"property_path"`
	Type          field.Type     `yaml:"type" json:"type"`
	Boost         *float64       `yaml:"boost,omitempty" json:"boost,omitempty"`
	IndexedLocked bool           `yaml:"indexed_locked,omitempty" json:"indexed_locked,omitempty"`
	TypeLocked    bool           `yaml:"type_locked,omitempty" json:"type_locked,omitempty"`
	Hidden        bool           `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Configuration map[string]any `yaml:"configuration,omitempty" json:"configuration,omitempty"`
}

// Info returns the info map accepted by field.CreateField.
func (c FieldConfig) Info() map[string]any {
	info := map[string]any{
		"label":          c.Label,
		"datasource_id":  c.DatasourceID,
		"property_path":  c.PropertyPath,
		"type":           string(c.Type),
		"indexed_locked": c.IndexedLocked,
		"type_locked":    c.TypeLocked,
		"hidden":         c.Hidden,
	}
	if c.Boost != nil {
		info["boost"] = *c.Boost
	}
	if c.Configuration != nil {
		info["configuration"] = c.Configuration
	}
	return info
}

// FieldConfigOf returns the stored form of f.
func FieldConfigOf(f *field.Field) FieldConfig {
	c := FieldConfig{
		Label:         f.Label,
		DatasourceID:  f.DatasourceID,
		PropertyPath:  f.PropertyPath,
		Type:          f.Type,
		IndexedLocked: f.IndexedLocked,
		TypeLocked:    f.TypeLocked,
		Hidden:        f.Hidden,
		Configuration: f.Configuration,
	}
	if f.Boost != 1 {
		b := f.Boost
		c.Boost = &b
	}
	return c
}

// ProcessorConfig enables a processor with optional stage weights.
type ProcessorConfig struct {
	Weights  map[string]int `yaml:"weights,omitempty" json:"weights,omitempty"`
	Settings map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
}

func (c ProcessorConfig) chainConfig() processor.Config {
	weights := make(map[processor.Stage]int, len(c.Weights))
	for s, w := range c.Weights {
		weights[processor.Stage(s)] = w
	}
	return processor.Config{Weights: weights, Settings: processor.Settings(c.Settings)}
}

// TrackerConfig configures item tracking.
type TrackerConfig struct {
	// Order is fifo or lifo.
	Order string `yaml:"indexing_order,omitempty" json:"indexing_order,omitempty"`
}

// Options are the indexing options of an index.
type Options struct {
	// CronLimit is the number of items indexed per scheduled run; -1
	// indexes everything.
	CronLimit int `yaml:"cron_limit" json:"cron_limit"`

	// IndexDirectly indexes changed items as soon as they are reported.
	IndexDirectly bool `yaml:"index_directly" json:"index_directly"`

	// BatchSize is the number of items per runner step.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// NewConfig returns a config with default options.
func NewConfig(id string) Config {
	return Config{
		ID:          id,
		Name:        id,
		Enabled:     true,
		Datasources: make(map[string]DatasourceConfig),
		Fields:      make(map[string]FieldConfig),
		Processors:  make(map[string]ProcessorConfig),
		Tracker:     TrackerConfig{Order: tracker.OrderFIFO},
		Options:     DefaultOptions(),
	}
}

// DefaultOptions returns the indexing options of a new index.
func DefaultOptions() Options {
	return Options{CronLimit: DefaultCronLimit, IndexDirectly: true, BatchSize: DefaultBatchSize}
}

// UnmarshalYAML starts from DefaultOptions, so options left out of the
// file keep their defaults.
func (c *Config) UnmarshalYAML(n *yaml.Node) error {
	type plain Config
	p := plain{Options: DefaultOptions()}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.Datasources = make(map[string]DatasourceConfig, len(c.Datasources))
	for id, ds := range c.Datasources {
		d := ds
		if ds.Bundles != nil {
			b := cloneSelection(*ds.Bundles)
			d.Bundles = &b
		}
		if ds.Languages != nil {
			l := cloneSelection(*ds.Languages)
			d.Languages = &l
		}
		d.Options = cloneMap(ds.Options)
		out.Datasources[id] = d
	}
	out.Fields = make(map[string]FieldConfig, len(c.Fields))
	for id, f := range c.Fields {
		fc := f
		if f.Boost != nil {
			b := *f.Boost
			fc.Boost = &b
		}
		fc.Configuration = cloneMap(f.Configuration)
		out.Fields[id] = fc
	}
	out.Processors = make(map[string]ProcessorConfig, len(c.Processors))
	for id, p := range c.Processors {
		pc := ProcessorConfig{Settings: cloneMap(p.Settings)}
		if p.Weights != nil {
			pc.Weights = make(map[string]int, len(p.Weights))
			for s, w := range p.Weights {
				pc.Weights[s] = w
			}
		}
		out.Processors[id] = pc
	}
	return out
}

func cloneSelection(s datasource.Selection) datasource.Selection {
	return datasource.Selection{Default: s.Default, Selected: append([]string(nil), s.Selected...)}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

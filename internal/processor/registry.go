package processor

import (
	"fmt"
	"sort"
	"sync"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Descriptor describes a processor plugin.
type Descriptor struct {
	ID          string
	Label       string
	Description string
	// Stages maps supported stages to default weights.
	Stages map[Stage]int
	// Locked processors are always enabled.
	Locked bool
	// Hidden processors are not listed in user interfaces.
	Hidden bool
	// Supports reports whether the processor can be used on an index.
	Supports func(idx Index) bool
}

// SupportsStage reports whether the processor runs at stage.
func (d Descriptor) SupportsStage(s Stage) bool {
	_, ok := d.Stages[s]
	return ok
}

// HasIndexTimeStage reports whether the processor changes indexed data.
func (d Descriptor) HasIndexTimeStage() bool {
	for s := range d.Stages {
		if s.IsIndexTime() {
			return true
		}
	}
	return false
}

// RequiresReindexing reports whether a settings change invalidates indexed
// data.
func (d Descriptor) RequiresReindexing(old, next Settings) bool {
	if Settings(old).Equal(next) {
		return false
	}
	return d.HasIndexTimeStage()
}

// Factory builds a configured processor instance.
type Factory func(deps Deps, settings Settings) (Processor, error)

type registration struct {
	desc    Descriptor
	factory Factory
	order   int
}

// Registry maps processor IDs to their descriptors and factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register adds a processor plugin.
func (r *Registry) Register(d Descriptor, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.ID]; ok {
		return amanerrors.New(amanerrors.ErrCodeInternal, fmt.Sprintf("processor %q registered twice", d.ID), nil)
	}
	r.entries[d.ID] = &registration{desc: d, factory: f, order: len(r.entries)}
	return nil
}

// Descriptor returns the descriptor for id.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := make([]*registration, 0, len(r.entries))
	for _, e := range r.entries {
		regs = append(regs, e)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].order < regs[j].order })
	out := make([]Descriptor, len(regs))
	for i, e := range regs {
		out[i] = e.desc
	}
	return out
}

// Build instantiates processor id.
func (r *Registry) Build(id string, deps Deps, settings Settings) (Processor, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, amanerrors.New(amanerrors.ErrCodeUnknownProcessor, fmt.Sprintf("unknown processor '%s'", id), nil)
	}
	if settings == nil {
		settings = Settings{}
	}
	return e.factory(deps, settings)
}

func (r *Registry) order(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.order
	}
	return len(r.entries)
}

// DefaultRegistry returns a registry with all built-in processors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtins() {
		if err := r.Register(p.desc, p.factory); err != nil {
			panic(err)
		}
	}
	return r
}

type builtin struct {
	desc    Descriptor
	factory Factory
}

func builtins() []builtin {
	return []builtin{
		{addURLDescriptor(), newAddURL},
		{aggregatedFieldDescriptor(), newAggregatedField},
		{contentAccessDescriptor(), newContentAccess},
		{entityStatusDescriptor(), newEntityStatus},
		{roleFilterDescriptor(), newRoleFilter},
		{languageWithFallbackDescriptor(), newLanguageWithFallback},
		{htmlFilterDescriptor(), newHTMLFilter},
		{ignoreCaseDescriptor(), newIgnoreCase},
		{transliterationDescriptor(), newTransliteration},
		{tokenizerDescriptor(), newTokenizer},
		{stopwordsDescriptor(), newStopwords},
		{highlightDescriptor(), newHighlight},
	}
}

package field

import "strings"

// PropertyDefinition describes one property of a source object. Complex
// properties carry nested definitions; references to other objects are
// modeled the same way.
type PropertyDefinition struct {
	Name         string                         `json:"name" yaml:"name"`
	Label        string                         `json:"label" yaml:"label"`
	Description  string                         `json:"description,omitempty" yaml:"description,omitempty"`
	DataType     string                         `json:"type" yaml:"type"`
	List         bool                           `json:"list,omitempty" yaml:"list,omitempty"`
	Properties   map[string]*PropertyDefinition `json:"properties,omitempty" yaml:"properties,omitempty"`
	MainProperty string                         `json:"main_property,omitempty" yaml:"main_property,omitempty"`
	Hidden       bool                           `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Computed     bool                           `json:"computed,omitempty" yaml:"computed,omitempty"`

	// ProcessorID names the processor providing this property, if any.
	ProcessorID string `json:"processor_id,omitempty" yaml:"-"`
}

// IsComplex reports whether the property has nested properties.
func (p *PropertyDefinition) IsComplex() bool {
	return len(p.Properties) > 0
}

// Property returns a direct child definition.
func (p *PropertyDefinition) Property(name string) (*PropertyDefinition, bool) {
	if p == nil || p.Properties == nil {
		return nil, false
	}
	c, ok := p.Properties[name]
	return c, ok
}

// Item returns the definition of a single list element.
func (p *PropertyDefinition) Item() *PropertyDefinition {
	if !p.List {
		return p
	}
	c := *p
	c.List = false
	return &c
}

// MainPropertyDefinition returns the definition of the main property for
// complex properties, or p itself.
func (p *PropertyDefinition) MainPropertyDefinition() *PropertyDefinition {
	if p.IsComplex() && p.MainProperty != "" {
		if c, ok := p.Properties[p.MainProperty]; ok {
			return c.MainPropertyDefinition()
		}
	}
	return p
}

// RetrieveNestedProperty walks a ":"-separated path through props.
func RetrieveNestedProperty(props map[string]*PropertyDefinition, path string) (*PropertyDefinition, bool) {
	key, rest := SplitPropertyPath(path, false)
	def, ok := props[key]
	if !ok {
		return nil, false
	}
	if rest == "" {
		return def, true
	}
	return RetrieveNestedProperty(def.Properties, rest)
}

// IsMultiValuedPath reports whether any definition along path is a list.
func IsMultiValuedPath(props map[string]*PropertyDefinition, path string) bool {
	parts := strings.Split(path, PropertySeparator)
	cur := props
	for _, part := range parts {
		def, ok := cur[part]
		if !ok {
			return false
		}
		if def.List {
			return true
		}
		cur = def.Properties
	}
	return false
}

package query

import (
	"fmt"
	"strings"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Operator is a condition comparison operator.
type Operator string

// Supported operators.
const (
	OpEqual      Operator = "="
	OpNotEqual   Operator = "<>"
	OpLess       Operator = "<"
	OpLessEq     Operator = "<="
	OpGreater    Operator = ">"
	OpGreaterEq  Operator = ">="
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpBetween    Operator = "BETWEEN"
	OpNotBetween Operator = "NOT BETWEEN"
)

// ParseOperator normalizes and validates an operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToUpper(strings.TrimSpace(s)))
	if op == "" {
		return OpEqual, nil
	}
	if op == "!=" {
		op = OpNotEqual
	}
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEq, OpGreater, OpGreaterEq, OpIn, OpNotIn, OpBetween, OpNotBetween:
		return op, nil
	}
	return "", amanerrors.New(amanerrors.ErrCodeInvalidOperator, fmt.Sprintf("unknown operator %q", s), nil)
}

// IsNegated reports whether the operator excludes matches.
func (o Operator) IsNegated() bool {
	return o == OpNotEqual || o == OpNotIn || o == OpNotBetween
}

// TakesList reports whether the operator expects a list value.
func (o Operator) TakesList() bool {
	return o == OpIn || o == OpNotIn || o == OpBetween || o == OpNotBetween
}

// Node is a condition or a condition group.
type Node interface {
	clone() Node
}

// Condition compares a field with a value.
type Condition struct {
	Field    string
	Value    any
	Operator Operator
}

func (c *Condition) clone() Node {
	cc := *c
	if list, ok := c.Value.([]any); ok {
		cc.Value = append([]any(nil), list...)
	}
	return &cc
}

// Values returns the condition value as a list.
func (c *Condition) Values() []any {
	switch v := c.Value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}

// Validate checks value arity against the operator.
func (c *Condition) Validate() error {
	if c.Operator.TakesList() {
		n := len(c.Values())
		if (c.Operator == OpBetween || c.Operator == OpNotBetween) && n != 2 {
			return amanerrors.New(amanerrors.ErrCodeInvalidValue,
				fmt.Sprintf("operator %s on field '%s' needs exactly two values", c.Operator, c.Field), nil)
		}
		if n == 0 {
			return amanerrors.New(amanerrors.ErrCodeInvalidValue,
				fmt.Sprintf("operator %s on field '%s' needs at least one value", c.Operator, c.Field), nil)
		}
	}
	return nil
}

// ConditionGroup combines conditions and nested groups.
type ConditionGroup struct {
	Conjunction string
	Conditions  []Node
	Tags        []string
}

// NewConditionGroup returns an empty group.
func NewConditionGroup(conjunction string, tags ...string) *ConditionGroup {
	return &ConditionGroup{Conjunction: normalizeConjunction(conjunction), Tags: tags}
}

func (g *ConditionGroup) clone() Node { return g.Clone() }

// Clone returns a deep copy.
func (g *ConditionGroup) Clone() *ConditionGroup {
	if g == nil {
		return nil
	}
	c := &ConditionGroup{
		Conjunction: g.Conjunction,
		Tags:        append([]string(nil), g.Tags...),
		Conditions:  make([]Node, len(g.Conditions)),
	}
	for i, n := range g.Conditions {
		c.Conditions[i] = n.clone()
	}
	return c
}

// AddCondition appends a condition. op defaults to "=".
func (g *ConditionGroup) AddCondition(fieldID string, value any, op ...Operator) *ConditionGroup {
	o := OpEqual
	if len(op) > 0 && op[0] != "" {
		o = op[0]
	}
	g.Conditions = append(g.Conditions, &Condition{Field: fieldID, Value: value, Operator: o})
	return g
}

// AddGroup appends a nested group.
func (g *ConditionGroup) AddGroup(sub *ConditionGroup) *ConditionGroup {
	g.Conditions = append(g.Conditions, sub)
	return g
}

// HasTag reports whether the group carries tag.
func (g *ConditionGroup) HasTag(tag string) bool {
	for _, t := range g.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the group holds no conditions.
func (g *ConditionGroup) IsEmpty() bool {
	return g == nil || len(g.Conditions) == 0
}

// RemoveTagged returns a copy without nested groups tagged tag.
func (g *ConditionGroup) RemoveTagged(tag string) *ConditionGroup {
	c := &ConditionGroup{Conjunction: g.Conjunction, Tags: append([]string(nil), g.Tags...)}
	for _, n := range g.Conditions {
		if sub, ok := n.(*ConditionGroup); ok {
			if sub.HasTag(tag) {
				continue
			}
			c.Conditions = append(c.Conditions, sub.RemoveTagged(tag))
			continue
		}
		c.Conditions = append(c.Conditions, n.clone())
	}
	return c
}

// Walk calls fn for every condition in the tree.
func (g *ConditionGroup) Walk(fn func(*Condition)) {
	if g == nil {
		return
	}
	for _, n := range g.Conditions {
		switch v := n.(type) {
		case *Condition:
			fn(v)
		case *ConditionGroup:
			v.Walk(fn)
		}
	}
}

package plan

import (
	"sort"

	"github.com/BaSui01/planflow/dynamic"
)

// Built-in artefact types understood by the engine.
const (
	TypeSequence = "sequence"
	TypeEcho     = "echo"
	TypeSet      = "set"
	TypeCheck    = "check"
	TypeFor      = "for"
	TypeParallel = "parallel"
	TypeCallPlan = "callPlan"
	TypeSleep    = "sleep"
)

// Artefact is one node of a plan tree. Attributes may be literal or dynamic;
// they are resolved against the current bindings right before the node runs.
type Artefact struct {
	ID         string                         `json:"id" yaml:"id"`
	Name       string                         `json:"name,omitempty" yaml:"name,omitempty"`
	Type       string                         `json:"type" yaml:"type"`
	Attributes map[string]*dynamic.Value[any] `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// Selector locates the referenced plan of an indirection.
	Selector dynamic.Document `json:"selector,omitempty" yaml:"selector,omitempty"`
	Before   []*Artefact      `json:"before,omitempty" yaml:"before,omitempty"`
	Children []*Artefact      `json:"children,omitempty" yaml:"children,omitempty"`
	After    []*Artefact      `json:"after,omitempty" yaml:"after,omitempty"`
}

// IsIndirection reports whether the artefact refers to another plan.
func (a *Artefact) IsIndirection() bool {
	return a.Type == TypeCallPlan
}

// DisplayName returns Name, or ID when the artefact is unnamed.
func (a *Artefact) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Attribute returns the named attribute slot, or nil.
func (a *Artefact) Attribute(name string) *dynamic.Value[any] {
	if a.Attributes == nil {
		return nil
	}
	return a.Attributes[name]
}

// SetAttribute stores a literal attribute.
func (a *Artefact) SetAttribute(name string, value any) *Artefact {
	if a.Attributes == nil {
		a.Attributes = make(map[string]*dynamic.Value[any])
	}
	a.Attributes[name] = dynamic.NewValue(value)
	return a
}

// SetExpression stores a dynamic attribute.
func (a *Artefact) SetExpression(name, expression, language string) *Artefact {
	if a.Attributes == nil {
		a.Attributes = make(map[string]*dynamic.Value[any])
	}
	a.Attributes[name] = dynamic.NewExpression[any](expression, language)
	return a
}

// AttributeNames returns the attribute names in sorted order.
func (a *Artefact) AttributeNames() []string {
	names := make([]string, 0, len(a.Attributes))
	for name := range a.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DynamicFields implements dynamic.HasDynamicFields. Children are not
// included; each child is resolved when it runs.
func (a *Artefact) DynamicFields() []dynamic.Resolvable {
	names := a.AttributeNames()
	fields := make([]dynamic.Resolvable, 0, len(names))
	for _, name := range names {
		fields = append(fields, a.Attributes[name])
	}
	return fields
}

// Clone returns a deep copy with unevaluated attributes, so one plan
// definition can run many times.
func (a *Artefact) Clone() *Artefact {
	if a == nil {
		return nil
	}
	c := a.shallowClone()
	c.Before = cloneAll(a.Before)
	c.Children = cloneAll(a.Children)
	c.After = cloneAll(a.After)
	return c
}

// Snapshot returns a copy without any child lists.
func (a *Artefact) Snapshot() *Artefact {
	if a == nil {
		return nil
	}
	return a.shallowClone()
}

func (a *Artefact) shallowClone() *Artefact {
	c := &Artefact{
		ID:       a.ID,
		Name:     a.Name,
		Type:     a.Type,
		Selector: a.Selector,
	}
	if a.Attributes != nil {
		c.Attributes = make(map[string]*dynamic.Value[any], len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = v.Clone()
		}
	}
	return c
}

func cloneAll(in []*Artefact) []*Artefact {
	if in == nil {
		return nil
	}
	out := make([]*Artefact, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// Walk visits a and its descendants depth first: before, children, after.
func (a *Artefact) Walk(visit func(*Artefact) error) error {
	if err := visit(a); err != nil {
		return err
	}
	for _, list := range [][]*Artefact{a.Before, a.Children, a.After} {
		for _, child := range list {
			if err := child.Walk(visit); err != nil {
				return err
			}
		}
	}
	return nil
}

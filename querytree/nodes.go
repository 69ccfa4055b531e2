package querytree

// Null evaluates to the JSON null value.
type Null struct{}

// NullValue is the shared Null instance. Passes that erase a subtree
// substitute NullValue rather than allocating.
var NullValue = &Null{}

func (n *Null) Children() []Node                 { return nil }
func (n *Null) mapChildren(func(Node) Node) Node { return n }

// Literal evaluates to its embedded value. Value holds JSON-shaped data:
// nil, bool, float64, int64, string, []any or map[string]any.
type Literal struct {
	Value any
}

// Lit returns a Literal wrapping v.
func Lit(v any) *Literal { return &Literal{Value: v} }

func (n *Literal) Children() []Node                 { return nil }
func (n *Literal) mapChildren(func(Node) Node) Node { return n }

// PropertySpec names one property of an Object. Property order is
// significant for dumps and for merge precedence, not for lookup.
type PropertySpec struct {
	Name  string
	Value Node
}

// Object evaluates to a JSON-like object with the given properties. A name
// occurring twice is not rejected; evaluation keeps the later value.
type Object struct {
	Properties []PropertySpec
}

// EmptyObject is the shared empty Object. Builders use it for root
// placeholders that must never evaluate to null.
var EmptyObject = &Object{}

// Obj constructs an Object from name/value pairs in the given order.
func Obj(props ...PropertySpec) *Object { return &Object{Properties: props} }

// Prop constructs a single PropertySpec.
func Prop(name string, value Node) PropertySpec { return PropertySpec{Name: name, Value: value} }

func (n *Object) Children() []Node {
	if len(n.Properties) == 0 {
		return nil
	}
	ch := make([]Node, len(n.Properties))
	for i, p := range n.Properties {
		ch[i] = p.Value
	}
	return ch
}

func (n *Object) mapChildren(fn func(Node) Node) Node {
	var props []PropertySpec
	for i, p := range n.Properties {
		v := fn(p.Value)
		if props == nil {
			if v == p.Value {
				continue
			}
			props = make([]PropertySpec, len(n.Properties))
			copy(props, n.Properties[:i])
		}
		props[i] = PropertySpec{Name: p.Name, Value: v}
	}
	if props == nil {
		return n
	}
	return &Object{Properties: props}
}

// PropertyRemoval is the merge sentinel. An input of MergeObjects that maps
// a property to RemoveProperty deletes that property from the merged result,
// which is distinct from setting it to JSON null.
type PropertyRemoval struct{}

// RemoveProperty is the shared PropertyRemoval instance.
var RemoveProperty = &PropertyRemoval{}

func (n *PropertyRemoval) Children() []Node                 { return nil }
func (n *PropertyRemoval) mapChildren(func(Node) Node) Node { return n }

// MergeObjects evaluates each input to an object and merges their top-level
// properties. The merge is non-recursive: when two inputs produce the same
// property name, the later input's value wholly replaces the earlier one,
// even if both are objects. An input evaluating to null contributes nothing.
type MergeObjects struct {
	Inputs []Node
}

func (n *MergeObjects) Children() []Node { return n.Inputs }

func (n *MergeObjects) mapChildren(fn func(Node) Node) Node {
	in, changed := mapNodes(n.Inputs, fn)
	if !changed {
		return n
	}
	return &MergeObjects{Inputs: in}
}

// List evaluates to a list of the item values in order.
type List struct {
	Items []Node
}

func (n *List) Children() []Node { return n.Items }

func (n *List) mapChildren(fn func(Node) Node) Node {
	items, changed := mapNodes(n.Items, fn)
	if !changed {
		return n
	}
	return &List{Items: items}
}

// Variable is a binding introduced by an enclosing node, typically the item
// of a TransformList. A Variable is referenced by inserting the same pointer
// wherever the bound value is consumed: identity is the pointer, and two
// Variables with equal labels are still distinct bindings. The label only
// serves dumps.
type Variable struct {
	Label string
}

// NewVariable returns a fresh binding with the given dump label.
func NewVariable(label string) *Variable { return &Variable{Label: label} }

func (n *Variable) Children() []Node                 { return nil }
func (n *Variable) mapChildren(func(Node) Node) Node { return n }

// Conditional evaluates Cond and then exactly one branch. A nil Else
// evaluates to null when Cond is false. Cond follows JSON truthiness: false,
// null, 0 and "" are false, everything else is true.
type Conditional struct {
	Cond Node
	Then Node
	Else Node
}

func (n *Conditional) Children() []Node {
	ch := []Node{n.Cond, n.Then}
	if n.Else != nil {
		ch = append(ch, n.Else)
	}
	return ch
}

func (n *Conditional) mapChildren(fn func(Node) Node) Node {
	cond, then := fn(n.Cond), fn(n.Then)
	var els Node
	if n.Else != nil {
		els = fn(n.Else)
	}
	if cond == n.Cond && then == n.Then && els == n.Else {
		return n
	}
	return &Conditional{Cond: cond, Then: then, Else: els}
}

// FieldAccess evaluates Object and reads one field from it. EntityType names
// the declared type the field belongs to when the object is an entity; it is
// empty for plain object access. Reading a missing field or a field of null
// yields null.
type FieldAccess struct {
	Object     Node
	EntityType string
	Field      string
}

func (n *FieldAccess) Children() []Node { return []Node{n.Object} }

func (n *FieldAccess) mapChildren(fn func(Node) Node) Node {
	obj := fn(n.Object)
	if obj == n.Object {
		return n
	}
	return &FieldAccess{Object: obj, EntityType: n.EntityType, Field: n.Field}
}

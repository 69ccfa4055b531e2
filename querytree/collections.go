package querytree

// Entities evaluates to the full collection of entities of one declared
// type, in the backend's storage order. It is never statically reducible.
type Entities struct {
	EntityType string
}

func (n *Entities) Children() []Node                 { return nil }
func (n *Entities) mapChildren(func(Node) Node) Node { return n }

// ReferenceLookup evaluates to the entity of the given type whose key field
// equals Key, or null when no entity matches. Never statically reducible.
type ReferenceLookup struct {
	EntityType string
	Key        Node
}

func (n *ReferenceLookup) Children() []Node { return []Node{n.Key} }

func (n *ReferenceLookup) mapChildren(fn func(Node) Node) Node {
	key := fn(n.Key)
	if key == n.Key {
		return n
	}
	return &ReferenceLookup{EntityType: n.EntityType, Key: key}
}

// FirstOf evaluates Source to a list and yields its first item, or null for
// an empty list.
type FirstOf struct {
	Source Node
}

func (n *FirstOf) Children() []Node { return []Node{n.Source} }

func (n *FirstOf) mapChildren(fn func(Node) Node) Node {
	src := fn(n.Source)
	if src == n.Source {
		return n
	}
	return &FirstOf{Source: src}
}

// OrderTerm is one ordering criterion of a TransformList. Key is an
// expression over the list's item variable.
type OrderTerm struct {
	Key  Node
	Desc bool
}

// TransformList binds ItemVar over each element of Source and produces a new
// list by filtering, ordering, windowing and projecting:
//
//	filter  keep items for which Filter is true; nil keeps everything
//	order   stable sort by OrderBy, first term most significant
//	window  drop Skip items, then cut to Limit items (Limit < 0: no cut)
//	project yield Projection per item; nil yields the item itself
//
// ItemVar is a binder, not a child: rewriting passes leave it as the same
// pointer so that references inside Filter, OrderBy and Projection stay
// bound.
type TransformList struct {
	Source     Node
	ItemVar    *Variable
	Filter     Node
	OrderBy    []OrderTerm
	Skip       int
	Limit      int
	Projection Node
}

// NewTransformList returns an unfiltered, unordered, unwindowed transform of
// source, binding item. Callers fill in the remaining fields before use.
func NewTransformList(source Node, item *Variable) *TransformList {
	return &TransformList{Source: source, ItemVar: item, Limit: -1}
}

func (n *TransformList) Children() []Node {
	ch := []Node{n.Source}
	if n.Filter != nil {
		ch = append(ch, n.Filter)
	}
	for _, t := range n.OrderBy {
		ch = append(ch, t.Key)
	}
	if n.Projection != nil {
		ch = append(ch, n.Projection)
	}
	return ch
}

func (n *TransformList) mapChildren(fn func(Node) Node) Node {
	src := fn(n.Source)
	var filter Node
	if n.Filter != nil {
		filter = fn(n.Filter)
	}
	var proj Node
	if n.Projection != nil {
		proj = fn(n.Projection)
	}
	var order []OrderTerm
	for i, t := range n.OrderBy {
		k := fn(t.Key)
		if order == nil {
			if k == t.Key {
				continue
			}
			order = make([]OrderTerm, len(n.OrderBy))
			copy(order, n.OrderBy[:i])
		}
		order[i] = OrderTerm{Key: k, Desc: t.Desc}
	}
	if src == n.Source && filter == n.Filter && proj == n.Projection && order == nil {
		return n
	}
	if order == nil {
		order = n.OrderBy
	}
	cp := *n
	cp.Source = src
	cp.Filter = filter
	cp.OrderBy = order
	cp.Projection = proj
	return &cp
}

// Package querytree defines the intermediate representation that stillsuit
// lowers operations into before handing them to a storage backend.
//
// A tree is built once per request and then threaded by value through a fixed
// sequence of passes (search tokenization, authorization, static evaluation).
// Nodes are immutable: a pass never modifies a node in place, it produces a
// replacement node whose untouched children are shared with the input tree.
// Passes special-case the node kinds they transform and recurse generically
// into everything else via MapChildren, which returns the original node when
// no child changed.
//
// The node set is closed. Every variant lives in this package and implements
// the unexported parts of Node, so an exhaustive type switch over the
// exported node types covers every tree a builder can produce.
package querytree

// Node is one node of a query tree.
//
// Implementations are value-like: treat every field as read-only after
// construction. Two nodes are interchangeable when they are structurally
// equal; pointer identity is only significant for Variable, which is its own
// binding.
type Node interface {
	// Children returns the direct child nodes in evaluation order. The
	// returned slice must not be modified.
	Children() []Node

	// mapChildren rebuilds the node with fn applied to each direct child.
	// The receiver itself is returned when fn leaves every child identical.
	mapChildren(fn func(Node) Node) Node

	// dump renders the node into d. See Dump.
	dump(d *dumper)
}

// MapChildren applies fn to each direct child of n and returns a node
// carrying the results. When fn returns every child unchanged (pointer
// equality), n itself is returned, so an untouched subtree is shared rather
// than copied. fn is not applied recursively; passes that rewrite whole
// trees call MapChildren from their own recursive function.
func MapChildren(n Node, fn func(Node) Node) Node {
	return n.mapChildren(fn)
}

// Walk visits n and every node below it in depth-first preorder. When fn
// returns false the children of that node are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// Rewrite replaces nodes bottom-up: children first, then fn on the rebuilt
// parent. Subtrees that fn leaves alone are shared with the input.
func Rewrite(n Node, fn func(Node) Node) Node {
	return fn(MapChildren(n, func(c Node) Node {
		return Rewrite(c, fn)
	}))
}

// mapNodes applies fn to every node of ns. It reports whether anything
// changed; when nothing did, ns itself is returned.
func mapNodes(ns []Node, fn func(Node) Node) ([]Node, bool) {
	var out []Node
	for i, n := range ns {
		m := fn(n)
		if out == nil {
			if m == n {
				continue
			}
			out = make([]Node, len(ns))
			copy(out, ns[:i])
		}
		out[i] = m
	}
	if out == nil {
		return ns, false
	}
	return out, true
}

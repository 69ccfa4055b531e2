package querytree

// CreateEntity writes a new entity of the given type. Input must evaluate
// to an object; the stored document is that object with the backend's key
// assignment applied. The node evaluates to the stored document. Mutations
// depend on the backend and are never statically reducible.
type CreateEntity struct {
	EntityType string
	Input      Node
}

func (n *CreateEntity) Children() []Node { return []Node{n.Input} }

func (n *CreateEntity) mapChildren(fn func(Node) Node) Node {
	in := fn(n.Input)
	if in == n.Input {
		return n
	}
	return &CreateEntity{EntityType: n.EntityType, Input: in}
}

// UpdateEntity patches the entity with the given key. Input evaluates to an
// object whose properties overwrite the stored document's top-level
// properties, later-wins and non-recursive, with RemoveProperty deleting.
// The node evaluates to the patched document, or null when no entity has
// the key.
type UpdateEntity struct {
	EntityType string
	Key        Node
	Input      Node
}

func (n *UpdateEntity) Children() []Node { return []Node{n.Key, n.Input} }

func (n *UpdateEntity) mapChildren(fn func(Node) Node) Node {
	key, in := fn(n.Key), fn(n.Input)
	if key == n.Key && in == n.Input {
		return n
	}
	return &UpdateEntity{EntityType: n.EntityType, Key: key, Input: in}
}

// DeleteEntity removes the entity with the given key. It evaluates to the
// removed document, or null when no entity has the key.
type DeleteEntity struct {
	EntityType string
	Key        Node
}

func (n *DeleteEntity) Children() []Node { return []Node{n.Key} }

func (n *DeleteEntity) mapChildren(fn func(Node) Node) Node {
	key := fn(n.Key)
	if key == n.Key {
		return n
	}
	return &DeleteEntity{EntityType: n.EntityType, Key: key}
}

// IsMutation reports whether n itself is a write node. It does not descend
// into children.
func IsMutation(n Node) bool {
	switch n.(type) {
	case *CreateEntity, *UpdateEntity, *DeleteEntity:
		return true
	}
	return false
}

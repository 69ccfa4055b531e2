package querytree

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTokenization is returned by Expand when the resolved
	// tokenization list has no entry for the node's expression and
	// language. It means the collect phase did not run over this tree
	// before expansion, which is a pipeline ordering bug in the caller.
	ErrMissingTokenization = errors.New("querytree: no tokenization resolved for expression")

	// ErrUnexpandedSearch is returned when evaluation or backend
	// execution reaches a FlexSearch placeholder. Trees must pass
	// through tokenization expansion before they are executed.
	ErrUnexpandedSearch = errors.New("querytree: unexpanded search operator in tree")
)

// TokenizeRequest names one search expression awaiting backend
// tokenization.
type TokenizeRequest struct {
	Expression string
	Language   string
}

// Tokenization is the backend's answer for one TokenizeRequest.
type Tokenization struct {
	Expression string
	Language   string
	Tokens     []string
}

// FlexSearch is the unexpanded placeholder for a free-text search predicate
// over one list item. It carries the raw expression and target language and
// cannot be evaluated or executed: the tokenization pass must replace it,
// via Expand, with a SearchMatch carrying backend-resolved tokens.
type FlexSearch struct {
	Item       Node
	EntityType string
	Fields     []string
	Expression string
	Language   string
}

// Request returns the tokenization request this node contributes to the
// collect phase.
func (n *FlexSearch) Request() TokenizeRequest {
	return TokenizeRequest{Expression: n.Expression, Language: n.Language}
}

// Expand replaces the placeholder with a SearchMatch carrying resolved
// tokens. The full resolution list is passed in, not a single entry: an
// expansion may consult entries collected from sibling operators, and each
// node locates its own entry by expression and language. Expanding with a
// list that lacks the node's entry fails with ErrMissingTokenization.
func (n *FlexSearch) Expand(resolved []Tokenization) (Node, error) {
	for _, t := range resolved {
		if t.Expression == n.Expression && t.Language == n.Language {
			return &SearchMatch{
				Item:       n.Item,
				EntityType: n.EntityType,
				Fields:     n.Fields,
				Language:   n.Language,
				Tokens:     t.Tokens,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (%s)", ErrMissingTokenization, n.Expression, n.Language)
}

func (n *FlexSearch) Children() []Node { return []Node{n.Item} }

func (n *FlexSearch) mapChildren(fn func(Node) Node) Node {
	item := fn(n.Item)
	if item == n.Item {
		return n
	}
	cp := *n
	cp.Item = item
	return &cp
}

// SearchMatch is the expanded form of FlexSearch: a predicate that is true
// when every token occurs in at least one of the named fields of Item,
// under the tokenization rules of the given language. An empty token list
// is true for every item. SearchMatch depends on backend-resident data and
// is never statically reducible; backends may push it down to their native
// search index.
type SearchMatch struct {
	Item       Node
	EntityType string
	Fields     []string
	Language   string
	Tokens     []string
}

func (n *SearchMatch) Children() []Node { return []Node{n.Item} }

func (n *SearchMatch) mapChildren(fn func(Node) Node) Node {
	item := fn(n.Item)
	if item == n.Item {
		return n
	}
	cp := *n
	cp.Item = item
	return &cp
}

// Package flexsearch implements the tokenization enrichment pass: the
// three-phase rewrite that resolves backend-specific tokenization for every
// free-text search operator in a query tree with exactly one backend round
// trip.
//
// The pass is split into Collect and Expand so that the caller owns the
// round trip in between: the resolver batches the collected requests,
// consults its token cache, issues at most one TokenizeExpressions call for
// the misses, and hands the full resolution list back to Expand. A Pass
// value tracks which phase it is in and rejects out-of-order use, because
// expanding twice (or expanding without collecting) is always a pipeline
// ordering bug, never a recoverable condition.
package flexsearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pthm/stillsuit/querytree"
)

var (
	// ErrNotCollected is returned by Expand when Collect has not run on
	// this pass.
	ErrNotCollected = errors.New("stillsuit: search expansion before collection")

	// ErrAlreadyExpanded is returned by Expand when the pass has already
	// expanded a tree. Each Pass covers one collect/resolve/expand cycle.
	ErrAlreadyExpanded = errors.New("stillsuit: search operators expanded twice")

	// ErrTokenizationMismatch is returned when the backend's resolution
	// list does not answer every collected request. The contract is
	// order-preserving and same-length; a violation is a broken adapter,
	// not bad input.
	ErrTokenizationMismatch = errors.New("stillsuit: tokenization result does not match request batch")
)

// Tokenizer is the slice of the backend contract this pass depends on.
type Tokenizer interface {
	// TokenizeExpressions resolves a batch of search expressions in one
	// round trip. The result list is parallel to the request list: same
	// length, same order.
	TokenizeExpressions(ctx context.Context, reqs []querytree.TokenizeRequest) ([]querytree.Tokenization, error)
}

// Pass is one collect/resolve/expand cycle over one tree.
type Pass struct {
	requests  []querytree.TokenizeRequest
	collected bool
	expanded  bool
}

// Collect walks the tree and returns the tokenization requests of every
// FlexSearch node, in first-appearance order with duplicates removed. A
// request appearing under several operators is resolved once; each operator
// finds its entry during expansion.
func (p *Pass) Collect(tree querytree.Node) []querytree.TokenizeRequest {
	seen := make(map[querytree.TokenizeRequest]bool)
	p.requests = nil
	querytree.Walk(tree, func(n querytree.Node) bool {
		if fs, ok := n.(*querytree.FlexSearch); ok {
			req := fs.Request()
			if !seen[req] {
				seen[req] = true
				p.requests = append(p.requests, req)
			}
		}
		return true
	})
	p.collected = true
	p.expanded = false
	return p.requests
}

// Requests returns the batch the last Collect produced.
func (p *Pass) Requests() []querytree.TokenizeRequest { return p.requests }

// Expand replaces every FlexSearch node with its backend-specific expansion
// using the resolved tokenizations. All other nodes are rebuilt only when a
// descendant changed; a subtree without search operators is shared with the
// input, and a node referenced from two places in the tree stays one node in
// the output.
//
// resolved must cover every collected request. Extra entries are permitted:
// an expansion may consult entries collected from sibling operators.
func (p *Pass) Expand(tree querytree.Node, resolved []querytree.Tokenization) (querytree.Node, error) {
	if !p.collected {
		return nil, ErrNotCollected
	}
	if p.expanded {
		return nil, ErrAlreadyExpanded
	}
	p.expanded = true

	if len(resolved) < len(p.requests) {
		return nil, fmt.Errorf("%w: %d requests, %d results", ErrTokenizationMismatch, len(p.requests), len(resolved))
	}

	memo := make(map[querytree.Node]querytree.Node)
	var expandErr error
	var rewrite func(n querytree.Node) querytree.Node
	rewrite = func(n querytree.Node) querytree.Node {
		if expandErr != nil {
			return n
		}
		if out, ok := memo[n]; ok {
			return out
		}
		var out querytree.Node
		if fs, ok := n.(*querytree.FlexSearch); ok {
			inner := querytree.MapChildren(fs, rewrite)
			expanded, err := inner.(*querytree.FlexSearch).Expand(resolved)
			if err != nil {
				expandErr = err
				return n
			}
			out = expanded
		} else {
			out = querytree.MapChildren(n, rewrite)
		}
		memo[n] = out
		return out
	}

	out := rewrite(tree)
	if expandErr != nil {
		return nil, expandErr
	}
	return out, nil
}

// Enrich runs a full cycle in one call: collect, one TokenizeExpressions
// round trip when any operator was found, expand. It reports whether the
// backend was called. Callers that cache tokens drive the phases themselves.
func Enrich(ctx context.Context, tree querytree.Node, tz Tokenizer) (querytree.Node, bool, error) {
	var p Pass
	reqs := p.Collect(tree)
	if len(reqs) == 0 {
		return tree, false, nil
	}
	resolved, err := tz.TokenizeExpressions(ctx, reqs)
	if err != nil {
		return nil, true, err
	}
	if len(resolved) != len(reqs) {
		return nil, true, fmt.Errorf("%w: %d requests, %d results", ErrTokenizationMismatch, len(reqs), len(resolved))
	}
	out, err := p.Expand(tree, resolved)
	if err != nil {
		return nil, true, err
	}
	return out, true, nil
}

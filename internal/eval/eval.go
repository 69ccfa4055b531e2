// Package eval interprets query trees. One evaluator serves two modes:
// Static attempts to reduce a tree to a concrete value with no source at
// all, and aborts the moment any node depends on backend-resident data;
// sourced evaluation drives the backend adapters, which plug in a Source
// for storage access and inherit identical semantics for everything else:
// merge rules, truthiness, comparison, list transforms, variable scoping.
//
// Keeping both modes in one interpreter is what makes static evaluation
// sound by construction: a statically reduced value is the value the memory
// backend would have computed, because it is the same code path minus the
// storage reads.
package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Evaluator interprets trees against an optional Source.
type Evaluator struct {
	Model  *model.Model
	Source Source

	// NewKey generates the key for a created entity whose input does not
	// carry one. Nil means a random UUID. Tests inject deterministic keys.
	NewKey func() string
}

// Static attempts to reduce tree to a concrete value using only information
// embedded in the tree. It reports ok=false for any tree that touches
// backend-resident data; that is the normal outcome for most requests, not
// a failure. The only error it returns is an unexpanded search operator,
// which means the pipeline ran its passes out of order.
func Static(m *model.Model, tree querytree.Node) (any, bool, error) {
	e := &Evaluator{Model: m}
	v, err := e.Eval(context.Background(), tree)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, querytree.ErrUnexpandedSearch):
		return nil, false, err
	default:
		// Not reducible, or an evaluation error the backend will
		// surface itself when it executes the tree.
		return nil, false, nil
	}
}

// Eval evaluates tree to a JSON-shaped value. Without a Source, any node
// needing one fails with an internal not-reducible error; Static is the
// intended entry point for that mode.
func (e *Evaluator) Eval(ctx context.Context, tree querytree.Node) (any, error) {
	return e.eval(ctx, tree, newEnv(nil))
}

// env is one lexical scope: variable bindings plus a per-scope memo for
// nodes that must evaluate at most once within the scope. The builder
// shares lookup and mutation nodes between a null-guard condition and the
// projection under it; the memo makes that sharing mean "one lookup, one
// write", not two.
type env struct {
	parent *env
	vars   map[*querytree.Variable]any
	memo   map[querytree.Node]any
}

func newEnv(parent *env) *env {
	return &env{parent: parent, memo: make(map[querytree.Node]any)}
}

func (s *env) bind(v *querytree.Variable, value any) {
	if s.vars == nil {
		s.vars = make(map[*querytree.Variable]any, 1)
	}
	s.vars[v] = value
}

func (s *env) lookup(v *querytree.Variable) (any, bool) {
	for e := s; e != nil; e = e.parent {
		if val, ok := e.vars[v]; ok {
			return val, true
		}
	}
	return nil, false
}

func (e *Evaluator) eval(ctx context.Context, n querytree.Node, sc *env) (any, error) {
	switch n := n.(type) {
	case *querytree.Null:
		return nil, nil
	case *querytree.Literal:
		return n.Value, nil
	case *querytree.PropertyRemoval:
		return removedValue, nil
	case *querytree.Variable:
		v, ok := sc.lookup(n)
		if !ok {
			return nil, fmt.Errorf("stillsuit: unbound variable %q", n.Label)
		}
		return v, nil
	case *querytree.Object:
		return e.evalObject(ctx, n, sc)
	case *querytree.MergeObjects:
		return e.evalMerge(ctx, n, sc)
	case *querytree.List:
		items := make([]any, len(n.Items))
		for i, it := range n.Items {
			v, err := e.eval(ctx, it, sc)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case *querytree.Conditional:
		cond, err := e.eval(ctx, n.Cond, sc)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return e.eval(ctx, n.Then, sc)
		}
		if n.Else == nil {
			return nil, nil
		}
		return e.eval(ctx, n.Else, sc)
	case *querytree.FieldAccess:
		return e.evalFieldAccess(ctx, n, sc)
	case *querytree.UnaryOp:
		return e.evalUnary(ctx, n, sc)
	case *querytree.BinaryOp:
		return e.evalBinary(ctx, n, sc)
	case *querytree.FirstOf:
		v, err := e.eval(ctx, n.Source, sc)
		if err != nil {
			return nil, err
		}
		switch v := v.(type) {
		case nil:
			return nil, nil
		case []any:
			if len(v) == 0 {
				return nil, nil
			}
			return v[0], nil
		}
		return nil, fmt.Errorf("stillsuit: first over %s, want a list", typeName(v))
	case *querytree.TransformList:
		return e.evalTransform(ctx, n, sc)
	case *querytree.Entities:
		if e.Source == nil {
			return nil, errNotReducible
		}
		docs, err := e.Source.Entities(ctx, n.EntityType)
		if err != nil {
			return nil, err
		}
		return docsToList(docs), nil
	case *querytree.ReferenceLookup:
		return sc.memoized(n, func() (any, error) { return e.evalLookup(ctx, n, sc) })
	case *querytree.CreateEntity:
		return sc.memoized(n, func() (any, error) { return e.evalCreate(ctx, n, sc) })
	case *querytree.UpdateEntity:
		return sc.memoized(n, func() (any, error) { return e.evalUpdate(ctx, n, sc) })
	case *querytree.DeleteEntity:
		return sc.memoized(n, func() (any, error) { return e.evalDelete(ctx, n, sc) })
	case *querytree.SearchMatch:
		return e.evalSearchMatch(ctx, n, sc)
	case *querytree.FlexSearch:
		return nil, fmt.Errorf("%w: %q", querytree.ErrUnexpandedSearch, n.Expression)
	}
	return nil, fmt.Errorf("stillsuit: unknown node type %T", n)
}

// memoized evaluates fn at most once per scope for node n.
func (s *env) memoized(n querytree.Node, fn func() (any, error)) (any, error) {
	if v, ok := s.memo[n]; ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	s.memo[n] = v
	return v, nil
}

func (e *Evaluator) evalObject(ctx context.Context, n *querytree.Object, sc *env) (any, error) {
	out := make(map[string]any, len(n.Properties))
	for _, p := range n.Properties {
		v, err := e.eval(ctx, p.Value, sc)
		if err != nil {
			return nil, err
		}
		// Last-defined-wins; a removal stays in the map so that a
		// consuming merge or update sees it.
		out[p.Name] = v
	}
	return out, nil
}

func (e *Evaluator) evalMerge(ctx context.Context, n *querytree.MergeObjects, sc *env) (any, error) {
	out := make(map[string]any)
	for _, in := range n.Inputs {
		v, err := e.eval(ctx, in, sc)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stillsuit: merge input is %s, want an object", typeName(v))
		}
		mergeInto(out, m)
	}
	return out, nil
}

func (e *Evaluator) evalFieldAccess(ctx context.Context, n *querytree.FieldAccess, sc *env) (any, error) {
	obj, err := e.eval(ctx, n.Object, sc)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stillsuit: field %q access on %s, want an object", n.Field, typeName(obj))
	}
	v := m[n.Field]
	if _, isRemoval := v.(removal); isRemoval {
		return nil, nil
	}
	return v, nil
}

func (e *Evaluator) evalUnary(ctx context.Context, n *querytree.UnaryOp, sc *env) (any, error) {
	v, err := e.eval(ctx, n.Operand, sc)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case querytree.OpNot:
		return !Truthy(v), nil
	case querytree.OpNeg:
		if i, ok := asInt(v); ok {
			return -i, nil
		}
		if f, ok := numeric(v); ok {
			return -f, nil
		}
		return nil, fmt.Errorf("stillsuit: negation of %s", typeName(v))
	}
	return nil, fmt.Errorf("stillsuit: unknown unary operator %v", n.Op)
}

func (e *Evaluator) evalBinary(ctx context.Context, n *querytree.BinaryOp, sc *env) (any, error) {
	// And and Or short-circuit; everything else is strict.
	if n.Op == querytree.OpAnd || n.Op == querytree.OpOr {
		l, err := e.eval(ctx, n.Left, sc)
		if err != nil {
			return nil, err
		}
		lt := Truthy(l)
		if n.Op == querytree.OpAnd && !lt {
			return false, nil
		}
		if n.Op == querytree.OpOr && lt {
			return true, nil
		}
		r, err := e.eval(ctx, n.Right, sc)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	l, err := e.eval(ctx, n.Left, sc)
	if err != nil {
		return nil, err
	}
	r, err := e.eval(ctx, n.Right, sc)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case querytree.OpEqual:
		return equal(l, r), nil
	case querytree.OpNotEqual:
		return !equal(l, r), nil
	case querytree.OpLess:
		return compare(l, r) < 0, nil
	case querytree.OpLessOrEqual:
		return compare(l, r) <= 0, nil
	case querytree.OpGreater:
		return compare(l, r) > 0, nil
	case querytree.OpGreaterOrEqual:
		return compare(l, r) >= 0, nil
	case querytree.OpIn:
		if r == nil {
			return false, nil
		}
		list, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("stillsuit: in over %s, want a list", typeName(r))
		}
		for _, item := range list {
			if equal(l, item) {
				return true, nil
			}
		}
		return false, nil
	}
	return e.arith(n.Op, l, r)
}

func (e *Evaluator) arith(op querytree.BinaryOperator, l, r any) (any, error) {
	if li, ri, ok := bothInts(l, r); ok {
		switch op {
		case querytree.OpAdd:
			return li + ri, nil
		case querytree.OpSub:
			return li - ri, nil
		case querytree.OpMul:
			return li * ri, nil
		case querytree.OpMod:
			if ri == 0 {
				return nil, errors.New("stillsuit: modulo by zero")
			}
			return li % ri, nil
		}
	}
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if !lok || !rok {
		return nil, fmt.Errorf("stillsuit: %s over %s and %s", op, typeName(l), typeName(r))
	}
	switch op {
	case querytree.OpAdd:
		return lf + rf, nil
	case querytree.OpSub:
		return lf - rf, nil
	case querytree.OpMul:
		return lf * rf, nil
	case querytree.OpDiv:
		if rf == 0 {
			return nil, errors.New("stillsuit: division by zero")
		}
		return lf / rf, nil
	case querytree.OpMod:
		return nil, errors.New("stillsuit: modulo needs integer operands")
	}
	return nil, fmt.Errorf("stillsuit: unknown binary operator %v", op)
}

func (e *Evaluator) evalLookup(ctx context.Context, n *querytree.ReferenceLookup, sc *env) (any, error) {
	if e.Source == nil {
		return nil, errNotReducible
	}
	key, err := e.eval(ctx, n.Key, sc)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}
	doc, ok, err := e.Source.Lookup(ctx, n.EntityType, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// evalTransform evaluates a list transform. When the source is a collection
// scan whose filter carries a search match on the item variable and the
// source can answer searches, the match is pushed down: candidates come
// from the search index and only the remaining filter conjuncts run per
// item.
func (e *Evaluator) evalTransform(ctx context.Context, n *querytree.TransformList, sc *env) (any, error) {
	items, filter, err := e.transformSource(ctx, n, sc)
	if err != nil {
		return nil, err
	}

	desc := make([]bool, len(n.OrderBy))
	for i, t := range n.OrderBy {
		desc[i] = t.Desc
	}

	var kept []orderedItem
	for _, item := range items {
		itemEnv := newEnv(sc)
		itemEnv.bind(n.ItemVar, item)
		if filter != nil {
			ok, err := e.eval(ctx, filter, itemEnv)
			if err != nil {
				return nil, err
			}
			if !Truthy(ok) {
				continue
			}
		}
		oi := orderedItem{value: item}
		if len(n.OrderBy) > 0 {
			oi.keys = make([]any, len(n.OrderBy))
			for k, t := range n.OrderBy {
				v, err := e.eval(ctx, t.Key, itemEnv)
				if err != nil {
					return nil, err
				}
				oi.keys[k] = v
			}
		}
		kept = append(kept, oi)
	}

	sortItems(kept, desc)

	if n.Skip > 0 {
		if n.Skip >= len(kept) {
			kept = nil
		} else {
			kept = kept[n.Skip:]
		}
	}
	if n.Limit >= 0 && len(kept) > n.Limit {
		kept = kept[:n.Limit]
	}

	out := make([]any, len(kept))
	for i, oi := range kept {
		if n.Projection == nil {
			out[i] = oi.value
			continue
		}
		itemEnv := newEnv(sc)
		itemEnv.bind(n.ItemVar, oi.value)
		v, err := e.eval(ctx, n.Projection, itemEnv)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// transformSource yields the item list and the filter that still needs
// per-item evaluation, applying search pushdown when possible.
func (e *Evaluator) transformSource(ctx context.Context, n *querytree.TransformList, sc *env) ([]any, querytree.Node, error) {
	if scan, ok := n.Source.(*querytree.Entities); ok && e.Source != nil {
		if searcher, ok := e.Source.(Searcher); ok {
			if match, rest, ok := splitSearchFilter(n.Filter, n.ItemVar); ok {
				docs, err := searcher.SearchEntities(ctx, scan.EntityType, match.Fields, match.Language, match.Tokens)
				if err != nil {
					return nil, nil, err
				}
				return docsToList(docs), rest, nil
			}
		}
	}

	src, err := e.eval(ctx, n.Source, sc)
	if err != nil {
		return nil, nil, err
	}
	switch src := src.(type) {
	case nil:
		return nil, n.Filter, nil
	case []any:
		return src, n.Filter, nil
	}
	return nil, nil, fmt.Errorf("stillsuit: list transform over %s, want a list", typeName(src))
}

// splitSearchFilter extracts one search-match conjunct bound to item from a
// conjunction filter, returning the match and the remaining filter. It only
// descends through and-nodes: a match under or/not cannot be pushed down.
func splitSearchFilter(filter querytree.Node, item *querytree.Variable) (*querytree.SearchMatch, querytree.Node, bool) {
	switch f := filter.(type) {
	case *querytree.SearchMatch:
		if f.Item == querytree.Node(item) {
			return f, nil, true
		}
	case *querytree.BinaryOp:
		if f.Op != querytree.OpAnd {
			return nil, nil, false
		}
		if m, rest, ok := splitSearchFilter(f.Left, item); ok {
			return m, querytree.And(rest, f.Right), true
		}
		if m, rest, ok := splitSearchFilter(f.Right, item); ok {
			return m, querytree.And(f.Left, rest), true
		}
	}
	return nil, nil, false
}

func (e *Evaluator) evalSearchMatch(ctx context.Context, n *querytree.SearchMatch, sc *env) (any, error) {
	if e.Source == nil {
		return nil, errNotReducible
	}
	matcher, ok := e.Source.(Matcher)
	if !ok {
		return nil, ErrSearchUnsupported
	}
	item, err := e.eval(ctx, n.Item, sc)
	if err != nil {
		return nil, err
	}
	doc, ok := item.(map[string]any)
	if !ok {
		return false, nil
	}
	return matcher.Match(ctx, doc, n.Fields, n.Language, n.Tokens)
}

func (e *Evaluator) evalCreate(ctx context.Context, n *querytree.CreateEntity, sc *env) (any, error) {
	if e.Source == nil {
		return nil, errNotReducible
	}
	input, err := e.evalInputObject(ctx, n.Input, sc)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]any, len(input)+1)
	for k, v := range input {
		if _, isRemoval := v.(removal); isRemoval {
			continue
		}
		doc[k] = v
	}
	keyField := e.keyField(n.EntityType)
	if doc[keyField] == nil {
		doc[keyField] = e.newKey()
	}
	if err := e.Source.Put(ctx, n.EntityType, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Evaluator) evalUpdate(ctx context.Context, n *querytree.UpdateEntity, sc *env) (any, error) {
	if e.Source == nil {
		return nil, errNotReducible
	}
	key, err := e.eval(ctx, n.Key, sc)
	if err != nil {
		return nil, err
	}
	existing, ok, err := e.Source.Lookup(ctx, n.EntityType, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	patch, err := e.evalInputObject(ctx, n.Input, sc)
	if err != nil {
		return nil, err
	}
	doc := copyDoc(existing)
	mergeInto(doc, patch)
	// The key never changes through a patch.
	doc[e.keyField(n.EntityType)] = existing[e.keyField(n.EntityType)]
	if err := e.Source.Put(ctx, n.EntityType, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Evaluator) evalDelete(ctx context.Context, n *querytree.DeleteEntity, sc *env) (any, error) {
	if e.Source == nil {
		return nil, errNotReducible
	}
	key, err := e.eval(ctx, n.Key, sc)
	if err != nil {
		return nil, err
	}
	doc, ok, err := e.Source.Delete(ctx, n.EntityType, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (e *Evaluator) evalInputObject(ctx context.Context, n querytree.Node, sc *env) (map[string]any, error) {
	v, err := e.eval(ctx, n, sc)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stillsuit: mutation input is %s, want an object", typeName(v))
	}
	return m, nil
}

func (e *Evaluator) keyField(entityType string) string {
	if e.Model != nil {
		if t := e.Model.Type(entityType); t != nil {
			return t.Key()
		}
	}
	return "id"
}

func (e *Evaluator) newKey() string {
	if e.NewKey != nil {
		return e.NewKey()
	}
	return uuid.NewString()
}

func docsToList(docs []map[string]any) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}

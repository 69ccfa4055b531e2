// Package memory is the reference backend adapter: an in-process store with
// deterministic iteration order, a simple fold-and-split tokenizer, and full
// search support. It implements every optional capability, which makes it
// the adapter other adapters are checked against and the default for tests
// and the CLI.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pthm/stillsuit/backend"
	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Backend is an in-memory adapter. Safe for concurrent use; each request
// evaluates against a consistent view guarded by one RWMutex.
type Backend struct {
	mdl *model.Model

	mu    sync.RWMutex
	docs  map[string]map[string]map[string]any // type → key string → doc
	order map[string][]string                  // type → key strings in insertion order

	tokenizeCalls atomic.Int64
	executeCalls  atomic.Int64
}

var (
	_ backend.Backend  = (*Backend)(nil)
	_ backend.Extended = (*Backend)(nil)
	_ eval.Source      = (*Backend)(nil)
	_ eval.Searcher    = (*Backend)(nil)
	_ eval.Matcher     = (*Backend)(nil)
)

// New returns an empty store for the given model.
func New(m *model.Model) *Backend {
	return &Backend{
		mdl:   m,
		docs:  make(map[string]map[string]map[string]any),
		order: make(map[string][]string),
	}
}

// Load inserts documents of one type, keyed by the type's key field. A
// document without a key value is rejected.
func (b *Backend) Load(entityType string, docs []map[string]any) error {
	t := b.mdl.Type(entityType)
	if t == nil {
		return fmt.Errorf("memory: unknown entity type %q", entityType)
	}
	for _, doc := range docs {
		key := doc[t.Key()]
		if key == nil {
			return fmt.Errorf("memory: %s document without %q", entityType, t.Key())
		}
		if err := b.Put(context.Background(), entityType, doc); err != nil {
			return err
		}
	}
	return nil
}

// TokenizeCalls reports how many tokenization round trips were issued.
func (b *Backend) TokenizeCalls() int64 { return b.tokenizeCalls.Load() }

// ExecuteCalls reports how many execute round trips were issued.
func (b *Backend) ExecuteCalls() int64 { return b.executeCalls.Load() }

// TokenizeExpressions tokenizes each expression with the reference
// tokenizer: case-folded, split on anything that is not a letter or digit,
// duplicates removed in first-seen order. The language tag does not change
// reference tokenization but is echoed back, as the contract requires.
func (b *Backend) TokenizeExpressions(_ context.Context, reqs []querytree.TokenizeRequest) ([]querytree.Tokenization, error) {
	b.tokenizeCalls.Add(1)
	out := make([]querytree.Tokenization, len(reqs))
	for i, r := range reqs {
		out[i] = querytree.Tokenization{
			Expression: r.Expression,
			Language:   r.Language,
			Tokens:     Tokenize(r.Expression),
		}
	}
	return out, nil
}

// Execute evaluates the tree against the store.
func (b *Backend) Execute(ctx context.Context, tree querytree.Node) (any, error) {
	b.executeCalls.Add(1)
	e := &eval.Evaluator{Model: b.mdl, Source: b}
	return e.Eval(ctx, tree)
}

// ExecuteExt evaluates like Execute and reports the tree dump as the plan
// plus per-type entity counts as stats.
func (b *Backend) ExecuteExt(ctx context.Context, tree querytree.Node, opts backend.ExecOptions) (backend.ExecResult, error) {
	var res backend.ExecResult
	if opts.RecordPlan {
		res.Plan = "memory evaluation of:\n" + querytree.Dump(tree)
	}

	start := time.Now()
	data, err := b.Execute(ctx, tree)
	if opts.RecordTimings {
		res.Timings = map[string]time.Duration{"evaluate": time.Since(start)}
	}
	res.Data = data

	res.Stats = map[string]any{}
	b.mu.RLock()
	for etype, keys := range b.order {
		res.Stats["entities."+etype] = len(keys)
	}
	b.mu.RUnlock()

	return res, err
}

func keyString(key any) string { return fmt.Sprintf("%v", key) }

// Entities implements eval.Source.
func (b *Backend) Entities(_ context.Context, entityType string) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := b.order[entityType]
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyDoc(b.docs[entityType][k]))
	}
	return out, nil
}

// Lookup implements eval.Source.
func (b *Backend) Lookup(_ context.Context, entityType string, key any) (map[string]any, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[entityType][keyString(key)]
	if !ok {
		return nil, false, nil
	}
	return copyDoc(doc), true, nil
}

// Put implements eval.Source.
func (b *Backend) Put(_ context.Context, entityType string, doc map[string]any) error {
	t := b.mdl.Type(entityType)
	if t == nil {
		return fmt.Errorf("memory: unknown entity type %q", entityType)
	}
	k := keyString(doc[t.Key()])

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.docs[entityType] == nil {
		b.docs[entityType] = make(map[string]map[string]any)
	}
	if _, exists := b.docs[entityType][k]; !exists {
		b.order[entityType] = append(b.order[entityType], k)
	}
	b.docs[entityType][k] = copyDoc(doc)
	return nil
}

// Delete implements eval.Source.
func (b *Backend) Delete(_ context.Context, entityType string, key any) (map[string]any, bool, error) {
	k := keyString(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[entityType][k]
	if !ok {
		return nil, false, nil
	}
	delete(b.docs[entityType], k)
	keys := b.order[entityType]
	for i, existing := range keys {
		if existing == k {
			b.order[entityType] = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
	return doc, true, nil
}

// SearchEntities implements eval.Searcher by scanning and matching; the
// memory store has no separate index, so pushdown and per-item matching
// coincide, which is exactly the equivalence other adapters are tested
// against.
func (b *Backend) SearchEntities(ctx context.Context, entityType string, fields []string, language string, tokens []string) ([]map[string]any, error) {
	docs, err := b.Entities(ctx, entityType)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, doc := range docs {
		ok, err := b.Match(ctx, doc, fields, language, tokens)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Match implements eval.Matcher: every token must occur in at least one of
// the named fields. An empty token list matches everything.
func (b *Backend) Match(_ context.Context, doc map[string]any, fields []string, _ string, tokens []string) (bool, error) {
	fieldTokens := make(map[string]bool)
	for _, f := range fields {
		s, ok := doc[f].(string)
		if !ok {
			continue
		}
		for _, tok := range Tokenize(s) {
			fieldTokens[tok] = true
		}
	}
	for _, tok := range tokens {
		if !fieldTokens[tok] {
			return false, nil
		}
	}
	return true, nil
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

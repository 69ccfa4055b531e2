package eval

import (
	"context"
	"errors"
)

var (
	// ErrSearchUnsupported is reported when a tree needs a search match
	// and the source provides neither pushdown nor per-item matching.
	// It surfaces as a backend error in the result envelope.
	ErrSearchUnsupported = errors.New("stillsuit: source does not support search")

	// errNotReducible aborts static evaluation when a node depends on
	// backend-resident data. It never escapes Static.
	errNotReducible = errors.New("stillsuit: not statically reducible")
)

// Source supplies backend-resident data and applies writes. Backend
// adapters implement Source and hand it to an Evaluator; everything that is
// not storage access is interpreted by the evaluator itself, so every
// adapter gets identical tree semantics.
//
// Documents are JSON-shaped maps. Entities must return documents in the
// backend's storage order, and that order must be stable within one request.
type Source interface {
	// Entities returns every stored document of the given type.
	Entities(ctx context.Context, entityType string) ([]map[string]any, error)

	// Lookup returns the document whose key field equals key, or ok=false
	// when no entity matches.
	Lookup(ctx context.Context, entityType string, key any) (doc map[string]any, ok bool, err error)

	// Put inserts or replaces the document under its key field value.
	Put(ctx context.Context, entityType string, doc map[string]any) error

	// Delete removes the entity with the given key, returning the removed
	// document, or ok=false when no entity matches.
	Delete(ctx context.Context, entityType string, key any) (doc map[string]any, ok bool, err error)
}

// Searcher is the pushdown capability: a source that can answer a token
// match against its own search index. When a list transform filters a
// collection scan by a search match on the item, the evaluator fetches
// candidates here instead of scanning and matching per item.
type Searcher interface {
	// SearchEntities returns the documents of entityType in which every
	// token occurs in at least one of the named fields, in storage order.
	SearchEntities(ctx context.Context, entityType string, fields []string, language string, tokens []string) ([]map[string]any, error)
}

// Matcher is the per-item capability: deciding a token match for one
// document that is already in hand. Needed when a search match sits
// anywhere the evaluator cannot push it down, for example over an embedded
// list.
type Matcher interface {
	Match(ctx context.Context, doc map[string]any, fields []string, language string, tokens []string) (bool, error)
}

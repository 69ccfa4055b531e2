// Package stillsuit resolves declarative read/write operations against a
// typed data model. An operation is lowered into a query tree, an
// immutable, backend-independent intermediate representation, and threaded
// through a fixed pipeline: search-tokenization enrichment, authorization
// rewriting, then static evaluation. Trees that reduce to a concrete value
// never touch storage; everything else is handed to a pluggable backend
// adapter for execution.
//
// # Basic usage
//
//	mdl, _ := model.LoadFile("model.yaml")
//	store := memory.New(mdl)
//	r, _ := stillsuit.New(mdl, store)
//
//	op, _ := distill.ParseOperation(requestBytes)
//	res, err := r.Resolve(ctx, op)
//
// err reports client-input and configuration problems. Storage failures are
// returned inside res.Err together with whatever diagnostics were
// collected, so a failed request still has a complete profile.
//
// # Authorization
//
// The model's permission profiles are enforced by rewriting the tree, not
// by raising errors: a caller without access sees filtered lists and null
// fields. Denial is indistinguishable from absence.
//
// # Profiling
//
//	r, _ := stillsuit.New(mdl, store,
//		stillsuit.WithTimings(),
//		stillsuit.WithPlan(),
//		stillsuit.WithProfileConsumer(consumer))
//
// Without a consumer or an explicit option, no timing work happens on the
// request path.
package stillsuit

// Result is the envelope returned for every resolved operation.
type Result struct {
	// Data is the operation's value. Present even alongside Err when the
	// backend produced partial output before failing.
	Data any

	// Err is a backend-reported execution error. Client-input and
	// configuration errors never appear here; they return from Resolve
	// directly.
	Err error

	// Profile carries timing and diagnostic data. Nil unless profiling
	// was requested.
	Profile *Profile
}

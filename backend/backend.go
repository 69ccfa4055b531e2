// Package backend defines the contract between the resolution pipeline and
// a storage backend. Any adapter that implements Backend can execute
// finalized query trees; adapters that can also report diagnostics
// implement Extended. The resolver probes for Extended only when a caller
// asked for plan or timing data.
//
// Adapters own their internal concurrency: the pipeline calls them from one
// goroutine per request, but several requests may run concurrently against
// the same adapter.
package backend

import (
	"context"
	"time"

	"github.com/pthm/stillsuit/querytree"
)

// Backend executes finalized query trees and resolves search tokenization.
type Backend interface {
	// TokenizeExpressions resolves a batch of search expressions in one
	// round trip. The result is parallel to the request list: the same
	// length, in the same order. The pipeline issues at most one call
	// per request regardless of how many search operators the tree
	// carries.
	TokenizeExpressions(ctx context.Context, reqs []querytree.TokenizeRequest) ([]querytree.Tokenization, error)

	// Execute evaluates a finalized tree and returns its value. The tree
	// contains no unexpanded search operators; the authorization pass
	// has already run. Errors are storage failures, never permission
	// denials.
	Execute(ctx context.Context, tree querytree.Node) (any, error)
}

// Extended is a Backend that can return execution diagnostics alongside the
// value.
type Extended interface {
	Backend

	// ExecuteExt evaluates tree like Execute and additionally fills the
	// diagnostics requested in opts. Diagnostics collected before a
	// failure are returned alongside the error, so profiling consumers
	// see failed requests too.
	ExecuteExt(ctx context.Context, tree querytree.Node, opts ExecOptions) (ExecResult, error)
}

// ExecOptions selects which diagnostics ExecuteExt collects. Tuning values
// are adapter-specific and passed through opaquely by the pipeline.
type ExecOptions struct {
	RecordPlan    bool
	RecordTimings bool
	Tuning        map[string]any
}

// ExecResult is the extended execution outcome.
type ExecResult struct {
	Data any

	// Plan is a human-readable description of how the adapter executed
	// the tree. Empty unless requested.
	Plan string

	// Stats are adapter-specific counters (rows scanned, index hits).
	Stats map[string]any

	// Timings are adapter-internal phase durations. Empty unless
	// requested.
	Timings map[string]time.Duration
}

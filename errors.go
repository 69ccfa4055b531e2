package stillsuit

import "errors"

// Sentinel errors for resolution failures that abort a request before the
// backend runs. These are client-input or configuration problems: they
// return from Resolve as Go errors and carry no partial profile. Storage
// failures are different: they ride inside Result.Err with whatever
// diagnostics were collected, and Resolve itself returns nil.
//
// Use the Is*Err helpers to check for specific errors.
var (
	// ErrMutationsDisallowed is returned when a write operation reaches a
	// resolver configured with MutationsDisallowed. The guard runs before
	// any tree is built, so a rejected write costs nothing.
	ErrMutationsDisallowed = errors.New("stillsuit: mutations are disallowed")

	// ErrNoBackend is returned when a tree needs backend execution but
	// the resolver was built without a backend. Purely static requests
	// still resolve.
	ErrNoBackend = errors.New("stillsuit: no backend configured")

	// ErrPipelineOrder is returned when the pipeline's own invariants are
	// violated, for example a search operator that survives expansion.
	// It indicates a bug in stillsuit or a custom pass, never bad input.
	ErrPipelineOrder = errors.New("stillsuit: pipeline pass ordering violated")
)

// IsMutationsDisallowedErr returns true if err is or wraps
// ErrMutationsDisallowed.
func IsMutationsDisallowedErr(err error) bool {
	return errors.Is(err, ErrMutationsDisallowed)
}

// IsNoBackendErr returns true if err is or wraps ErrNoBackend.
func IsNoBackendErr(err error) bool {
	return errors.Is(err, ErrNoBackend)
}

// IsPipelineOrderErr returns true if err is or wraps ErrPipelineOrder.
func IsPipelineOrderErr(err error) bool {
	return errors.Is(err, ErrPipelineOrder)
}

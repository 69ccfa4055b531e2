package stillsuit

// MutationMode gates write operations for one resolver.
type MutationMode int

const (
	// MutationsAllowed permits both queries and mutations.
	MutationsAllowed MutationMode = iota

	// MutationsDisallowed rejects every mutation before any tree is
	// built. Use it for read-only deployments and public endpoints.
	MutationsDisallowed
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithMutationMode sets whether the resolver accepts write operations.
// The default is MutationsAllowed.
func WithMutationMode(m MutationMode) Option {
	return func(r *Resolver) {
		r.mutationMode = m
	}
}

// WithRoles sets the default role set applied to operations that carry no
// roles of their own.
func WithRoles(roles ...string) Option {
	return func(r *Resolver) {
		r.defaultRoles = roles
	}
}

// WithTokenCache enables tokenization caching. A cache hit skips the
// backend round trip; on a partial hit only the misses are sent, still in
// one call.
func WithTokenCache(c TokenCache) Option {
	return func(r *Resolver) {
		r.tokenCache = c
	}
}

// WithTimings enables per-phase elapsed-time collection on every request,
// even without a registered consumer. Without it, timings are only
// collected when a ProfileConsumer is registered.
func WithTimings() Option {
	return func(r *Resolver) {
		r.recordTimings = true
	}
}

// WithPlan asks the backend for an execution plan description and stats on
// every executed request. Only honored by backends implementing
// backend.Extended; others silently return no plan.
func WithPlan() Option {
	return func(r *Resolver) {
		r.recordPlan = true
	}
}

// WithProfileConsumer registers the consumer that receives the finished
// profile of every resolution, successful or failed. Registering a
// consumer implies timing collection.
func WithProfileConsumer(c ProfileConsumer) Option {
	return func(r *Resolver) {
		r.consumer = c
	}
}

// WithTuning passes adapter-specific tuning values through to the backend's
// extended execution. The resolver does not interpret them.
func WithTuning(tuning map[string]any) Option {
	return func(r *Resolver) {
		r.tuning = tuning
	}
}

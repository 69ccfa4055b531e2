package stillsuit

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the timing and diagnostic record of one resolution. Phase
// durations are only collected when profiling was requested (via
// WithTimings, WithPlan or a registered ProfileConsumer), so unprofiled
// requests pay nothing beyond a nil check per phase.
//
// A profile is delivered to the consumer on every exit path, including
// backend failures, so consumers see the complete picture of failed
// requests too.
type Profile struct {
	// RequestID identifies this resolution in logs and metrics.
	RequestID string

	// Operation is "query" or "mutation".
	Operation string

	Timings Timings

	// StaticallyResolved is true when static evaluation produced the
	// result and the backend was never called.
	StaticallyResolved bool

	// TokenizationRequests is the number of search expressions collected;
	// CacheHits of them were answered by the token cache. The backend was
	// called at most once regardless.
	TokenizationRequests int
	CacheHits            int

	// Plan and Stats come from the backend's extended execution, when
	// requested and supported.
	Plan  string
	Stats map[string]any

	// BackendTimings are adapter-internal phase durations.
	BackendTimings map[string]time.Duration

	// Failed is true when the backend reported an error.
	Failed bool
}

// Timings are the per-phase elapsed times of one resolution.
type Timings struct {
	Build      time.Duration
	Tokenize   time.Duration
	Authorize  time.Duration
	StaticEval time.Duration
	Backend    time.Duration
	Total      time.Duration
}

// ProfileConsumer receives the finished profile of every resolution made by
// a resolver it is registered on. Consumers must be safe for concurrent
// use; profiles of concurrent requests arrive concurrently. The profile is
// owned by the consumer after delivery.
type ProfileConsumer interface {
	ConsumeProfile(p *Profile)
}

// ProfileConsumerFunc adapts a function to a ProfileConsumer.
type ProfileConsumerFunc func(p *Profile)

func (f ProfileConsumerFunc) ConsumeProfile(p *Profile) { f(p) }

func newProfile(operation string) *Profile {
	return &Profile{RequestID: uuid.NewString(), Operation: operation}
}

// phaseTimer samples one phase's duration into dst, or does nothing when
// timing is off.
type phaseTimer struct {
	start   time.Time
	enabled bool
}

func startPhase(enabled bool) phaseTimer {
	if !enabled {
		return phaseTimer{}
	}
	return phaseTimer{start: time.Now(), enabled: true}
}

func (t phaseTimer) stop(dst *time.Duration) {
	if t.enabled {
		*dst = time.Since(t.start)
	}
}

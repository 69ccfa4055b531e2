package stillsuit

import (
	"context"
	"fmt"

	"github.com/pthm/stillsuit/backend"
	"github.com/pthm/stillsuit/distill"
	"github.com/pthm/stillsuit/internal/authz"
	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/internal/flexsearch"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Resolver orchestrates the resolution pipeline for one model and backend.
// Resolvers are safe for concurrent use: each Resolve builds its own tree
// and shares nothing mutable with other requests.
type Resolver struct {
	mdl *model.Model
	be  backend.Backend

	mutationMode  MutationMode
	defaultRoles  []string
	tokenCache    TokenCache
	recordTimings bool
	recordPlan    bool
	consumer      ProfileConsumer
	tuning        map[string]any
}

// New creates a resolver. The model is validated here, so a misconfigured
// model fails at startup rather than on the first request. The backend may
// be nil for purely static use; any request that needs storage then fails
// with ErrNoBackend.
func New(m *model.Model, be backend.Backend, opts ...Option) (*Resolver, error) {
	if m == nil {
		return nil, fmt.Errorf("stillsuit: nil model")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{mdl: m, be: be}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Model returns the resolver's model.
func (r *Resolver) Model() *model.Model { return r.mdl }

// Resolve runs one operation through the pipeline:
//
//	guard → build → tokenize → authorize → static-eval → backend → envelope
//
// The returned error covers client-input and configuration failures, which
// abort before execution. Backend failures do not return an error: they are
// carried in Result.Err together with the collected profile.
func (r *Resolver) Resolve(ctx context.Context, op *distill.Operation) (*Result, error) {
	// Guard: the cheapest possible rejection, before any tree exists.
	if op != nil && op.IsWrite() && r.mutationMode == MutationsDisallowed {
		return nil, ErrMutationsDisallowed
	}

	profiling := r.consumer != nil || r.recordTimings || r.recordPlan
	timed := r.consumer != nil || r.recordTimings

	var prof *Profile
	if profiling {
		kind := distill.KindQuery
		if op != nil && op.IsWrite() {
			kind = distill.KindMutation
		}
		prof = newProfile(kind)
		// The consumer sees every exit path, failures included.
		if r.consumer != nil {
			defer r.consumer.ConsumeProfile(prof)
		}
		total := startPhase(timed)
		defer func() { total.stop(&prof.Timings.Total) }()
	}

	tree, err := r.build(op, prof, timed)
	if err != nil {
		return nil, err
	}

	tree, tokenizeErr, err := r.tokenize(ctx, tree, prof, timed)
	if err != nil {
		return nil, err
	}
	if tokenizeErr != nil {
		if prof != nil {
			prof.Failed = true
		}
		return &Result{Err: tokenizeErr, Profile: prof}, nil
	}

	tree, err = r.authorize(op, tree, prof, timed)
	if err != nil {
		return nil, err
	}

	value, reduced, err := r.staticEval(tree, prof, timed)
	if err != nil {
		return nil, err
	}
	if reduced {
		if prof != nil {
			prof.StaticallyResolved = true
		}
		return &Result{Data: value, Profile: prof}, nil
	}

	return r.execute(ctx, tree, prof, timed)
}

func (r *Resolver) build(op *distill.Operation, prof *Profile, timed bool) (querytree.Node, error) {
	phase := startPhase(timed)
	tree, err := distill.Build(r.mdl, op)
	if prof != nil {
		phase.stop(&prof.Timings.Build)
	}
	return tree, err
}

// tokenize runs the enrichment pass: collect, resolve through the cache and
// at most one backend round trip, expand. The middle return value is a
// backend failure to be carried in the envelope; the last is a pipeline or
// configuration failure.
func (r *Resolver) tokenize(ctx context.Context, tree querytree.Node, prof *Profile, timed bool) (querytree.Node, error, error) {
	phase := startPhase(timed)
	defer func() {
		if prof != nil {
			phase.stop(&prof.Timings.Tokenize)
		}
	}()

	var pass flexsearch.Pass
	reqs := pass.Collect(tree)
	if prof != nil {
		prof.TokenizationRequests = len(reqs)
	}
	if len(reqs) == 0 {
		return tree, nil, nil
	}

	resolved := make([]querytree.Tokenization, 0, len(reqs))
	var misses []querytree.TokenizeRequest
	for _, req := range reqs {
		if r.tokenCache != nil {
			if tokens, ok := r.tokenCache.Get(req); ok {
				resolved = append(resolved, querytree.Tokenization{
					Expression: req.Expression,
					Language:   req.Language,
					Tokens:     tokens,
				})
				continue
			}
		}
		misses = append(misses, req)
	}
	if prof != nil {
		prof.CacheHits = len(reqs) - len(misses)
	}

	if len(misses) > 0 {
		if r.be == nil {
			return nil, nil, ErrNoBackend
		}
		answers, err := r.be.TokenizeExpressions(ctx, misses)
		if err != nil {
			return nil, err, nil
		}
		if len(answers) != len(misses) {
			return nil, fmt.Errorf("%w: tokenization answered %d of %d requests",
				ErrPipelineOrder, len(answers), len(misses)), nil
		}
		for _, a := range answers {
			if r.tokenCache != nil {
				r.tokenCache.Set(querytree.TokenizeRequest{Expression: a.Expression, Language: a.Language}, a.Tokens)
			}
			resolved = append(resolved, a)
		}
	}

	expanded, err := pass.Expand(tree, resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPipelineOrder, err)
	}
	return expanded, nil, nil
}

func (r *Resolver) authorize(op *distill.Operation, tree querytree.Node, prof *Profile, timed bool) (querytree.Node, error) {
	phase := startPhase(timed)
	defer func() {
		if prof != nil {
			phase.stop(&prof.Timings.Authorize)
		}
	}()

	roles := r.defaultRoles
	if op != nil && op.Roles != nil {
		roles = op.Roles
	}
	restrictions, err := authz.NewRestrictions(r.mdl, roles)
	if err != nil {
		return nil, err
	}
	return restrictions.Rewrite(tree), nil
}

func (r *Resolver) staticEval(tree querytree.Node, prof *Profile, timed bool) (any, bool, error) {
	phase := startPhase(timed)
	defer func() {
		if prof != nil {
			phase.stop(&prof.Timings.StaticEval)
		}
	}()

	value, ok, err := eval.Static(r.mdl, tree)
	if err != nil {
		// Only an unexpanded search operator reaches here, and that is
		// a pass-ordering bug, not a property of the request.
		return nil, false, fmt.Errorf("%w: %v", ErrPipelineOrder, err)
	}
	return value, ok, nil
}

func (r *Resolver) execute(ctx context.Context, tree querytree.Node, prof *Profile, timed bool) (*Result, error) {
	if r.be == nil {
		return nil, ErrNoBackend
	}

	phase := startPhase(timed)
	res := &Result{Profile: prof}

	wantExt := r.recordPlan || r.tuning != nil
	if ext, ok := r.be.(backend.Extended); ok && wantExt {
		out, err := ext.ExecuteExt(ctx, tree, backend.ExecOptions{
			RecordPlan:    r.recordPlan,
			RecordTimings: timed,
			Tuning:        r.tuning,
		})
		res.Data, res.Err = out.Data, err
		if prof != nil {
			prof.Plan = out.Plan
			prof.Stats = out.Stats
			prof.BackendTimings = out.Timings
		}
	} else {
		res.Data, res.Err = r.be.Execute(ctx, tree)
	}

	if prof != nil {
		phase.stop(&prof.Timings.Backend)
		prof.Failed = res.Err != nil
	}
	return res, nil
}

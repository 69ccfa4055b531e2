package stillsuit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pthm/stillsuit"
	"github.com/pthm/stillsuit/backend/memory"
	"github.com/pthm/stillsuit/distill"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

func libraryModel() *model.Model {
	return &model.Model{
		Types: []model.Type{
			{
				Name:    "Book",
				Profile: "readers",
				Fields: []model.Field{
					{Name: "id", Type: model.TypeString},
					{Name: "title", Type: model.TypeString, Searchable: true},
					{Name: "blurb", Type: model.TypeString, Searchable: true},
					{Name: "pageCount", Type: model.TypeInt, Default: 0},
					{Name: "margin", Type: model.TypeFloat, Profile: "staff"},
				},
			},
		},
		Profiles: map[string]model.Profile{
			"readers": {Permissions: []model.Permission{
				{Roles: []string{"staff"}, Access: model.AccessReadWrite},
				{Roles: []string{"reader"}, Access: model.AccessRead},
			}},
			"staff": {Permissions: []model.Permission{
				{Roles: []string{"staff"}, Access: model.AccessReadWrite},
			}},
		},
	}
}

func loadedBackend(t *testing.T, m *model.Model) *memory.Backend {
	t.Helper()
	be := memory.New(m)
	err := be.Load("Book", []map[string]any{
		{"id": "b1", "title": "Dune", "blurb": "spice and sand", "pageCount": 412, "margin": 0.4},
		{"id": "b2", "title": "Dune Messiah", "blurb": "the aftermath", "pageCount": 256, "margin": 0.2},
		{"id": "b3", "title": "Emma", "blurb": "a comedy of manners", "pageCount": 474, "margin": 0.1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return be
}

func allBooks(fields ...string) *distill.Operation {
	sels := make([]distill.Selection, len(fields))
	for i, f := range fields {
		sels[i] = distill.Selection{Field: f}
	}
	return &distill.Operation{
		Selections: []distill.Selection{{Field: "allBooks", Selections: sels}},
	}
}

func searchBooks(expr string) *distill.Operation {
	return &distill.Operation{
		Selections: []distill.Selection{{
			Field: "allBooks",
			Args: distill.Args{FlexSearch: &distill.SearchArgs{
				Expression: expr,
				Fields:     []string{"title"},
			}},
			Selections: []distill.Selection{{Field: "id"}},
		}},
	}
}

func titles(t *testing.T, data any, key string) []string {
	t.Helper()
	obj, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("result data is %T, want object", data)
	}
	items, ok := obj[key].([]any)
	if !ok {
		t.Fatalf("%q is %T, want list", key, obj[key])
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(map[string]any)["title"].(string))
	}
	return out
}

func TestResolve_ReadRoundTrip(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be, stillsuit.WithRoles("reader"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Resolve(context.Background(), allBooks("title"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("backend error: %v", res.Err)
	}

	got := titles(t, res.Data, "allBooks")
	want := []string{"Dune", "Dune Messiah", "Emma"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolve_MutationsDisallowed(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be,
		stillsuit.WithRoles("staff"),
		stillsuit.WithMutationMode(stillsuit.MutationsDisallowed),
	)
	if err != nil {
		t.Fatal(err)
	}

	op := &distill.Operation{
		Kind: distill.KindMutation,
		Selections: []distill.Selection{{
			Field:      "createBook",
			Args:       distill.Args{Input: map[string]any{"title": "Children of Dune"}},
			Selections: []distill.Selection{{Field: "id"}},
		}},
	}

	res, err := r.Resolve(context.Background(), op)
	if !stillsuit.IsMutationsDisallowedErr(err) {
		t.Fatalf("got %v, want ErrMutationsDisallowed", err)
	}
	if res != nil {
		t.Errorf("rejected write should return no result, got %+v", res)
	}
	// The guard fires before any work happens.
	if be.ExecuteCalls() != 0 || be.TokenizeCalls() != 0 {
		t.Errorf("backend touched by a rejected write: %d executes, %d tokenizations",
			be.ExecuteCalls(), be.TokenizeCalls())
	}
}

func TestResolve_DeniedReadFoldsStatically(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be,
		stillsuit.WithRoles("guest"),
		stillsuit.WithTimings(),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Resolve(context.Background(), allBooks("title"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("backend error: %v", res.Err)
	}

	items := res.Data.(map[string]any)["allBooks"].([]any)
	if len(items) != 0 {
		t.Errorf("denied scan should resolve to an empty list, got %v", items)
	}
	if res.Profile == nil || !res.Profile.StaticallyResolved {
		t.Error("denied scan should be reported as statically resolved")
	}
	if be.ExecuteCalls() != 0 {
		t.Errorf("denied scan reached the backend: %d executes", be.ExecuteCalls())
	}
}

func TestResolve_DeniedMutationResolvesNull(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be,
		stillsuit.WithRoles("reader"), // read-only grant
		stillsuit.WithTimings(),
	)
	if err != nil {
		t.Fatal(err)
	}

	op := &distill.Operation{
		Kind: distill.KindMutation,
		Selections: []distill.Selection{{
			Field:      "createBook",
			Args:       distill.Args{Input: map[string]any{"title": "Heretics of Dune"}},
			Selections: []distill.Selection{{Field: "id"}},
		}},
	}

	res, err := r.Resolve(context.Background(), op)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("backend error: %v", res.Err)
	}
	if got := res.Data.(map[string]any)["createBook"]; got != nil {
		t.Errorf("denied create should resolve to null, got %#v", got)
	}
	if res.Profile == nil || !res.Profile.StaticallyResolved {
		t.Error("denied create should be reported as statically resolved")
	}
	if be.ExecuteCalls() != 0 {
		t.Errorf("denied create reached the backend: %d executes", be.ExecuteCalls())
	}
}

func TestResolve_ProtectedFieldNulled(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be, stillsuit.WithRoles("reader"))
	if err != nil {
		t.Fatal(err)
	}

	op := &distill.Operation{
		Selections: []distill.Selection{{
			Field:      "Book",
			Args:       distill.Args{Key: "b1"},
			Selections: []distill.Selection{{Field: "title"}, {Field: "margin"}},
		}},
	}

	res, err := r.Resolve(context.Background(), op)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("backend error: %v", res.Err)
	}

	book := res.Data.(map[string]any)["Book"].(map[string]any)
	if book["title"] != "Dune" {
		t.Errorf("readable field: got %#v, want Dune", book["title"])
	}
	if book["margin"] != nil {
		t.Errorf("protected field should read as null, got %#v", book["margin"])
	}
}

func TestResolve_SearchTokenizesOnce(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be, stillsuit.WithRoles("reader"))
	if err != nil {
		t.Fatal(err)
	}

	// Two searched collections in one operation still cost a single
	// tokenization round trip.
	op := &distill.Operation{
		Selections: []distill.Selection{
			{
				Field: "allBooks",
				Alias: "dune",
				Args: distill.Args{FlexSearch: &distill.SearchArgs{
					Expression: "Dune", Fields: []string{"title"},
				}},
				Selections: []distill.Selection{{Field: "title"}},
			},
			{
				Field: "allBooks",
				Alias: "manners",
				Args: distill.Args{FlexSearch: &distill.SearchArgs{
					Expression: "manners", Fields: []string{"blurb"},
				}},
				Selections: []distill.Selection{{Field: "title"}},
			},
		},
	}

	res, err := r.Resolve(context.Background(), op)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("backend error: %v", res.Err)
	}
	if be.TokenizeCalls() != 1 {
		t.Errorf("got %d tokenization calls, want 1", be.TokenizeCalls())
	}
	if be.ExecuteCalls() != 1 {
		t.Errorf("got %d execute calls, want 1", be.ExecuteCalls())
	}

	if got := titles(t, res.Data, "dune"); len(got) != 2 {
		t.Errorf("dune search: got %v, want the two Dune titles", got)
	}
	if got := titles(t, res.Data, "manners"); len(got) != 1 || got[0] != "Emma" {
		t.Errorf("manners search: got %v, want [Emma]", got)
	}
}

func TestResolve_TokenCache(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	cache := stillsuit.NewTokenCache()
	r, err := stillsuit.New(m, be,
		stillsuit.WithRoles("reader"),
		stillsuit.WithTokenCache(cache),
		stillsuit.WithTimings(),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := r.Resolve(ctx, searchBooks("Dune")); err != nil {
		t.Fatal(err)
	}
	if be.TokenizeCalls() != 1 {
		t.Fatalf("cold search: got %d tokenization calls, want 1", be.TokenizeCalls())
	}

	res, err := r.Resolve(ctx, searchBooks("Dune"))
	if err != nil {
		t.Fatal(err)
	}
	if be.TokenizeCalls() != 1 {
		t.Errorf("warm search still hit the backend: %d calls", be.TokenizeCalls())
	}
	if res.Profile.CacheHits != 1 || res.Profile.TokenizationRequests != 1 {
		t.Errorf("warm search profile: %d hits of %d requests, want 1 of 1",
			res.Profile.CacheHits, res.Profile.TokenizationRequests)
	}

	// A partial hit sends only the misses, still in one call.
	cached := searchBooks("Dune").Selections[0]
	cached.Alias = "dune"
	mixed := &distill.Operation{
		Selections: []distill.Selection{
			cached,
			{
				Field: "allBooks",
				Alias: "fresh",
				Args: distill.Args{FlexSearch: &distill.SearchArgs{
					Expression: "aftermath", Fields: []string{"blurb"},
				}},
				Selections: []distill.Selection{{Field: "id"}},
			},
		},
	}

	res, err = r.Resolve(ctx, mixed)
	if err != nil {
		t.Fatal(err)
	}
	if be.TokenizeCalls() != 2 {
		t.Errorf("partial hit: got %d total tokenization calls, want 2", be.TokenizeCalls())
	}
	if res.Profile.CacheHits != 1 || res.Profile.TokenizationRequests != 2 {
		t.Errorf("partial hit profile: %d hits of %d requests, want 1 of 2",
			res.Profile.CacheHits, res.Profile.TokenizationRequests)
	}
}

// failingBackend errors on whichever calls are armed.
type failingBackend struct {
	tokenizeErr error
	executeErr  error
}

func (f *failingBackend) TokenizeExpressions(context.Context, []querytree.TokenizeRequest) ([]querytree.Tokenization, error) {
	if f.tokenizeErr != nil {
		return nil, f.tokenizeErr
	}
	return nil, nil
}

func (f *failingBackend) Execute(context.Context, querytree.Node) (any, error) {
	return nil, f.executeErr
}

func TestResolve_BackendFailuresRideTheEnvelope(t *testing.T) {
	m := libraryModel()

	t.Run("execute failure", func(t *testing.T) {
		be := &failingBackend{executeErr: errors.New("connection reset")}
		r, err := stillsuit.New(m, be,
			stillsuit.WithRoles("reader"),
			stillsuit.WithTimings(),
		)
		if err != nil {
			t.Fatal(err)
		}

		res, err := r.Resolve(context.Background(), allBooks("title"))
		if err != nil {
			t.Fatalf("storage failures must not surface as resolve errors, got %v", err)
		}
		if res.Err == nil || !strings.Contains(res.Err.Error(), "connection reset") {
			t.Fatalf("got envelope error %v, want the backend failure", res.Err)
		}
		if res.Profile == nil || !res.Profile.Failed {
			t.Error("profile should record the failure")
		}
	})

	t.Run("tokenize failure", func(t *testing.T) {
		be := &failingBackend{tokenizeErr: errors.New("tokenizer down")}
		r, err := stillsuit.New(m, be,
			stillsuit.WithRoles("reader"),
			stillsuit.WithTimings(),
		)
		if err != nil {
			t.Fatal(err)
		}

		res, err := r.Resolve(context.Background(), searchBooks("Dune"))
		if err != nil {
			t.Fatalf("storage failures must not surface as resolve errors, got %v", err)
		}
		if res.Err == nil || !strings.Contains(res.Err.Error(), "tokenizer down") {
			t.Fatalf("got envelope error %v, want the tokenizer failure", res.Err)
		}
		if res.Profile == nil || !res.Profile.Failed {
			t.Error("profile should record the failure")
		}
	})
}

func TestResolve_NoBackend(t *testing.T) {
	m := libraryModel()

	r, err := stillsuit.New(m, nil, stillsuit.WithRoles("guest"), stillsuit.WithTimings())
	if err != nil {
		t.Fatal(err)
	}

	// A request that folds statically never needs storage.
	res, err := r.Resolve(context.Background(), allBooks("title"))
	if err != nil {
		t.Fatalf("statically resolvable request failed without a backend: %v", err)
	}
	if !res.Profile.StaticallyResolved {
		t.Error("expected static resolution")
	}

	// One that needs storage fails with the configuration error.
	r, err = stillsuit.New(m, nil, stillsuit.WithRoles("reader"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), allBooks("title")); !stillsuit.IsNoBackendErr(err) {
		t.Errorf("got %v, want ErrNoBackend", err)
	}
}

func TestResolve_InvalidOperation(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)
	r, err := stillsuit.New(m, be, stillsuit.WithRoles("reader"))
	if err != nil {
		t.Fatal(err)
	}

	op := &distill.Operation{
		Selections: []distill.Selection{{
			Field:      "allShelves",
			Selections: []distill.Selection{{Field: "id"}},
		}},
	}
	if _, err := r.Resolve(context.Background(), op); !distill.IsInvalidOperationErr(err) {
		t.Errorf("got %v, want ErrInvalidOperation", err)
	}
}

func TestResolve_PlanAndConsumer(t *testing.T) {
	m := libraryModel()
	be := loadedBackend(t, m)

	var profiles []*stillsuit.Profile
	r, err := stillsuit.New(m, be,
		stillsuit.WithRoles("reader"),
		stillsuit.WithPlan(),
		stillsuit.WithProfileConsumer(stillsuit.ProfileConsumerFunc(func(p *stillsuit.Profile) {
			profiles = append(profiles, p)
		})),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Resolve(context.Background(), allBooks("title"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Profile == nil || res.Profile.Plan == "" {
		t.Error("plan requested but not recorded")
	}
	if !strings.Contains(res.Profile.Plan, "entities Book") {
		t.Errorf("plan should describe the tree, got:\n%s", res.Profile.Plan)
	}

	if len(profiles) != 1 {
		t.Fatalf("consumer got %d profiles, want 1", len(profiles))
	}
	p := profiles[0]
	if p.RequestID == "" || p.Operation != "query" {
		t.Errorf("profile identity: id=%q op=%q", p.RequestID, p.Operation)
	}
	if p.Timings.Total <= 0 {
		t.Error("consumer registration should imply timing collection")
	}
}

func TestNew_ValidatesModel(t *testing.T) {
	m := libraryModel()
	m.Types[0].Fields = append(m.Types[0].Fields, model.Field{Name: "title", Type: model.TypeString})
	if _, err := stillsuit.New(m, nil); !model.IsInvalidModelErr(err) {
		t.Errorf("got %v, want ErrInvalidModel", err)
	}
}

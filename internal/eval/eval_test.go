package eval_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// fakeSource is a map-backed Source with call counters. Search is answered
// by naive substring-free token containment so pushdown tests stay local.
type fakeSource struct {
	docs    map[string][]map[string]any // type → docs in order
	lookups int
	scans   int
	puts    int
}

func (f *fakeSource) Entities(_ context.Context, etype string) ([]map[string]any, error) {
	f.scans++
	out := make([]map[string]any, len(f.docs[etype]))
	for i, d := range f.docs[etype] {
		out[i] = copyOf(d)
	}
	return out, nil
}

func (f *fakeSource) Lookup(_ context.Context, etype string, key any) (map[string]any, bool, error) {
	f.lookups++
	for _, d := range f.docs[etype] {
		if fmt.Sprintf("%v", d["id"]) == fmt.Sprintf("%v", key) {
			return copyOf(d), true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeSource) Put(_ context.Context, etype string, doc map[string]any) error {
	f.puts++
	for i, d := range f.docs[etype] {
		if d["id"] == doc["id"] {
			f.docs[etype][i] = copyOf(doc)
			return nil
		}
	}
	if f.docs == nil {
		f.docs = map[string][]map[string]any{}
	}
	f.docs[etype] = append(f.docs[etype], copyOf(doc))
	return nil
}

func (f *fakeSource) Delete(_ context.Context, etype string, key any) (map[string]any, bool, error) {
	for i, d := range f.docs[etype] {
		if d["id"] == key {
			f.docs[etype] = append(f.docs[etype][:i:i], f.docs[etype][i+1:]...)
			return d, true, nil
		}
	}
	return nil, false, nil
}

func copyOf(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func lit(v any) querytree.Node { return querytree.Lit(v) }

func TestMerge_LaterWinsAndRemoval(t *testing.T) {
	cases := []struct {
		name   string
		inputs []querytree.Node
		want   map[string]any
	}{
		{
			name: "later wins",
			inputs: []querytree.Node{
				querytree.Obj(querytree.Prop("a", lit(1)), querytree.Prop("b", lit(2))),
				querytree.Obj(querytree.Prop("b", lit(3)), querytree.Prop("c", lit(4))),
			},
			want: map[string]any{"a": 1, "b": 3, "c": 4},
		},
		{
			name: "removal deletes and never reintroduces",
			inputs: []querytree.Node{
				querytree.Obj(querytree.Prop("a", lit(1))),
				querytree.Obj(querytree.Prop("a", querytree.RemoveProperty)),
			},
			want: map[string]any{},
		},
		{
			name: "non-recursive: nested objects replace wholesale",
			inputs: []querytree.Node{
				querytree.Obj(querytree.Prop("x", querytree.Obj(querytree.Prop("p", lit(1))))),
				querytree.Obj(querytree.Prop("x", querytree.Obj(querytree.Prop("q", lit(2))))),
			},
			want: map[string]any{"x": map[string]any{"q": 2}},
		},
		{
			name: "null input contributes nothing",
			inputs: []querytree.Node{
				querytree.NullValue,
				querytree.Obj(querytree.Prop("a", lit(1))),
			},
			want: map[string]any{"a": 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok, err := eval.Static(nil, &querytree.MergeObjects{Inputs: tc.inputs})
			if err != nil || !ok {
				t.Fatalf("static eval failed: ok=%v err=%v", ok, err)
			}
			got := normalize(v)
			want := normalize(tc.want)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("got %#v, want %#v", got, want)
			}
		})
	}
}

// normalize converts every number to float64 so int/float representation
// differences do not fail DeepEqual.
func normalize(v any) any {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = normalize(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = normalize(x)
		}
		return out
	}
	return v
}

func TestStatic_LiteralTreesReduce(t *testing.T) {
	tree := querytree.Obj(
		querytree.Prop("sum", querytree.Bin(querytree.OpAdd, lit(40), lit(2))),
		querytree.Prop("pick", &querytree.Conditional{
			Cond: querytree.Bin(querytree.OpLess, lit(1), lit(2)),
			Then: lit("yes"),
			Else: lit("no"),
		}),
		querytree.Prop("first", &querytree.FirstOf{Source: &querytree.List{Items: []querytree.Node{lit("a"), lit("b")}}}),
	)
	v, ok, err := eval.Static(nil, tree)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	want := map[string]any{"sum": float64(42), "pick": "yes", "first": "a"}
	if !reflect.DeepEqual(normalize(v), want) {
		t.Fatalf("got %#v", v)
	}
}

func TestStatic_BackendDependentNodesDoNotReduce(t *testing.T) {
	item := querytree.NewVariable("x")
	backendNodes := []querytree.Node{
		&querytree.Entities{EntityType: "Book"},
		&querytree.ReferenceLookup{EntityType: "Book", Key: lit("b1")},
		&querytree.CreateEntity{EntityType: "Book", Input: querytree.Obj()},
		&querytree.SearchMatch{Item: item, EntityType: "Book", Fields: []string{"title"}, Tokens: []string{"dune"}},
	}
	for _, n := range backendNodes {
		tree := querytree.Obj(querytree.Prop("v", n))
		if _, ok, err := eval.Static(nil, tree); ok || err != nil {
			t.Fatalf("%T: ok=%v err=%v, want not reducible", n, ok, err)
		}
	}
}

func TestStatic_UnexpandedSearchIsPipelineBug(t *testing.T) {
	fs := &querytree.FlexSearch{Item: lit(nil), EntityType: "Book", Expression: "x", Language: "en"}
	_, ok, err := eval.Static(nil, querytree.Obj(querytree.Prop("v", fs)))
	if ok || !errors.Is(err, querytree.ErrUnexpandedSearch) {
		t.Fatalf("ok=%v err=%v, want ErrUnexpandedSearch", ok, err)
	}
}

// Static evaluation soundness: a reducible tree yields the same value when
// executed against a source.
func TestStatic_SoundAgainstSourcedEvaluation(t *testing.T) {
	trees := []querytree.Node{
		querytree.Obj(querytree.Prop("a", lit(1)), querytree.Prop("a", lit(2))),
		&querytree.MergeObjects{Inputs: []querytree.Node{
			querytree.Obj(querytree.Prop("a", lit(1)), querytree.Prop("b", querytree.Obj(querytree.Prop("c", lit(true))))),
			querytree.Obj(querytree.Prop("b", lit("flat"))),
		}},
		&querytree.List{Items: []querytree.Node{lit(1), lit("two"), querytree.NullValue}},
		querytree.Bin(querytree.OpOr, lit(false), lit("truthy")),
	}
	for i, tree := range trees {
		static, ok, err := eval.Static(nil, tree)
		if err != nil || !ok {
			t.Fatalf("tree %d: ok=%v err=%v", i, ok, err)
		}
		e := &eval.Evaluator{Source: &fakeSource{}}
		sourced, err := e.Eval(context.Background(), tree)
		if err != nil {
			t.Fatalf("tree %d: %v", i, err)
		}
		if !reflect.DeepEqual(normalize(static), normalize(sourced)) {
			t.Fatalf("tree %d: static %#v != sourced %#v", i, static, sourced)
		}
	}
}

func books() *fakeSource {
	return &fakeSource{docs: map[string][]map[string]any{
		"Book": {
			{"id": "b1", "title": "Dune", "pages": float64(412)},
			{"id": "b2", "title": "Emma", "pages": float64(474)},
			{"id": "b3", "title": "Hamlet", "pages": float64(342)},
		},
	}}
}

func TestTransform_FilterOrderWindowProject(t *testing.T) {
	src := books()
	item := querytree.NewVariable("book")
	tl := querytree.NewTransformList(&querytree.Entities{EntityType: "Book"}, item)
	tl.Filter = querytree.Bin(querytree.OpGreater,
		&querytree.FieldAccess{Object: item, EntityType: "Book", Field: "pages"},
		lit(400))
	tl.OrderBy = []querytree.OrderTerm{{
		Key:  &querytree.FieldAccess{Object: item, EntityType: "Book", Field: "pages"},
		Desc: true,
	}}
	tl.Limit = 1
	tl.Projection = &querytree.FieldAccess{Object: item, EntityType: "Book", Field: "title"}

	e := &eval.Evaluator{Source: src}
	v, err := e.Eval(context.Background(), tl)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, []any{"Emma"}) {
		t.Fatalf("got %#v", v)
	}
}

func TestTransform_SkipBeyondEnd(t *testing.T) {
	item := querytree.NewVariable("book")
	tl := querytree.NewTransformList(&querytree.Entities{EntityType: "Book"}, item)
	tl.Skip = 10
	e := &eval.Evaluator{Source: books()}
	v, err := e.Eval(context.Background(), tl)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.([]any)) != 0 {
		t.Fatalf("got %#v, want empty", v)
	}
}

// A lookup or mutation node shared between a guard condition and the
// projection under it must evaluate exactly once.
func TestSharedNodeEvaluatesOnce(t *testing.T) {
	src := books()
	lookup := &querytree.ReferenceLookup{EntityType: "Book", Key: lit("b1")}
	tree := &querytree.Conditional{
		Cond: lookup,
		Then: querytree.Obj(
			querytree.Prop("title", &querytree.FieldAccess{Object: lookup, EntityType: "Book", Field: "title"}),
		),
		Else: querytree.NullValue,
	}
	e := &eval.Evaluator{Source: src}
	v, err := e.Eval(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if src.lookups != 1 {
		t.Fatalf("lookup ran %d times, want 1", src.lookups)
	}
	if !reflect.DeepEqual(v, map[string]any{"title": "Dune"}) {
		t.Fatalf("got %#v", v)
	}
}

func TestMutations_CreateUpdateDelete(t *testing.T) {
	src := &fakeSource{docs: map[string][]map[string]any{}}
	m := &model.Model{Types: []model.Type{{Name: "Book", Fields: []model.Field{
		{Name: "id", Type: model.TypeString},
		{Name: "title", Type: model.TypeString},
		{Name: "blurb", Type: model.TypeString},
	}}}}
	e := &eval.Evaluator{Model: m, Source: src, NewKey: func() string { return "k1" }}
	ctx := context.Background()

	created, err := e.Eval(ctx, &querytree.CreateEntity{
		EntityType: "Book",
		Input:      querytree.Obj(querytree.Prop("title", lit("Dune")), querytree.Prop("blurb", lit("sand"))),
	})
	if err != nil {
		t.Fatal(err)
	}
	doc := created.(map[string]any)
	if doc["id"] != "k1" || doc["title"] != "Dune" {
		t.Fatalf("created %#v", doc)
	}

	updated, err := e.Eval(ctx, &querytree.UpdateEntity{
		EntityType: "Book",
		Key:        lit("k1"),
		Input: querytree.Obj(
			querytree.Prop("title", lit("Dune Messiah")),
			querytree.Prop("blurb", querytree.RemoveProperty),
		),
	})
	if err != nil {
		t.Fatal(err)
	}
	doc = updated.(map[string]any)
	if doc["title"] != "Dune Messiah" {
		t.Fatalf("updated %#v", doc)
	}
	if _, present := doc["blurb"]; present {
		t.Fatalf("removal not applied: %#v", doc)
	}

	deleted, err := e.Eval(ctx, &querytree.DeleteEntity{EntityType: "Book", Key: lit("k1")})
	if err != nil {
		t.Fatal(err)
	}
	if deleted.(map[string]any)["title"] != "Dune Messiah" {
		t.Fatalf("deleted %#v", deleted)
	}
	if _, ok, _ := src.Lookup(ctx, "Book", "k1"); ok {
		t.Fatal("entity still present after delete")
	}

	missing, err := e.Eval(ctx, &querytree.UpdateEntity{EntityType: "Book", Key: lit("nope"), Input: querytree.Obj()})
	if err != nil || missing != nil {
		t.Fatalf("update of missing entity: v=%v err=%v, want null", missing, err)
	}
}

func TestSearchMatch_WithoutCapabilityFails(t *testing.T) {
	item := querytree.NewVariable("book")
	tl := querytree.NewTransformList(&querytree.List{Items: []querytree.Node{querytree.Obj()}}, item)
	tl.Filter = &querytree.SearchMatch{Item: item, EntityType: "Book", Fields: []string{"title"}, Tokens: []string{"dune"}}
	e := &eval.Evaluator{Source: &fakeSource{}}
	_, err := e.Eval(context.Background(), tl)
	if !errors.Is(err, eval.ErrSearchUnsupported) {
		t.Fatalf("got %v, want ErrSearchUnsupported", err)
	}
}

func TestDivisionByZero(t *testing.T) {
	_, ok, err := eval.Static(nil, querytree.Bin(querytree.OpDiv, lit(1), lit(0)))
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v: an erroring tree must not claim reducibility", ok, err)
	}

	e := &eval.Evaluator{Source: &fakeSource{}}
	if _, err := e.Eval(context.Background(), querytree.Bin(querytree.OpDiv, lit(1), lit(0))); err == nil {
		t.Fatal("sourced evaluation should surface the error")
	}
}

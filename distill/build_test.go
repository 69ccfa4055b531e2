package distill_test

import (
	"testing"

	"github.com/pthm/stillsuit/distill"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

func testModel(t *testing.T) *model.Model {
	t.Helper()
	m := &model.Model{
		Types: []model.Type{
			{Name: "Author", Fields: []model.Field{
				{Name: "id", Type: model.TypeString},
				{Name: "name", Type: model.TypeString},
			}},
			{Name: "Book", Fields: []model.Field{
				{Name: "id", Type: model.TypeString},
				{Name: "title", Type: model.TypeString, Searchable: true, Language: "en"},
				{Name: "blurb", Type: model.TypeString, Searchable: true},
				{Name: "pageCount", Type: model.TypeInt, Default: float64(0)},
				{Name: "library", Type: model.TypeString},
				{Name: "author", Type: "Author", Reference: true},
				{Name: "chapters", Type: "Chapter", List: true},
			}},
			{Name: "Chapter", Fields: []model.Field{
				{Name: "heading", Type: model.TypeString},
				{Name: "words", Type: model.TypeInt},
			}},
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("fixture model invalid: %v", err)
	}
	return m
}

func intp(v int) *int { return &v }

func TestBuild_SingleGet(t *testing.T) {
	m := testModel(t)
	op := &distill.Operation{
		Selections: []distill.Selection{{
			Field: "Book",
			Alias: "book",
			Args:  distill.Args{Key: "b1"},
			Selections: []distill.Selection{
				{Field: "title"},
				{Field: "pageCount"},
			},
		}},
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	root, ok := tree.(*querytree.Object)
	if !ok || len(root.Properties) != 1 {
		t.Fatalf("root should be an object with one property, got %s", querytree.Dump(tree))
	}
	if root.Properties[0].Name != "book" {
		t.Errorf("alias should key the result, got %q", root.Properties[0].Name)
	}

	cond, ok := root.Properties[0].Value.(*querytree.Conditional)
	if !ok {
		t.Fatalf("single get should null-guard, got %T", root.Properties[0].Value)
	}
	lookup, ok := cond.Cond.(*querytree.ReferenceLookup)
	if !ok || lookup.EntityType != "Book" {
		t.Fatalf("expected lookup condition, got %T", cond.Cond)
	}
	if key, ok := lookup.Key.(*querytree.Literal); !ok || key.Value != "b1" {
		t.Errorf("lookup key should be the literal key argument")
	}
	if cond.Else != querytree.Node(querytree.NullValue) {
		t.Error("missing entity should yield null")
	}

	proj, ok := cond.Then.(*querytree.Object)
	if !ok || len(proj.Properties) != 2 {
		t.Fatalf("projection should have two properties, got %s", querytree.Dump(cond.Then))
	}
	// Every projected field must read from the shared lookup node.
	for _, p := range proj.Properties {
		fa, ok := p.Value.(*querytree.FieldAccess)
		if !ok {
			t.Fatalf("scalar selection should be a field access, got %T", p.Value)
		}
		if fa.Object != querytree.Node(lookup) {
			t.Error("projection must share the guarded entity node")
		}
		if fa.EntityType != "Book" {
			t.Errorf("field access should carry the entity type, got %q", fa.EntityType)
		}
	}
}

func TestBuild_CollectionWithArgs(t *testing.T) {
	m := testModel(t)
	op := &distill.Operation{
		Selections: []distill.Selection{{
			Field: "allBooks",
			Args: distill.Args{
				Filter:     &distill.Filter{Field: "pageCount", Op: "ge", Value: float64(100)},
				OrderBy:    []distill.Order{{Field: "title", Desc: true}},
				Skip:       intp(3),
				First:      intp(10),
				FlexSearch: &distill.SearchArgs{Expression: "sand worms"},
			},
			Selections: []distill.Selection{{Field: "title"}},
		}},
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	root := tree.(*querytree.Object)
	tl, ok := root.Properties[0].Value.(*querytree.TransformList)
	if !ok {
		t.Fatalf("collection should lower to a transform, got %T", root.Properties[0].Value)
	}
	if src, ok := tl.Source.(*querytree.Entities); !ok || src.EntityType != "Book" {
		t.Errorf("source should scan Book entities, got %T", tl.Source)
	}
	if tl.Skip != 3 || tl.Limit != 10 {
		t.Errorf("window not applied: skip=%d limit=%d", tl.Skip, tl.Limit)
	}
	if len(tl.OrderBy) != 1 || !tl.OrderBy[0].Desc {
		t.Errorf("orderBy not applied: %+v", tl.OrderBy)
	}

	and, ok := tl.Filter.(*querytree.BinaryOp)
	if !ok || and.Op != querytree.OpAnd {
		t.Fatalf("filter and search should be conjoined, got %s", querytree.Dump(tl.Filter))
	}
	search, ok := and.Right.(*querytree.FlexSearch)
	if !ok {
		t.Fatalf("search predicate missing, got %T", and.Right)
	}
	if search.Expression != "sand worms" || search.Language != "en" {
		t.Errorf("search should carry expression and first field's language, got %q %q",
			search.Expression, search.Language)
	}
	if len(search.Fields) != 2 || search.Fields[0] != "title" || search.Fields[1] != "blurb" {
		t.Errorf("search should default to all searchable fields, got %v", search.Fields)
	}
	if search.Item != querytree.Node(tl.ItemVar) {
		t.Error("search must test the transform's item variable")
	}
}

func TestBuild_ReferenceField(t *testing.T) {
	m := testModel(t)
	op := &distill.Operation{
		Selections: []distill.Selection{{
			Field: "Book",
			Args:  distill.Args{Key: "b1"},
			Selections: []distill.Selection{
				{Field: "author", Selections: []distill.Selection{{Field: "name"}}},
			},
		}},
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	book := tree.(*querytree.Object).Properties[0].Value.(*querytree.Conditional)
	authorProp := book.Then.(*querytree.Object).Properties[0]
	inner, ok := authorProp.Value.(*querytree.Conditional)
	if !ok {
		t.Fatalf("reference should null-guard its lookup, got %T", authorProp.Value)
	}
	lookup, ok := inner.Cond.(*querytree.ReferenceLookup)
	if !ok || lookup.EntityType != "Author" {
		t.Fatalf("reference should lower to a lookup on the target type, got %T", inner.Cond)
	}
	key, ok := lookup.Key.(*querytree.FieldAccess)
	if !ok || key.Field != "author" || key.EntityType != "Book" {
		t.Errorf("lookup key should read the stored reference key, got %#v", lookup.Key)
	}
}

func TestBuild_EmbeddedListWithFilter(t *testing.T) {
	m := testModel(t)
	op := &distill.Operation{
		Selections: []distill.Selection{{
			Field: "Book",
			Args:  distill.Args{Key: "b1"},
			Selections: []distill.Selection{{
				Field: "chapters",
				Args: distill.Args{
					Filter: &distill.Filter{Field: "words", Op: "gt", Value: float64(1000)},
				},
				Selections: []distill.Selection{{Field: "heading"}},
			}},
		}},
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	book := tree.(*querytree.Object).Properties[0].Value.(*querytree.Conditional)
	tl, ok := book.Then.(*querytree.Object).Properties[0].Value.(*querytree.TransformList)
	if !ok {
		t.Fatalf("embedded list should lower to a transform, got %s", querytree.Dump(book.Then))
	}
	if _, ok := tl.Source.(*querytree.FieldAccess); !ok {
		t.Errorf("embedded list source should read the field, got %T", tl.Source)
	}
	cmp, ok := tl.Filter.(*querytree.BinaryOp)
	if !ok || cmp.Op != querytree.OpGreater {
		t.Fatalf("chapter filter not lowered, got %T", tl.Filter)
	}
	fa := cmp.Left.(*querytree.FieldAccess)
	if fa.EntityType != "Chapter" || fa.Field != "words" {
		t.Errorf("filter should access the chapter field, got %s.%s", fa.EntityType, fa.Field)
	}
}

func TestBuild_CreateAppliesDefaults(t *testing.T) {
	m := testModel(t)
	op := &distill.Operation{
		Kind: distill.KindMutation,
		Selections: []distill.Selection{{
			Field: "createBook",
			Args: distill.Args{Input: map[string]any{
				"title":   "Dune",
				"library": "arr",
			}},
			Selections: []distill.Selection{{Field: "id"}, {Field: "title"}},
		}},
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cond := tree.(*querytree.Object).Properties[0].Value.(*querytree.Conditional)
	proj := cond.Then.(*querytree.Object)
	var create *querytree.CreateEntity
	querytree.Walk(tree, func(n querytree.Node) bool {
		if c, ok := n.(*querytree.CreateEntity); ok {
			create = c
		}
		return true
	})
	if create == nil {
		t.Fatalf("no create node in tree: %s", querytree.Dump(tree))
	}

	input := create.Input.(*querytree.Object)
	byName := map[string]querytree.Node{}
	for _, p := range input.Properties {
		byName[p.Name] = p.Value
	}
	if lit, ok := byName["pageCount"].(*querytree.Literal); !ok || lit.Value != float64(0) {
		t.Errorf("declared default should fill omitted field, got %#v", byName["pageCount"])
	}
	if _, ok := byName["id"]; ok {
		t.Error("key field must not appear in the input object")
	}

	// The guard and the echo selections read from the same create node.
	if cond.Cond != querytree.Node(create) {
		t.Error("guard condition must share the create node")
	}
	for _, p := range proj.Properties {
		fa := p.Value.(*querytree.FieldAccess)
		if fa.Object != querytree.Node(create) {
			t.Error("echo projection must share the create node")
		}
	}
}

func TestBuild_UpdateNullRemovesProperty(t *testing.T) {
	m := testModel(t)
	op := &distill.Operation{
		Kind: distill.KindMutation,
		Selections: []distill.Selection{{
			Field: "updateBook",
			Args: distill.Args{
				Key:   "b1",
				Input: map[string]any{"blurb": nil, "title": "revised"},
			},
			Selections: []distill.Selection{{Field: "title"}},
		}},
	}

	tree, err := distill.Build(m, op)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var update *querytree.UpdateEntity
	querytree.Walk(tree, func(n querytree.Node) bool {
		if u, ok := n.(*querytree.UpdateEntity); ok {
			update = u
		}
		return true
	})
	if update == nil {
		t.Fatal("no update node in tree")
	}

	input := update.Input.(*querytree.Object)
	var sawRemoval bool
	for _, p := range input.Properties {
		if p.Name == "blurb" {
			if p.Value != querytree.Node(querytree.RemoveProperty) {
				t.Errorf("explicit null should remove the property, got %T", p.Value)
			}
			sawRemoval = true
		}
	}
	if !sawRemoval {
		t.Error("blurb removal missing from input object")
	}
}

func TestBuild_RejectsInvalidOperations(t *testing.T) {
	m := testModel(t)
	cases := []struct {
		name string
		op   *distill.Operation
	}{
		{"no selections", &distill.Operation{}},
		{"unknown entry point", &distill.Operation{Selections: []distill.Selection{
			{Field: "allShips", Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"write entry in query", &distill.Operation{Selections: []distill.Selection{
			{Field: "createBook", Args: distill.Args{Input: map[string]any{}},
				Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"read entry in mutation", &distill.Operation{Kind: distill.KindMutation,
			Selections: []distill.Selection{
				{Field: "allBooks", Selections: []distill.Selection{{Field: "id"}}},
			}}},
		{"get without key", &distill.Operation{Selections: []distill.Selection{
			{Field: "Book", Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"entity without sub-selections", &distill.Operation{Selections: []distill.Selection{
			{Field: "Book", Args: distill.Args{Key: "b1"}},
		}}},
		{"scalar with sub-selections", &distill.Operation{Selections: []distill.Selection{
			{Field: "Book", Args: distill.Args{Key: "b1"}, Selections: []distill.Selection{
				{Field: "title", Selections: []distill.Selection{{Field: "x"}}},
			}},
		}}},
		{"unknown field", &distill.Operation{Selections: []distill.Selection{
			{Field: "Book", Args: distill.Args{Key: "b1"}, Selections: []distill.Selection{
				{Field: "publisher"},
			}},
		}}},
		{"filter on unknown field", &distill.Operation{Selections: []distill.Selection{
			{Field: "allBooks", Args: distill.Args{Filter: &distill.Filter{Field: "publisher", Value: "x"}},
				Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"in filter without list", &distill.Operation{Selections: []distill.Selection{
			{Field: "allBooks", Args: distill.Args{Filter: &distill.Filter{Field: "title", Op: "in", Value: "x"}},
				Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"negative skip", &distill.Operation{Selections: []distill.Selection{
			{Field: "allBooks", Args: distill.Args{Skip: intp(-1)},
				Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"search on unsearchable field", &distill.Operation{Selections: []distill.Selection{
			{Field: "allBooks", Args: distill.Args{FlexSearch: &distill.SearchArgs{
				Expression: "x", Fields: []string{"library"},
			}}, Selections: []distill.Selection{{Field: "id"}}},
		}}},
		{"key in create input", &distill.Operation{Kind: distill.KindMutation,
			Selections: []distill.Selection{
				{Field: "createBook", Args: distill.Args{Input: map[string]any{"id": "b9"}},
					Selections: []distill.Selection{{Field: "id"}}},
			}}},
		{"unknown input field", &distill.Operation{Kind: distill.KindMutation,
			Selections: []distill.Selection{
				{Field: "createBook", Args: distill.Args{Input: map[string]any{"publisher": "x"}},
					Selections: []distill.Selection{{Field: "id"}}},
			}}},
		{"key argument on collection", &distill.Operation{Selections: []distill.Selection{
			{Field: "allBooks", Args: distill.Args{Key: "b1"},
				Selections: []distill.Selection{{Field: "id"}}},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := distill.Build(m, tc.op)
			if err == nil {
				t.Fatal("expected a client-input error")
			}
			if !distill.IsInvalidOperationErr(err) {
				t.Errorf("expected IsInvalidOperationErr, got: %v", err)
			}
		})
	}
}

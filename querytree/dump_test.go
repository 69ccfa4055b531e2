package querytree_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/pthm/stillsuit/querytree"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestDump_ReadTree(t *testing.T) {
	user := querytree.NewVariable("user")
	tree := querytree.Obj(
		querytree.Prop("allUsers", &querytree.TransformList{
			Source:  &querytree.Entities{EntityType: "User"},
			ItemVar: user,
			Filter: querytree.Bin(querytree.OpGreaterOrEqual,
				&querytree.FieldAccess{Object: user, EntityType: "User", Field: "age"},
				querytree.Lit(21)),
			OrderBy: []querytree.OrderTerm{
				{Key: &querytree.FieldAccess{Object: user, EntityType: "User", Field: "name"}},
			},
			Limit: 10,
			Projection: querytree.Obj(
				querytree.Prop("name", &querytree.FieldAccess{Object: user, EntityType: "User", Field: "name"}),
				querytree.Prop("age", &querytree.FieldAccess{Object: user, EntityType: "User", Field: "age"}),
			),
		}),
	)

	golden(t).Assert(t, "read_tree", []byte(querytree.Dump(tree)))
}

func TestDump_SearchTreeBeforeAndAfterExpansion(t *testing.T) {
	doc := querytree.NewVariable("doc")
	search := &querytree.FlexSearch{
		Item:       doc,
		EntityType: "Article",
		Fields:     []string{"title", "body"},
		Expression: "climate policy",
		Language:   "en",
	}
	tree := &querytree.TransformList{
		Source:  &querytree.Entities{EntityType: "Article"},
		ItemVar: doc,
		Filter:  search,
		Limit:   -1,
	}

	golden(t).Assert(t, "search_before", []byte(querytree.Dump(tree)))

	expanded, err := search.Expand([]querytree.Tokenization{
		{Expression: "climate policy", Language: "en", Tokens: []string{"climat", "polici"}},
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	after := *tree
	after.Filter = expanded

	golden(t).Assert(t, "search_after", []byte(querytree.Dump(&after)))
}

func TestDump_MutationTree(t *testing.T) {
	tree := querytree.Obj(
		querytree.Prop("updateUser", &querytree.UpdateEntity{
			EntityType: "User",
			Key:        querytree.Lit("u1"),
			Input: &querytree.MergeObjects{Inputs: []querytree.Node{
				querytree.Obj(
					querytree.Prop("nickname", querytree.Lit("Ada")),
					querytree.Prop("age", querytree.Lit(35)),
				),
				querytree.Obj(
					querytree.Prop("nickname", querytree.RemoveProperty),
				),
			}},
		}),
	)

	golden(t).Assert(t, "mutation_tree", []byte(querytree.Dump(tree)))
}

func TestDump_NumbersDistinctVariablesWithSameLabel(t *testing.T) {
	a := querytree.NewVariable("item")
	b := querytree.NewVariable("item")
	inner := &querytree.TransformList{
		Source:  &querytree.Entities{EntityType: "Order"},
		ItemVar: b,
		Filter:  querytree.Bin(querytree.OpEqual, b, a),
		Limit:   -1,
	}
	outer := &querytree.TransformList{
		Source:     &querytree.Entities{EntityType: "Customer"},
		ItemVar:    a,
		Limit:      -1,
		Projection: inner,
	}

	golden(t).Assert(t, "shadowed_variables", []byte(querytree.Dump(outer)))
}

// Package test holds integration tests that exercise the SQL backends
// against real databases. PostgreSQL runs in a container via testutil;
// SQLite uses a temporary file. All tests skip in short mode.
package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm/stillsuit/model"
)

func bookModel() *model.Model {
	return &model.Model{
		Types: []model.Type{
			{
				Name:    "Book",
				Profile: "readers",
				Fields: []model.Field{
					{Name: "id", Type: model.TypeString},
					{Name: "title", Type: model.TypeString, Searchable: true, Language: "en"},
					{Name: "blurb", Type: model.TypeString, Searchable: true, Language: "en"},
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

func bookDocs() []map[string]any {
	return []map[string]any{
		{"id": "b1", "title": "Dune", "blurb": "spice and sand on a desert planet", "pageCount": 412, "margin": 0.4},
		{"id": "b2", "title": "Dune Messiah", "blurb": "the aftermath of a holy war", "pageCount": 256, "margin": 0.2},
		{"id": "b3", "title": "Emma", "blurb": "a comedy of manners", "pageCount": 474, "margin": 0.1},
	}
}

// fieldValues extracts one scalar field from a list property of the result
// data.
func fieldValues(t *testing.T, data any, listKey, field string) []any {
	t.Helper()
	obj, ok := data.(map[string]any)
	require.True(t, ok, "result data is %T, want object", data)
	items, ok := obj[listKey].([]any)
	require.True(t, ok, "%q is %T, want list", listKey, obj[listKey])

	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.(map[string]any)[field])
	}
	return out
}

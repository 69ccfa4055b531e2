package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Validate checks the model for every structural problem that would break
// the resolution pipeline: unknown or duplicate names, dangling profile
// references, fields that cannot be searched, malformed role patterns, and
// embedded object cycles. The first problem found is returned, wrapping
// ErrInvalidModel or ErrCyclicModel.
func (m *Model) Validate() error {
	names := make(map[string]bool)
	for _, t := range m.Types {
		if t.Name == "" {
			return fmt.Errorf("%w: type with empty name", ErrInvalidModel)
		}
		if IsScalar(t.Name) {
			return fmt.Errorf("%w: type %q collides with a scalar type", ErrInvalidModel, t.Name)
		}
		if names[t.Name] {
			return fmt.Errorf("%w: duplicate type %q", ErrInvalidModel, t.Name)
		}
		names[t.Name] = true
	}

	for i := range m.Types {
		if err := m.validateType(&m.Types[i]); err != nil {
			return err
		}
	}

	for name, p := range m.Profiles {
		if err := validateProfile(name, p); err != nil {
			return err
		}
	}

	return m.detectEmbedCycles()
}

func (m *Model) validateType(t *Type) error {
	fields := make(map[string]bool)
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("%w: type %q: field with empty name", ErrInvalidModel, t.Name)
		}
		if fields[f.Name] {
			return fmt.Errorf("%w: type %q: duplicate field %q", ErrInvalidModel, t.Name, f.Name)
		}
		fields[f.Name] = true

		if err := m.validateField(t, f); err != nil {
			return err
		}
	}

	if t.KeyField != "" {
		kf := t.Field(t.KeyField)
		if kf == nil {
			return fmt.Errorf("%w: type %q: key field %q not declared", ErrInvalidModel, t.Name, t.KeyField)
		}
		if !IsScalar(kf.Type) || kf.List {
			return fmt.Errorf("%w: type %q: key field %q must be a scalar", ErrInvalidModel, t.Name, t.KeyField)
		}
	}

	if t.AccessGroupField != "" {
		af := t.Field(t.AccessGroupField)
		if af == nil {
			return fmt.Errorf("%w: type %q: access group field %q not declared", ErrInvalidModel, t.Name, t.AccessGroupField)
		}
		if af.Type != TypeString || af.List {
			return fmt.Errorf("%w: type %q: access group field %q must be a single string", ErrInvalidModel, t.Name, t.AccessGroupField)
		}
	}

	if t.Profile != "" {
		if _, ok := m.Profiles[t.Profile]; !ok {
			return fmt.Errorf("%w: type %q: unknown permission profile %q", ErrInvalidModel, t.Name, t.Profile)
		}
	}

	return nil
}

func (m *Model) validateField(t *Type, f *Field) error {
	if !IsScalar(f.Type) && m.Type(f.Type) == nil {
		return fmt.Errorf("%w: type %q: field %q has unknown type %q", ErrInvalidModel, t.Name, f.Name, f.Type)
	}
	if f.Reference && IsScalar(f.Type) {
		return fmt.Errorf("%w: type %q: field %q is a reference to scalar type %q", ErrInvalidModel, t.Name, f.Name, f.Type)
	}
	if f.Searchable {
		if f.Type != TypeString || f.List {
			return fmt.Errorf("%w: type %q: field %q is searchable but not a single string", ErrInvalidModel, t.Name, f.Name)
		}
	}
	if f.Language != "" {
		if !f.Searchable {
			return fmt.Errorf("%w: type %q: field %q declares a language but is not searchable", ErrInvalidModel, t.Name, f.Name)
		}
		if _, err := language.Parse(f.Language); err != nil {
			return fmt.Errorf("%w: type %q: field %q: bad language tag %q: %v", ErrInvalidModel, t.Name, f.Name, f.Language, err)
		}
	}
	if f.Profile != "" {
		if _, ok := m.Profiles[f.Profile]; !ok {
			return fmt.Errorf("%w: type %q: field %q: unknown permission profile %q", ErrInvalidModel, t.Name, f.Name, f.Profile)
		}
	}
	return nil
}

func validateProfile(name string, p Profile) error {
	if len(p.Permissions) == 0 {
		return fmt.Errorf("%w: profile %q has no permissions", ErrInvalidModel, name)
	}
	for i, perm := range p.Permissions {
		if perm.Access != AccessRead && perm.Access != AccessReadWrite {
			return fmt.Errorf("%w: profile %q permission %d: access must be %q or %q, got %q",
				ErrInvalidModel, name, i, AccessRead, AccessReadWrite, perm.Access)
		}
		if len(perm.Roles) == 0 {
			return fmt.Errorf("%w: profile %q permission %d: no roles", ErrInvalidModel, name, i)
		}
		for _, pattern := range perm.Roles {
			if err := validateRolePattern(pattern); err != nil {
				return fmt.Errorf("%w: profile %q permission %d: %v", ErrInvalidModel, name, i, err)
			}
		}
	}
	return nil
}

// validateRolePattern accepts literal role names and prefix patterns with a
// single trailing "*".
func validateRolePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty role pattern")
	}
	if i := strings.IndexByte(pattern, '*'); i >= 0 && i != len(pattern)-1 {
		return fmt.Errorf("role pattern %q: %q only allowed at the end", pattern, "*")
	}
	return nil
}

// MatchRole reports whether pattern matches role. Patterns are literals or
// carry a single trailing "*" matching any suffix; "*" alone matches every
// role.
func MatchRole(pattern, role string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(role, prefix)
	}
	return pattern == role
}

// color marks the state of a type during DFS cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // in current DFS path (cycle if revisited)
	black              // fully processed
)

// detectEmbedCycles checks that embedded (non-reference) entity fields form
// a DAG. Reference fields do not count: they store a key and are resolved
// lazily, so they are the supported way to express recursive shapes.
func (m *Model) detectEmbedCycles() error {
	graph := make(map[string][]string)
	for _, t := range m.Types {
		for _, f := range t.Fields {
			if f.IsEntity() && !f.Reference {
				graph[t.Name] = append(graph[t.Name], f.Type)
			}
		}
	}

	colors := make(map[string]color)
	parent := make(map[string]string)

	var dfs func(n string) []string
	dfs = func(n string) []string {
		colors[n] = gray
		for _, next := range graph[n] {
			switch colors[next] {
			case gray:
				return reconstructCycle(n, next, parent)
			case white:
				parent[next] = n
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		colors[n] = black
		return nil
	}

	for _, t := range m.Types {
		if colors[t.Name] == white {
			if cycle := dfs(t.Name); cycle != nil {
				return fmt.Errorf("%w: %s", ErrCyclicModel, strings.Join(cycle, " → "))
			}
		}
	}
	return nil
}

// reconstructCycle builds the cycle path from parent pointers. from is the
// node where the back-edge was seen, to is the node it returns to.
func reconstructCycle(from, to string, parent map[string]string) []string {
	cycle := []string{to}
	for n := from; n != to; n = parent[n] {
		cycle = append([]string{n}, cycle...)
	}
	return append([]string{to}, cycle...)
}

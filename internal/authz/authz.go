// Package authz implements the authorization rewrite pass: the tree-to-tree
// transformation that enforces the caller's role set on every access to a
// protected type or field.
//
// The pass runs strictly after search expansion, so it restricts the final
// shape of the tree, and strictly before static evaluation, so that even a
// tree the evaluator can fold without the backend has its protected accesses
// checked. It only ever narrows what a tree produces: collection scans are
// emptied or filtered, selected fields and denied mutations become null. A
// caller lacking permission is not an error; it is a null or filtered value
// in the result, so no error message reveals whether denied data exists.
package authz

import (
	"errors"
	"fmt"

	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// ErrBadProfile is returned by NewRestrictions when the model's permission
// data is unusable: a type or field names a profile the model does not
// declare, or a profile carries a malformed permission. This is a
// configuration error and aborts the request immediately; it is never a
// runtime denial.
var ErrBadProfile = errors.New("stillsuit: invalid permission profile")

// IsBadProfileErr returns true if err is or wraps ErrBadProfile.
func IsBadProfileErr(err error) bool {
	return errors.Is(err, ErrBadProfile)
}

// Access is the level a caller holds on one type or field.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessReadWrite
)

// grant is the resolved outcome of matching the caller's roles against one
// profile: an access level, optionally scoped to access groups.
type grant struct {
	access Access
	groups []string // nil means unrestricted
}

// Restrictions is the caller's resolved permission state for one request.
// Resolution happens once, in NewRestrictions; Rewrite only consults the
// precomputed grants.
type Restrictions struct {
	model  *model.Model
	grants map[string]grant // profile name → resolved grant
}

// NewRestrictions resolves the caller's roles against every profile the
// model declares. Malformed permission data fails here with ErrBadProfile,
// before any tree is touched.
func NewRestrictions(m *model.Model, roles []string) (*Restrictions, error) {
	r := &Restrictions{model: m, grants: make(map[string]grant, len(m.Profiles))}
	for name, p := range m.Profiles {
		g, err := resolveProfile(name, p, roles)
		if err != nil {
			return nil, err
		}
		r.grants[name] = g
	}
	// A dangling profile reference is normally caught by model.Validate,
	// but the pass must not silently treat it as unprotected.
	for i := range m.Types {
		t := &m.Types[i]
		if err := r.checkRef(t.Profile, "type "+t.Name); err != nil {
			return nil, err
		}
		for j := range t.Fields {
			f := &t.Fields[j]
			if err := r.checkRef(f.Profile, fmt.Sprintf("field %s.%s", t.Name, f.Name)); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Restrictions) checkRef(profile, where string) error {
	if profile == "" {
		return nil
	}
	if _, ok := r.grants[profile]; !ok {
		return fmt.Errorf("%w: %s references undeclared profile %q", ErrBadProfile, where, profile)
	}
	return nil
}

// resolveProfile applies first-match-wins over the profile's permissions:
// the first permission with a role pattern matching any caller role decides
// the grant. No match means no access.
func resolveProfile(name string, p model.Profile, roles []string) (grant, error) {
	for i, perm := range p.Permissions {
		var access Access
		switch perm.Access {
		case model.AccessRead:
			access = AccessRead
		case model.AccessReadWrite:
			access = AccessReadWrite
		default:
			return grant{}, fmt.Errorf("%w: profile %q permission %d: unknown access %q", ErrBadProfile, name, i, perm.Access)
		}
		if len(perm.Roles) == 0 {
			return grant{}, fmt.Errorf("%w: profile %q permission %d: no roles", ErrBadProfile, name, i)
		}
		for _, pattern := range perm.Roles {
			for _, role := range roles {
				if model.MatchRole(pattern, role) {
					g := grant{access: access}
					if len(perm.RestrictToAccessGroups) > 0 {
						g.groups = perm.RestrictToAccessGroups
					}
					return g, nil
				}
			}
		}
	}
	return grant{access: AccessNone}, nil
}

// grantFor resolves the effective grant on one field access: the field's own
// profile wins over the type's; no profile means unrestricted read/write.
func (r *Restrictions) grantFor(t *model.Type, f *model.Field) grant {
	name := t.ProfileFor(f)
	if name == "" {
		return grant{access: AccessReadWrite}
	}
	return r.grants[name]
}

// typeGrant resolves the grant on the type as a whole.
func (r *Restrictions) typeGrant(t *model.Type) grant {
	if t.Profile == "" {
		return grant{access: AccessReadWrite}
	}
	return r.grants[t.Profile]
}

// Rewrite returns a tree in which every protected access is either allowed,
// narrowed to the caller's access groups, or replaced by an empty or null
// value. Untouched subtrees are shared with the input, and a node referenced
// from several places stays one node in the output, so evaluation identity
// is preserved across the pass.
func (r *Restrictions) Rewrite(tree querytree.Node) querytree.Node {
	memo := make(map[querytree.Node]querytree.Node)
	var rewrite func(n querytree.Node) querytree.Node
	rewrite = func(n querytree.Node) querytree.Node {
		if out, ok := memo[n]; ok {
			return out
		}
		out := r.rewriteNode(querytree.MapChildren(n, rewrite))
		memo[n] = out
		return out
	}
	return rewrite(tree)
}

func (r *Restrictions) rewriteNode(n querytree.Node) querytree.Node {
	switch n := n.(type) {
	case *querytree.Entities:
		return r.rewriteScan(n)
	case *querytree.ReferenceLookup:
		return r.rewriteLookup(n)
	case *querytree.FieldAccess:
		return r.rewriteFieldAccess(n)
	case *querytree.CreateEntity:
		t := r.model.Type(n.EntityType)
		if t == nil {
			return n
		}
		g := r.typeGrant(t)
		if g.access != AccessReadWrite {
			return querytree.NullValue
		}
		if g.groups != nil && t.AccessGroupField != "" {
			// The created entity must land inside the caller's groups.
			return &querytree.Conditional{
				Cond: querytree.Bin(querytree.OpIn,
					&querytree.FieldAccess{Object: n.Input, Field: t.AccessGroupField},
					groupsLit(g.groups)),
				Then: n,
				Else: querytree.NullValue,
			}
		}
		return n
	case *querytree.UpdateEntity:
		return r.rewriteKeyedWrite(n, n.EntityType, n.Key)
	case *querytree.DeleteEntity:
		return r.rewriteKeyedWrite(n, n.EntityType, n.Key)
	default:
		return n
	}
}

func (r *Restrictions) rewriteScan(n *querytree.Entities) querytree.Node {
	t := r.model.Type(n.EntityType)
	if t == nil {
		return n
	}
	g := r.typeGrant(t)
	if g.access == AccessNone {
		return &querytree.List{}
	}
	if g.groups == nil || t.AccessGroupField == "" {
		return n
	}
	item := querytree.NewVariable("visible")
	tl := querytree.NewTransformList(n, item)
	tl.Filter = querytree.Bin(querytree.OpIn,
		&querytree.FieldAccess{Object: item, EntityType: t.Name, Field: t.AccessGroupField},
		groupsLit(g.groups))
	return tl
}

func (r *Restrictions) rewriteLookup(n *querytree.ReferenceLookup) querytree.Node {
	t := r.model.Type(n.EntityType)
	if t == nil {
		return n
	}
	g := r.typeGrant(t)
	if g.access == AccessNone {
		return querytree.NullValue
	}
	if g.groups == nil || t.AccessGroupField == "" {
		return n
	}
	return &querytree.Conditional{
		Cond: querytree.Bin(querytree.OpIn,
			&querytree.FieldAccess{Object: n, EntityType: t.Name, Field: t.AccessGroupField},
			groupsLit(g.groups)),
		Then: n,
		Else: querytree.NullValue,
	}
}

func (r *Restrictions) rewriteFieldAccess(n *querytree.FieldAccess) querytree.Node {
	if n.EntityType == "" {
		return n
	}
	t := r.model.Type(n.EntityType)
	if t == nil {
		return n
	}
	f := t.Field(n.Field)
	if f == nil {
		return n
	}
	if r.grantFor(t, f).access == AccessNone {
		return querytree.NullValue
	}
	return n
}

// rewriteKeyedWrite guards an update or delete: no readWrite grant nulls the
// mutation outright; a group-scoped grant only applies it when the existing
// entity lies inside the caller's groups.
func (r *Restrictions) rewriteKeyedWrite(n querytree.Node, entityType string, key querytree.Node) querytree.Node {
	t := r.model.Type(entityType)
	if t == nil {
		return n
	}
	g := r.typeGrant(t)
	if g.access != AccessReadWrite {
		return querytree.NullValue
	}
	if g.groups == nil || t.AccessGroupField == "" {
		return n
	}
	existing := &querytree.ReferenceLookup{EntityType: t.Name, Key: key}
	return &querytree.Conditional{
		Cond: querytree.Bin(querytree.OpIn,
			&querytree.FieldAccess{Object: existing, EntityType: t.Name, Field: t.AccessGroupField},
			groupsLit(g.groups)),
		Then: n,
		Else: querytree.NullValue,
	}
}

func groupsLit(groups []string) *querytree.Literal {
	vals := make([]any, len(groups))
	for i, g := range groups {
		vals[i] = g
	}
	return querytree.Lit(vals)
}

// Package model defines the declared object model that stillsuit resolves
// operations against: entity types, their fields, and the permission
// profiles that the authorization pass enforces.
//
// Models are declared in YAML (or JSON) and loaded with Parse or LoadFile.
// A model must pass Validate before it is given to a resolver; every check
// it performs guards an assumption the pipeline relies on.
package model

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Scalar field types. A Field whose Type is none of these names an entity
// type declared in the same model.
const (
	TypeString  = "string"
	TypeInt     = "int"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeJSON    = "json" // opaque JSON value, no field-level semantics
)

// IsScalar reports whether name is one of the scalar field types.
func IsScalar(name string) bool {
	switch name {
	case TypeString, TypeInt, TypeFloat, TypeBoolean, TypeJSON:
		return true
	}
	return false
}

// Access levels granted by a Permission.
const (
	AccessRead      = "read"
	AccessReadWrite = "readWrite"
)

// Model is a complete declared object model.
type Model struct {
	Types    []Type             `json:"types"`
	Profiles map[string]Profile `json:"permissionProfiles,omitempty"`
}

// Type declares one entity type.
type Type struct {
	Name string `json:"name"`

	// KeyField names the field entities of this type are looked up by.
	// Defaults to "id". The field must be a scalar.
	KeyField string `json:"keyField,omitempty"`

	// AccessGroupField names a scalar string field used to scope access:
	// a Permission carrying RestrictToAccessGroups only grants access to
	// entities whose AccessGroupField value is one of the listed groups.
	AccessGroupField string `json:"accessGroupField,omitempty"`

	// Profile names the permission profile protecting this type. Empty
	// means unprotected: every caller may read and write.
	Profile string `json:"permissionProfile,omitempty"`

	Fields []Field `json:"fields"`
}

// Field declares one field of a Type.
type Field struct {
	Name string `json:"name"`

	// Type is a scalar type name or the name of a declared entity type.
	Type string `json:"type"`

	// List marks the field as holding a list of Type values.
	List bool `json:"list,omitempty"`

	// Reference marks an entity-typed field as stored by key: reading it
	// looks the target entity up instead of embedding its document.
	Reference bool `json:"reference,omitempty"`

	// Searchable enables free-text search over this field. Only scalar
	// string fields can be searchable.
	Searchable bool `json:"searchable,omitempty"`

	// Language is the BCP 47 tag tokenization uses for this field's
	// search expressions. Empty means the search default, "en".
	Language string `json:"language,omitempty"`

	// Default is substituted on create when the input omits the field.
	Default any `json:"default,omitempty"`

	// Profile names a permission profile protecting this single field,
	// overriding the type's profile. Empty means the type's profile
	// applies.
	Profile string `json:"permissionProfile,omitempty"`
}

// Profile is a named set of permissions. The first permission whose role
// patterns match one of the caller's roles decides the caller's access.
type Profile struct {
	Permissions []Permission `json:"permissions"`
}

// Permission grants an access level to callers holding matching roles.
type Permission struct {
	// Roles are matched against the caller's role identifiers. A pattern
	// is a literal role name, or a prefix followed by "*" which matches
	// any role with that prefix ("*" alone matches every caller).
	Roles []string `json:"roles"`

	// Access is AccessRead or AccessReadWrite.
	Access string `json:"access"`

	// RestrictToAccessGroups limits the grant to entities whose access
	// group field holds one of these values. Requires the type to
	// declare an AccessGroupField.
	RestrictToAccessGroups []string `json:"restrictToAccessGroups,omitempty"`
}

// Parse decodes a YAML or JSON model definition. It does not validate;
// call Validate before using the model.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return &m, nil
}

// LoadFile reads, parses and validates a model file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the declared type with the given name, or nil.
func (m *Model) Type(name string) *Type {
	for i := range m.Types {
		if m.Types[i].Name == name {
			return &m.Types[i]
		}
	}
	return nil
}

// Field returns the declared field with the given name, or nil.
func (t *Type) Field(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// Key returns the name of the type's key field.
func (t *Type) Key() string {
	if t.KeyField != "" {
		return t.KeyField
	}
	return "id"
}

// SearchLanguage returns the language tag tokenization uses for f.
func (f *Field) SearchLanguage() string {
	if f.Language != "" {
		return f.Language
	}
	return "en"
}

// IsEntity reports whether f holds entities of a declared type, embedded
// or by reference.
func (f *Field) IsEntity() bool { return !IsScalar(f.Type) }

// ProfileFor returns the name of the profile protecting field f of type t:
// the field's own profile if set, the type's otherwise. Empty means
// unprotected.
func (t *Type) ProfileFor(f *Field) string {
	if f.Profile != "" {
		return f.Profile
	}
	return t.Profile
}

// SearchableFields returns the fields of t that are searchable, in
// declaration order.
func (t *Type) SearchableFields() []*Field {
	var out []*Field
	for i := range t.Fields {
		if t.Fields[i].Searchable {
			out = append(out, &t.Fields[i])
		}
	}
	return out
}

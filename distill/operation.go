// Package distill defines the distilled operation format and the builder
// that lowers an operation into a query tree.
//
// A distilled operation is the normalized form of a request after the front
// end has parsed it and bound all variables: a selection shape plus concrete
// argument values. The builder combines it with the declared model to
// produce the initial tree the resolution pipeline transforms.
package distill

import (
	"errors"
	"fmt"

	"sigs.k8s.io/yaml"
)

// ErrInvalidOperation is returned by Build and ParseOperation for
// structurally invalid operations: unknown fields, argument values of the
// wrong shape, selections that do not fit the model. These are client-input
// errors; they abort resolution before any tree exists.
var ErrInvalidOperation = errors.New("stillsuit: invalid operation")

// IsInvalidOperationErr returns true if err is or wraps ErrInvalidOperation.
func IsInvalidOperationErr(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// Operation kinds.
const (
	KindQuery    = "query"
	KindMutation = "mutation"
)

// Operation is one distilled request.
type Operation struct {
	// Kind is KindQuery or KindMutation. Empty means KindQuery. Write
	// entry points are only valid in a mutation and vice versa, so the
	// kind of an operation is known before any tree is built.
	Kind string `json:"operation,omitempty"`

	// Roles are the caller's role identifiers, matched against the
	// model's permission profiles. Nil means the resolver's configured
	// default role set applies.
	Roles []string `json:"roles,omitempty"`

	Selections []Selection `json:"selections"`
}

// Selection selects one field. At the root of an operation the field names
// an entry point derived from a declared type:
//
//	Book       single entity by key (requires args.key)
//	allBooks   the collection, with filter/order/pagination/search args
//	createBook / updateBook / deleteBook   write entry points
//
// Below the root, Field names a field of the enclosing entity type. Entity
// fields require sub-selections; scalar fields must not have any.
type Selection struct {
	Field string `json:"field"`

	// Alias renames the property in the result object. Empty uses Field.
	Alias string `json:"alias,omitempty"`

	Args Args `json:"args,omitempty"`

	Selections []Selection `json:"selections,omitempty"`
}

// Key returns the result property name for this selection.
func (s *Selection) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Field
}

// Args carries the argument values of one selection. Which arguments are
// valid depends on the selection: key on single gets and update/delete,
// input on create/update, the rest on collections.
type Args struct {
	Key any `json:"key,omitempty"`

	Filter     *Filter     `json:"filter,omitempty"`
	OrderBy    []Order     `json:"orderBy,omitempty"`
	Skip       *int        `json:"skip,omitempty"`
	First      *int        `json:"first,omitempty"`
	FlexSearch *SearchArgs `json:"flexSearch,omitempty"`

	Input map[string]any `json:"input,omitempty"`
}

// Filter is one predicate of a filter tree. Exactly one of the And, Or, Not
// or Field forms must be used.
type Filter struct {
	And []Filter `json:"and,omitempty"`
	Or  []Filter `json:"or,omitempty"`
	Not *Filter  `json:"not,omitempty"`

	// Field compares one scalar field of the filtered item against
	// Value. Op is one of eq, ne, lt, le, gt, ge, in; empty means eq.
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Order is one ordering criterion over a scalar field.
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// SearchArgs is a free-text search argument on a collection.
type SearchArgs struct {
	Expression string `json:"expression"`

	// Fields restricts the search to the named searchable fields. Empty
	// searches every searchable field of the type.
	Fields []string `json:"fields,omitempty"`

	// Language overrides the tokenization language. Empty uses the
	// language declared on the first searched field.
	Language string `json:"language,omitempty"`
}

// ParseOperation decodes a YAML or JSON operation document.
func ParseOperation(data []byte) (*Operation, error) {
	var op Operation
	if err := yaml.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return &op, nil
}

// IsWrite reports whether the operation is a mutation.
func (op *Operation) IsWrite() bool { return op.Kind == KindMutation }

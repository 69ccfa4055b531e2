package distill

import (
	"fmt"
	"strings"

	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Build lowers a distilled operation into its initial query tree. The root
// is always an Object with one property per root selection, keyed by alias,
// so a resolved operation never evaluates to null at the top level.
//
// Build performs every structural check on the operation: entry points must
// exist for the model, arguments must fit the entry point, selected fields
// must be declared, entity fields need sub-selections and scalar fields
// reject them. Any violation returns a client-input error wrapping
// ErrInvalidOperation, and no tree is produced.
func Build(m *model.Model, op *Operation) (querytree.Node, error) {
	if op == nil || len(op.Selections) == 0 {
		return nil, fmt.Errorf("%w: no selections", ErrInvalidOperation)
	}
	kind := op.Kind
	if kind == "" {
		kind = KindQuery
	}
	if kind != KindQuery && kind != KindMutation {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidOperation, kind)
	}

	b := &builder{model: m}
	props := make([]querytree.PropertySpec, 0, len(op.Selections))
	for i := range op.Selections {
		sel := &op.Selections[i]
		node, err := b.root(kind, sel)
		if err != nil {
			return nil, err
		}
		props = append(props, querytree.Prop(sel.Key(), node))
	}
	return querytree.Obj(props...), nil
}

type builder struct {
	model *model.Model
}

// Entry point kinds a root field can resolve to.
type rootKind int

const (
	rootGet rootKind = iota
	rootAll
	rootCreate
	rootUpdate
	rootDelete
)

// resolveRoot maps a root field name onto an entry point. An exact type
// name wins over prefix forms, so a type whose name happens to start with
// "all" or "create" stays addressable.
func (b *builder) resolveRoot(field string) (rootKind, *model.Type, bool) {
	if t := b.model.Type(field); t != nil {
		return rootGet, t, true
	}
	if rest, ok := strings.CutPrefix(field, "all"); ok {
		if name, ok := strings.CutSuffix(rest, "s"); ok {
			if t := b.model.Type(name); t != nil {
				return rootAll, t, true
			}
		}
	}
	writePrefixes := []struct {
		prefix string
		kind   rootKind
	}{
		{"create", rootCreate},
		{"update", rootUpdate},
		{"delete", rootDelete},
	}
	for _, wp := range writePrefixes {
		if rest, ok := strings.CutPrefix(field, wp.prefix); ok {
			if t := b.model.Type(rest); t != nil {
				return wp.kind, t, true
			}
		}
	}
	return 0, nil, false
}

func (b *builder) root(opKind string, sel *Selection) (querytree.Node, error) {
	kind, t, ok := b.resolveRoot(sel.Field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entry point %q", ErrInvalidOperation, sel.Field)
	}

	isWriteEntry := kind == rootCreate || kind == rootUpdate || kind == rootDelete
	if isWriteEntry && opKind != KindMutation {
		return nil, fmt.Errorf("%w: write entry point %q in a query operation", ErrInvalidOperation, sel.Field)
	}
	if !isWriteEntry && opKind != KindQuery {
		return nil, fmt.Errorf("%w: read entry point %q in a mutation operation", ErrInvalidOperation, sel.Field)
	}

	switch kind {
	case rootGet:
		return b.buildGet(t, sel)
	case rootAll:
		return b.buildAll(t, sel)
	case rootCreate:
		return b.buildCreate(t, sel)
	case rootUpdate:
		return b.buildUpdate(t, sel)
	default:
		return b.buildDelete(t, sel)
	}
}

func (b *builder) buildGet(t *model.Type, sel *Selection) (querytree.Node, error) {
	if sel.Args.Key == nil {
		return nil, fmt.Errorf("%w: %s requires a key argument", ErrInvalidOperation, sel.Field)
	}
	if err := onlyArgs(sel, "key"); err != nil {
		return nil, err
	}
	lookup := &querytree.ReferenceLookup{EntityType: t.Name, Key: querytree.Lit(sel.Args.Key)}
	return b.guarded(t, lookup, sel)
}

// guarded projects sel's sub-selections over an entity-valued node that may
// evaluate to null. The node appears both as the condition and inside the
// projection; evaluators treat a shared entity node as a single evaluation.
func (b *builder) guarded(t *model.Type, entity querytree.Node, sel *Selection) (querytree.Node, error) {
	proj, err := b.project(t, entity, sel)
	if err != nil {
		return nil, err
	}
	return &querytree.Conditional{Cond: entity, Then: proj, Else: querytree.NullValue}, nil
}

func (b *builder) buildAll(t *model.Type, sel *Selection) (querytree.Node, error) {
	if err := onlyArgs(sel, "filter", "orderBy", "skip", "first", "flexSearch"); err != nil {
		return nil, err
	}
	item := querytree.NewVariable(strings.ToLower(t.Name))
	tl := querytree.NewTransformList(&querytree.Entities{EntityType: t.Name}, item)
	if err := b.applyListArgs(t, tl, item, sel, true); err != nil {
		return nil, err
	}
	proj, err := b.project(t, item, sel)
	if err != nil {
		return nil, err
	}
	tl.Projection = proj
	return tl, nil
}

// applyListArgs lowers filter, order, window and search arguments onto tl.
// Search is only permitted over entity collections, where a backend can
// push the match down to its index.
func (b *builder) applyListArgs(t *model.Type, tl *querytree.TransformList, item *querytree.Variable, sel *Selection, allowSearch bool) error {
	args := &sel.Args

	var filter querytree.Node
	if args.Filter != nil {
		f, err := b.lowerFilter(t, item, args.Filter)
		if err != nil {
			return err
		}
		filter = f
	}
	if args.FlexSearch != nil {
		if !allowSearch {
			return fmt.Errorf("%w: flexSearch is only valid on entity collections", ErrInvalidOperation)
		}
		search, err := b.lowerSearch(t, item, args.FlexSearch)
		if err != nil {
			return err
		}
		filter = querytree.And(filter, search)
	}
	tl.Filter = filter

	for _, o := range args.OrderBy {
		f := t.Field(o.Field)
		if f == nil {
			return fmt.Errorf("%w: type %s has no field %q to order by", ErrInvalidOperation, t.Name, o.Field)
		}
		if f.IsEntity() || f.List {
			return fmt.Errorf("%w: cannot order by non-scalar field %s.%s", ErrInvalidOperation, t.Name, o.Field)
		}
		tl.OrderBy = append(tl.OrderBy, querytree.OrderTerm{
			Key:  &querytree.FieldAccess{Object: item, EntityType: t.Name, Field: o.Field},
			Desc: o.Desc,
		})
	}

	if args.Skip != nil {
		if *args.Skip < 0 {
			return fmt.Errorf("%w: skip must not be negative", ErrInvalidOperation)
		}
		tl.Skip = *args.Skip
	}
	if args.First != nil {
		if *args.First < 0 {
			return fmt.Errorf("%w: first must not be negative", ErrInvalidOperation)
		}
		tl.Limit = *args.First
	}
	return nil
}

var filterOps = map[string]querytree.BinaryOperator{
	"":   querytree.OpEqual,
	"eq": querytree.OpEqual,
	"ne": querytree.OpNotEqual,
	"lt": querytree.OpLess,
	"le": querytree.OpLessOrEqual,
	"gt": querytree.OpGreater,
	"ge": querytree.OpGreaterOrEqual,
	"in": querytree.OpIn,
}

func (b *builder) lowerFilter(t *model.Type, item querytree.Node, f *Filter) (querytree.Node, error) {
	forms := 0
	if len(f.And) > 0 {
		forms++
	}
	if len(f.Or) > 0 {
		forms++
	}
	if f.Not != nil {
		forms++
	}
	if f.Field != "" {
		forms++
	}
	if forms != 1 {
		return nil, fmt.Errorf("%w: filter must use exactly one of and, or, not or field", ErrInvalidOperation)
	}

	switch {
	case len(f.And) > 0:
		terms, err := b.lowerFilters(t, item, f.And)
		if err != nil {
			return nil, err
		}
		return querytree.And(terms...), nil
	case len(f.Or) > 0:
		terms, err := b.lowerFilters(t, item, f.Or)
		if err != nil {
			return nil, err
		}
		return querytree.Or(terms...), nil
	case f.Not != nil:
		inner, err := b.lowerFilter(t, item, f.Not)
		if err != nil {
			return nil, err
		}
		return querytree.Not(inner), nil
	}

	field := t.Field(f.Field)
	if field == nil {
		return nil, fmt.Errorf("%w: type %s has no field %q to filter on", ErrInvalidOperation, t.Name, f.Field)
	}
	if field.IsEntity() || field.List {
		return nil, fmt.Errorf("%w: cannot filter on non-scalar field %s.%s", ErrInvalidOperation, t.Name, f.Field)
	}
	op, ok := filterOps[f.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown filter operator %q", ErrInvalidOperation, f.Op)
	}
	if op == querytree.OpIn {
		if _, ok := f.Value.([]any); !ok {
			return nil, fmt.Errorf("%w: in filter on %s.%s needs a list value", ErrInvalidOperation, t.Name, f.Field)
		}
	}
	return querytree.Bin(op,
		&querytree.FieldAccess{Object: item, EntityType: t.Name, Field: f.Field},
		querytree.Lit(f.Value),
	), nil
}

func (b *builder) lowerFilters(t *model.Type, item querytree.Node, fs []Filter) ([]querytree.Node, error) {
	terms := make([]querytree.Node, 0, len(fs))
	for i := range fs {
		n, err := b.lowerFilter(t, item, &fs[i])
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	return terms, nil
}

func (b *builder) lowerSearch(t *model.Type, item querytree.Node, s *SearchArgs) (querytree.Node, error) {
	var fields []*model.Field
	if len(s.Fields) == 0 {
		fields = t.SearchableFields()
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: type %s has no searchable fields", ErrInvalidOperation, t.Name)
		}
	} else {
		for _, name := range s.Fields {
			f := t.Field(name)
			if f == nil || !f.Searchable {
				return nil, fmt.Errorf("%w: %s.%s is not searchable", ErrInvalidOperation, t.Name, name)
			}
			fields = append(fields, f)
		}
	}

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	lang := s.Language
	if lang == "" {
		lang = fields[0].SearchLanguage()
	}

	return &querytree.FlexSearch{
		Item:       item,
		EntityType: t.Name,
		Fields:     names,
		Expression: s.Expression,
		Language:   lang,
	}, nil
}

// project builds the result object for sel's sub-selections over an entity
// of type t produced by source.
func (b *builder) project(t *model.Type, source querytree.Node, sel *Selection) (querytree.Node, error) {
	if len(sel.Selections) == 0 {
		return nil, fmt.Errorf("%w: %s selects entities of type %s and needs sub-selections", ErrInvalidOperation, sel.Field, t.Name)
	}
	props := make([]querytree.PropertySpec, 0, len(sel.Selections))
	for i := range sel.Selections {
		sub := &sel.Selections[i]
		value, err := b.field(t, source, sub)
		if err != nil {
			return nil, err
		}
		props = append(props, querytree.Prop(sub.Key(), value))
	}
	return querytree.Obj(props...), nil
}

func (b *builder) field(t *model.Type, source querytree.Node, sel *Selection) (querytree.Node, error) {
	f := t.Field(sel.Field)
	if f == nil {
		return nil, fmt.Errorf("%w: type %s has no field %q", ErrInvalidOperation, t.Name, sel.Field)
	}
	access := &querytree.FieldAccess{Object: source, EntityType: t.Name, Field: sel.Field}

	if !f.IsEntity() {
		if len(sel.Selections) > 0 {
			return nil, fmt.Errorf("%w: scalar field %s.%s does not take sub-selections", ErrInvalidOperation, t.Name, sel.Field)
		}
		if err := onlyArgs(sel); err != nil {
			return nil, err
		}
		return access, nil
	}

	target := b.model.Type(f.Type)
	if target == nil {
		// Validate catches this; builds run against validated models.
		return nil, fmt.Errorf("%w: field %s.%s has undeclared type %q", ErrInvalidOperation, t.Name, sel.Field, f.Type)
	}

	switch {
	case f.List && f.Reference:
		if err := onlyArgs(sel); err != nil {
			return nil, err
		}
		key := querytree.NewVariable("key")
		lookup := &querytree.ReferenceLookup{EntityType: target.Name, Key: key}
		guarded, err := b.guarded(target, lookup, sel)
		if err != nil {
			return nil, err
		}
		tl := querytree.NewTransformList(access, key)
		tl.Projection = guarded
		return tl, nil

	case f.List:
		if err := onlyArgs(sel, "filter", "orderBy", "skip", "first"); err != nil {
			return nil, err
		}
		item := querytree.NewVariable(strings.ToLower(target.Name))
		tl := querytree.NewTransformList(access, item)
		if err := b.applyListArgs(target, tl, item, sel, false); err != nil {
			return nil, err
		}
		proj, err := b.project(target, item, sel)
		if err != nil {
			return nil, err
		}
		tl.Projection = proj
		return tl, nil

	case f.Reference:
		if err := onlyArgs(sel); err != nil {
			return nil, err
		}
		lookup := &querytree.ReferenceLookup{EntityType: target.Name, Key: access}
		return b.guarded(target, lookup, sel)

	default:
		if err := onlyArgs(sel); err != nil {
			return nil, err
		}
		return b.guarded(target, access, sel)
	}
}

func (b *builder) buildCreate(t *model.Type, sel *Selection) (querytree.Node, error) {
	if sel.Args.Input == nil {
		return nil, fmt.Errorf("%w: %s requires an input argument", ErrInvalidOperation, sel.Field)
	}
	if err := onlyArgs(sel, "input"); err != nil {
		return nil, err
	}
	input, err := b.inputObject(t, sel.Args.Input, true)
	if err != nil {
		return nil, err
	}
	node := &querytree.CreateEntity{EntityType: t.Name, Input: input}
	return b.guarded(t, node, sel)
}

func (b *builder) buildUpdate(t *model.Type, sel *Selection) (querytree.Node, error) {
	if sel.Args.Key == nil {
		return nil, fmt.Errorf("%w: %s requires a key argument", ErrInvalidOperation, sel.Field)
	}
	if sel.Args.Input == nil {
		return nil, fmt.Errorf("%w: %s requires an input argument", ErrInvalidOperation, sel.Field)
	}
	if err := onlyArgs(sel, "key", "input"); err != nil {
		return nil, err
	}
	input, err := b.inputObject(t, sel.Args.Input, false)
	if err != nil {
		return nil, err
	}
	node := &querytree.UpdateEntity{EntityType: t.Name, Key: querytree.Lit(sel.Args.Key), Input: input}
	return b.guarded(t, node, sel)
}

func (b *builder) buildDelete(t *model.Type, sel *Selection) (querytree.Node, error) {
	if sel.Args.Key == nil {
		return nil, fmt.Errorf("%w: %s requires a key argument", ErrInvalidOperation, sel.Field)
	}
	if err := onlyArgs(sel, "key"); err != nil {
		return nil, err
	}
	node := &querytree.DeleteEntity{EntityType: t.Name, Key: querytree.Lit(sel.Args.Key)}
	return b.guarded(t, node, sel)
}

// inputObject lowers a write payload into an Object node. On create,
// declared defaults fill omitted fields and the key field must not be set.
// On update, an explicit null removes the property from the stored
// document, which is where the removal sentinel enters a tree.
func (b *builder) inputObject(t *model.Type, input map[string]any, create bool) (querytree.Node, error) {
	var props []querytree.PropertySpec
	seen := make(map[string]bool, len(input))

	for i := range t.Fields {
		f := &t.Fields[i]
		v, present := input[f.Name]
		if !present {
			if create && f.Default != nil {
				props = append(props, querytree.Prop(f.Name, querytree.Lit(f.Default)))
			}
			continue
		}
		seen[f.Name] = true
		if f.Name == t.Key() {
			return nil, fmt.Errorf("%w: key field %s.%s cannot be set in input", ErrInvalidOperation, t.Name, f.Name)
		}
		if v == nil && !create {
			props = append(props, querytree.Prop(f.Name, querytree.RemoveProperty))
			continue
		}
		value, err := b.inputValue(t, f, v)
		if err != nil {
			return nil, err
		}
		props = append(props, querytree.Prop(f.Name, value))
	}

	for name := range input {
		if !seen[name] && t.Field(name) == nil {
			return nil, fmt.Errorf("%w: type %s has no field %q in input", ErrInvalidOperation, t.Name, name)
		}
	}
	return querytree.Obj(props...), nil
}

func (b *builder) inputValue(t *model.Type, f *model.Field, v any) (querytree.Node, error) {
	if v == nil {
		return querytree.Lit(nil), nil
	}
	if !f.IsEntity() || f.Reference {
		// Scalars and reference keys are stored as given.
		return querytree.Lit(v), nil
	}

	target := b.model.Type(f.Type)
	if f.List {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %s.%s takes a list of %s objects", ErrInvalidOperation, t.Name, f.Name, f.Type)
		}
		nodes := make([]querytree.Node, len(items))
		for i, item := range items {
			doc, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: field %s.%s takes a list of %s objects", ErrInvalidOperation, t.Name, f.Name, f.Type)
			}
			// Embedded objects replace wholesale on update, so nested
			// inputs always follow create semantics: defaults apply and
			// null is stored, not a removal.
			n, err := b.inputObject(target, doc, true)
			if err != nil {
				return nil, err
			}
			nodes[i] = n
		}
		return &querytree.List{Items: nodes}, nil
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: field %s.%s takes a %s object", ErrInvalidOperation, t.Name, f.Name, f.Type)
	}
	return b.inputObject(target, doc, true)
}

// onlyArgs rejects any argument of sel outside the allowed set.
func onlyArgs(sel *Selection, allowed ...string) error {
	ok := func(name string) bool {
		for _, a := range allowed {
			if a == name {
				return true
			}
		}
		return false
	}
	var offending string
	switch {
	case sel.Args.Key != nil && !ok("key"):
		offending = "key"
	case sel.Args.Filter != nil && !ok("filter"):
		offending = "filter"
	case len(sel.Args.OrderBy) > 0 && !ok("orderBy"):
		offending = "orderBy"
	case sel.Args.Skip != nil && !ok("skip"):
		offending = "skip"
	case sel.Args.First != nil && !ok("first"):
		offending = "first"
	case sel.Args.FlexSearch != nil && !ok("flexSearch"):
		offending = "flexSearch"
	case sel.Args.Input != nil && !ok("input"):
		offending = "input"
	}
	if offending != "" {
		return fmt.Errorf("%w: %s does not take a %s argument", ErrInvalidOperation, sel.Field, offending)
	}
	return nil
}

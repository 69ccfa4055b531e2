package querytree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Dump renders n as an indented multi-line tree for tracing and golden
// tests. The output is stable for a given tree: variables are numbered in
// order of first appearance. Dumps are diagnostics, not a serialization
// format.
func Dump(n Node) string {
	d := &dumper{vars: map[*Variable]int{}}
	n.dump(d)
	return d.b.String()
}

type dumper struct {
	b     strings.Builder
	depth int
	vars  map[*Variable]int
}

func (d *dumper) printf(format string, args ...any) {
	d.b.WriteString(strings.Repeat("  ", d.depth))
	fmt.Fprintf(&d.b, format, args...)
	d.b.WriteByte('\n')
}

// child prints n one level deeper. A non-empty label is printed on its own
// line at that level, with n nested under it.
func (d *dumper) child(label string, n Node) {
	d.depth++
	if label != "" {
		d.printf("%s", label)
		d.depth++
	}
	n.dump(d)
	if label != "" {
		d.depth--
	}
	d.depth--
}

func (d *dumper) varRef(v *Variable) string {
	seq, ok := d.vars[v]
	if !ok {
		seq = len(d.vars) + 1
		d.vars[v] = seq
	}
	label := v.Label
	if label == "" {
		label = "v"
	}
	return fmt.Sprintf("$%s#%d", label, seq)
}

func literalString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func (n *Null) dump(d *dumper)            { d.printf("null") }
func (n *Literal) dump(d *dumper)         { d.printf("literal %s", literalString(n.Value)) }
func (n *PropertyRemoval) dump(d *dumper) { d.printf("remove-property") }
func (n *Variable) dump(d *dumper)        { d.printf("%s", d.varRef(n)) }
func (n *Entities) dump(d *dumper)        { d.printf("entities %s", n.EntityType) }

func (n *Object) dump(d *dumper) {
	if len(n.Properties) == 0 {
		d.printf("object (empty)")
		return
	}
	d.printf("object")
	for _, p := range n.Properties {
		d.child(fmt.Sprintf("%q:", p.Name), p.Value)
	}
}

func (n *MergeObjects) dump(d *dumper) {
	d.printf("merge")
	for _, in := range n.Inputs {
		d.child("", in)
	}
}

func (n *List) dump(d *dumper) {
	if len(n.Items) == 0 {
		d.printf("list (empty)")
		return
	}
	d.printf("list")
	for _, it := range n.Items {
		d.child("", it)
	}
}

func (n *Conditional) dump(d *dumper) {
	d.printf("if")
	d.child("cond:", n.Cond)
	d.child("then:", n.Then)
	if n.Else != nil {
		d.child("else:", n.Else)
	}
}

func (n *FieldAccess) dump(d *dumper) {
	if n.EntityType != "" {
		d.printf("field %s.%s", n.EntityType, n.Field)
	} else {
		d.printf("field .%s", n.Field)
	}
	d.child("", n.Object)
}

func (n *ReferenceLookup) dump(d *dumper) {
	d.printf("lookup %s", n.EntityType)
	d.child("key:", n.Key)
}

func (n *FirstOf) dump(d *dumper) {
	d.printf("first")
	d.child("", n.Source)
}

func (n *TransformList) dump(d *dumper) {
	var window string
	if n.Skip > 0 {
		window += fmt.Sprintf(" skip=%d", n.Skip)
	}
	if n.Limit >= 0 {
		window += fmt.Sprintf(" limit=%d", n.Limit)
	}
	d.printf("transform item=%s%s", d.varRef(n.ItemVar), window)
	d.child("source:", n.Source)
	if n.Filter != nil {
		d.child("filter:", n.Filter)
	}
	for _, t := range n.OrderBy {
		dir := "asc"
		if t.Desc {
			dir = "desc"
		}
		d.child("order "+dir+":", t.Key)
	}
	if n.Projection != nil {
		d.child("project:", n.Projection)
	}
}

func (n *UnaryOp) dump(d *dumper) {
	d.printf("%s", n.Op)
	d.child("", n.Operand)
}

func (n *BinaryOp) dump(d *dumper) {
	d.printf("%s", n.Op)
	d.child("", n.Left)
	d.child("", n.Right)
}

func (n *FlexSearch) dump(d *dumper) {
	d.printf("flex-search %s fields=[%s] lang=%s expr=%q",
		n.EntityType, strings.Join(n.Fields, " "), n.Language, n.Expression)
	d.child("item:", n.Item)
}

func (n *SearchMatch) dump(d *dumper) {
	d.printf("search-match %s fields=[%s] lang=%s tokens=[%s]",
		n.EntityType, strings.Join(n.Fields, " "), n.Language, strings.Join(n.Tokens, " "))
	d.child("item:", n.Item)
}

func (n *CreateEntity) dump(d *dumper) {
	d.printf("create %s", n.EntityType)
	d.child("input:", n.Input)
}

func (n *UpdateEntity) dump(d *dumper) {
	d.printf("update %s", n.EntityType)
	d.child("key:", n.Key)
	d.child("input:", n.Input)
}

func (n *DeleteEntity) dump(d *dumper) {
	d.printf("delete %s", n.EntityType)
	d.child("key:", n.Key)
}

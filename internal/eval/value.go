package eval

import (
	"fmt"
	"sort"
)

// removal is the evaluated form of the RemoveProperty sentinel. It exists
// only between evaluating an object property and applying the merge; it
// never appears in a final result.
type removal struct{}

var removedValue = removal{}

// Truthy applies JSON truthiness: false, null, 0 and "" are false,
// everything else is true.
func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int64:
		return v != 0
	case int:
		return v != 0
	}
	return true
}

// numeric widens every supported number to float64.
func numeric(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float32:
		return float64(v), true
	}
	return 0, false
}

// bothInts reports whether both values are integers, in which case
// arithmetic stays integral.
func bothInts(a, b any) (int64, int64, bool) {
	ai, aok := asInt(a)
	bi, bok := asInt(b)
	return ai, bi, aok && bok
}

func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// equal compares two JSON-shaped values structurally. Numbers compare by
// value across int and float representations.
func equal(a, b any) bool {
	if an, ok := numeric(a); ok {
		bn, ok := numeric(b)
		return ok && an == bn
	}
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool:
		bb, ok := b.(bool)
		return ok && a == bb
	case string:
		bs, ok := b.(string)
		return ok && a == bs
	case []any:
		bl, ok := b.([]any)
		if !ok || len(a) != len(bl) {
			return false
		}
		for i := range a {
			if !equal(a[i], bl[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bm, ok := b.(map[string]any)
		if !ok || len(a) != len(bm) {
			return false
		}
		for k, av := range a {
			bv, ok := bm[k]
			if !ok || !equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// kindRank orders values of different kinds for sorting: null, then
// booleans, numbers, strings, then everything else. Within "everything
// else" order is arbitrary but stable per value.
func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int64, int, float32:
		return 2
	case string:
		return 3
	}
	return 4
}

// compare returns -1, 0 or 1 ordering a before/equal/after b under the
// total order used by sorting and the relational operators.
func compare(a, b any) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case 2:
		av, _ := numeric(a)
		bv, _ := numeric(b)
		switch {
		case av == bv:
			return 0
		case av < bv:
			return -1
		}
		return 1
	case 3:
		av, bv := a.(string), b.(string)
		switch {
		case av == bv:
			return 0
		case av < bv:
			return -1
		}
		return 1
	}
	return 0
}

// sortItems stably sorts items by their precomputed order keys, first key
// most significant.
func sortItems(items []orderedItem, desc []bool) {
	sort.SliceStable(items, func(i, j int) bool {
		for k := range desc {
			c := compare(items[i].keys[k], items[j].keys[k])
			if c == 0 {
				continue
			}
			if desc[k] {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

type orderedItem struct {
	value any
	keys  []any
}

// mergeInto applies one object's properties onto dst with later-wins
// semantics: a removal deletes the property, any other value replaces it
// wholesale. Nested objects are not merged recursively.
func mergeInto(dst map[string]any, src map[string]any) {
	for k, v := range src {
		if _, isRemoval := v.(removal); isRemoval {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// copyDoc is a shallow copy; evaluation must not alias documents owned by a
// source.
func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

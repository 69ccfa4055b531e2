package memory

import (
	"strings"
	"unicode"
)

// Tokenize is the reference tokenizer: case-fold, split on anything that is
// not a letter or a digit, drop empties, deduplicate preserving first-seen
// order. Database adapters use their engine's tokenizer instead; this one
// exists so the memory backend and tests have deterministic, dependency-free
// tokenization.
func Tokenize(expression string) []string {
	fields := strings.FieldsFunc(strings.ToLower(expression), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

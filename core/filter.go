package core

import "fmt"

// Filter is an exact-match predicate over record metadata. Every key in the
// filter must be present in the metadata with an equal value for the record to
// match.
type Filter map[string]any

// Matches reports whether metadata satisfies all filter constraints.
// Comparison is type-loose for numbers (int vs float64 after a JSON round
// trip compare equal) and strict string equality otherwise.
func (f Filter) Matches(metadata map[string]any) bool {
	if len(f) == 0 {
		return true
	}
	for key, want := range f {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !looseEqual(want, got) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

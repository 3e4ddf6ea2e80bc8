package functions

import (
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/paveg/tuplejoin/internal/tuple"
)

type number interface {
	constraints.Integer | constraints.Float
}

// isInteger reports whether v is one of the integer tags.
func isInteger(v any) bool {
	switch v.(type) {
	case int8, int16, int32, int64:
		return true
	default:
		return false
	}
}

func toInt64(v any) int64 {
	switch v := v.(type) {
	case int8:
		return widen(v)
	case int16:
		return widen(v)
	case int32:
		return widen(v)
	case int64:
		return v
	default:
		f, _ := tuple.ToFloat64(v)
		return int64(f)
	}
}

func widen[T constraints.Signed](v T) int64 { return int64(v) }

func mean[T number](xs []T) float64 {
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}

func median[T number](xs []T) float64 {
	s := slices.Clone(xs)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return float64(s[mid])
	}
	return (float64(s[mid-1]) + float64(s[mid])) / 2
}

// addChecked adds two int64 values and reports overflow.
func addChecked(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return c, false
	}
	return c, true
}

// sortValues sorts values with tuple.Compare, failing on incomparable pairs.
func sortValues(values []any) ([]any, error) {
	out := slices.Clone(values)
	var sortErr error
	slices.SortFunc(out, func(a, b any) int {
		c, err := tuple.Compare(a, b)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c
	})
	return out, sortErr
}

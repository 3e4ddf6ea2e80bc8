package tuple

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"

	errs "github.com/paveg/tuplejoin/internal/errors"
)

// Compare orders two values. Partial wrappers are ignored. Values with the
// same tag use their natural order; mixed numeric tags compare as float64 and
// mixed date-like tags compare as epoch millis. Null sorts before everything.
// Any other combination is a type mismatch.
func Compare(a, b any) (int, error) {
	a, b = Unwrap(a), Unwrap(b)
	ta, err := TagOf(a)
	if err != nil {
		return 0, err
	}
	tb, err := TagOf(b)
	if err != nil {
		return 0, err
	}

	switch {
	case ta == TagNull && tb == TagNull:
		return 0, nil
	case ta == TagNull:
		return -1, nil
	case tb == TagNull:
		return 1, nil
	case ta != tb:
		switch {
		case ta.IsNumeric() && tb.IsNumeric():
			return cmp.Compare(toFloat(a), toFloat(b)), nil
		case ta.IsDateLike() && tb.IsDateLike():
			return cmp.Compare(toMillis(a), toMillis(b)), nil
		}
		return 0, errs.NewTypeMismatchError("Compare", ta.String(), tb.String())
	}

	switch a := a.(type) {
	case int8:
		return cmp.Compare(a, b.(int8)), nil
	case int16:
		return cmp.Compare(a, b.(int16)), nil
	case int32:
		return cmp.Compare(a, b.(int32)), nil
	case int64:
		return cmp.Compare(a, b.(int64)), nil
	case float32:
		return cmp.Compare(a, b.(float32)), nil
	case float64:
		return cmp.Compare(a, b.(float64)), nil
	case bool:
		return compareBool(a, b.(bool)), nil
	case string:
		return strings.Compare(a, b.(string)), nil
	case []byte:
		return bytes.Compare(a, b.([]byte)), nil
	case Date:
		return cmp.Compare(a.Millis(), b.(Date).Millis()), nil
	case Time:
		return cmp.Compare(a.Millis(), b.(Time).Millis()), nil
	case Timestamp:
		return cmp.Compare(a.Nanos(), b.(Timestamp).Nanos()), nil
	case Map:
		return compareMaps(a, b.(Map)), nil
	case *Tuple:
		return a.Compare(b.(*Tuple))
	case Comparable:
		return a.CompareTo(b.(Comparable))
	case Writable:
		return compareWritables(a, b.(Writable))
	default:
		return 0, errs.NewUnsupportedTypeError("Compare", "", fmt.Sprintf("%T", a))
	}
}

// Equal reports whether Compare considers a and b equal. Incomparable values
// are not equal.
func Equal(a, b any) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func compareMaps(a, b Map) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	ak, bk := a.sortedKeys(), b.sortedKeys()
	for i := range ak {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := strings.Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return 0
}

func compareWritables(a, b Writable) (int, error) {
	if c := strings.Compare(a.WritableName(), b.WritableName()); c != 0 {
		return c, nil
	}
	ab, err := a.MarshalBinary()
	if err != nil {
		return 0, errs.NewInternalError("Compare", err)
	}
	bb, err := b.MarshalBinary()
	if err != nil {
		return 0, errs.NewInternalError("Compare", err)
	}
	return bytes.Compare(ab, bb), nil
}

// toFloat converts a numeric value to float64. Non-numeric values yield 0.
func toFloat(v any) float64 {
	switch v := v.(type) {
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// ToFloat64 converts any numeric value to float64.
func ToFloat64(v any) (float64, bool) {
	v = Unwrap(v)
	t, err := TagOf(v)
	if err != nil || !t.IsNumeric() {
		return 0, false
	}
	return toFloat(v), true
}

func toMillis(v any) int64 {
	switch v := v.(type) {
	case Date:
		return v.Millis()
	case Time:
		return v.Millis()
	case Timestamp:
		return v.Millis()
	default:
		return 0
	}
}

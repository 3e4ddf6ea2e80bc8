package tuple_test

import (
	"math"
	"testing"
	"time"

	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	epoch := time.Unix(0, 0)
	m1 := tuple.Map{"a": "1"}
	m2 := tuple.Map{"a": "2"}
	m3 := tuple.Map{"a": "1", "b": "1"}

	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"ints", int64(1), int64(2), -1},
		{"strings", "b", "a", 1},
		{"bools", false, true, -1},
		{"bytes", []byte{1}, []byte{1, 0}, -1},
		{"byte vs double", int8(3), 3.0, 0},
		{"int vs float", int32(2), float32(2.5), -1},
		{"long vs short", int64(1 << 20), int16(5), 1},
		{"date vs timestamp", tuple.NewDate(epoch), tuple.TimestampFromNanos(int64(time.Millisecond)), -1},
		{"time vs date", tuple.TimeFromMillis(10), tuple.DateFromMillis(10), 0},
		{"null first", nil, int64(math.MinInt64), -1},
		{"null last", "x", nil, 1},
		{"null null", nil, nil, 0},
		{"partial unwrap", tuple.Partial{Value: int64(5)}, int64(5), 0},
		{"maps by entry", m1, m2, -1},
		{"maps by size", m3, m2, 1},
		{"comparable", point{1, 2}, point{1, 3}, -1},
		{"nested tuples", tuple.Of("a", int64(1)), tuple.Of("a", int64(0)), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tuple.Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sign(got))
		})
	}
}

func TestCompareIncompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b any
	}{
		{"string vs long", "1", int64(1)},
		{"bool vs int", true, int32(1)},
		{"date vs string", tuple.DateFromMillis(0), "1970-01-01"},
		{"bytes vs string", []byte("a"), "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tuple.Compare(tt.a, tt.b)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrTypeMismatch)
		})
	}
}

func TestHashConsistentWithCompare(t *testing.T) {
	pairs := [][2]any{
		{int8(3), 3.0},
		{int64(7), float32(7)},
		{0.0, math.Copysign(0, -1)},
		{tuple.TimeFromMillis(1000), tuple.DateFromMillis(1000)},
		{tuple.Partial{Value: "x"}, "x"},
	}
	for _, p := range pairs {
		require.True(t, tuple.Equal(p[0], p[1]), "%v should equal %v", p[0], p[1])
		assert.Equal(t, tuple.HashValue(p[0]), tuple.HashValue(p[1]), "%v and %v", p[0], p[1])
	}

	a := tuple.Of("k", int32(1), "s", "v")
	b := tuple.Of("s", "v", "k", 1.0)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), tuple.Of("k", int32(2), "s", "v").Hash())
}

func TestToFloat64(t *testing.T) {
	f, ok := tuple.ToFloat64(int16(4))
	assert.True(t, ok)
	assert.Equal(t, 4.0, f)

	f, ok = tuple.ToFloat64(tuple.Partial{Value: float32(0.5)})
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	_, ok = tuple.ToFloat64("4")
	assert.False(t, ok)
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	default:
		return 0
	}
}

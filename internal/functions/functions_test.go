package functions_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/functions"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// run feeds values as column "v" and returns the emitted output values.
func run(t *testing.T, f engine.GroupFunction, values ...any) []any {
	t.Helper()
	acc := f.NewAccumulator()
	for _, v := range values {
		require.NoError(t, acc.Consume(tuple.Of("v", v)))
	}
	return results(t, f, acc)
}

func results(t *testing.T, f engine.GroupFunction, acc engine.Accumulator) []any {
	t.Helper()
	var out []any
	require.NoError(t, acc.Results(func(row *tuple.Tuple) error {
		v, ok := row.Get(f.Outputs()[0])
		require.True(t, ok)
		out = append(out, v)
		return nil
	}))
	return out
}

func TestAggregates(t *testing.T) {
	tests := []struct {
		name   string
		fn     engine.GroupFunction
		values []any
		want   any
	}{
		{"count skips nulls", functions.Count(0, "v", "out"), []any{int64(1), nil, "x"}, int64(2)},
		{"count empty", functions.Count(0, "v", "out"), nil, int64(0)},
		{"sum integers", functions.Sum(0, "v", "out"), []any{int64(1), int32(2), int8(3)}, int64(6)},
		{"sum mixed", functions.Sum(0, "v", "out"), []any{int64(1), 0.5}, 1.5},
		{"sum overflow widens", functions.Sum(0, "v", "out"), []any{int64(math.MaxInt64), int64(1)}, math.Pow(2, 63)},
		{"sum of nothing", functions.Sum(0, "v", "out"), []any{nil}, nil},
		{"min", functions.Min(0, "v", "out"), []any{int64(3), nil, int64(-2), int64(7)}, int64(-2)},
		{"max strings", functions.Max(0, "v", "out"), []any{"pear", "apple", "zucchini"}, "zucchini"},
		{"concat keeps order", functions.Concat(0, "v", "out", "|"), []any{"b", int64(1), nil, "a"}, "b|1|a"},
		{"first non-null", functions.First(0, "v", "out"), []any{nil, "k", "j"}, "k"},
		{"avg", functions.Avg(0, "v", "out"), []any{int64(1), int64(2), 4.5}, 2.5},
		{"median even", functions.Median(0, "v", "out"), []any{int64(4), int64(1), int64(3), int64(2)}, 2.5},
		{"avg of nothing", functions.Avg(0, "v", "out"), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, tt.fn, tt.values...)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestAggregateReset(t *testing.T) {
	f := functions.Sum(0, "v", "out")
	acc := f.NewAccumulator()
	require.NoError(t, acc.Consume(tuple.Of("v", int64(5))))
	acc.Reset()
	require.NoError(t, acc.Consume(tuple.Of("v", int64(2))))
	assert.Equal(t, []any{int64(2)}, results(t, f, acc))
}

func TestAggregateMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		fn   engine.GroupFunction
		row  *tuple.Tuple
	}{
		{"missing column", functions.Count(0, "v", "out"), tuple.Of("w", int64(1))},
		{"sum of string", functions.Sum(0, "v", "out"), tuple.Of("v", "abc")},
		{"avg of bool", functions.Avg(0, "v", "out"), tuple.Of("v", true)},
		{"partial count of string", functions.Count(0, "v", "out"), tuple.Of("v", tuple.Partial{Value: "x"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := tt.fn.NewAccumulator()
			assert.ErrorIs(t, acc.Check(tt.row), errs.ErrMalformedRow)
			assert.ErrorIs(t, acc.Consume(tt.row), errs.ErrMalformedRow)
		})
	}
}

func TestCheckLeavesStateUnchanged(t *testing.T) {
	fns := []engine.GroupFunction{
		functions.Count(0, "v", "out"),
		functions.Sum(0, "v", "out"),
		functions.Min(0, "v", "out"),
		functions.Concat(0, "v", "out", ","),
		functions.First(0, "v", "out"),
		functions.Median(0, "v", "out"),
		functions.Distinct(0, "v", "out"),
	}
	for _, f := range fns {
		t.Run(f.Name(), func(t *testing.T) {
			acc := f.NewAccumulator()
			require.NoError(t, acc.Consume(tuple.Of("v", int64(4))))
			require.NoError(t, acc.Check(tuple.Of("v", int64(1))))
			assert.Equal(t, run(t, f, int64(4)), results(t, f, acc))
		})
	}
}

func TestExtremeCheckRejectsIncomparableValue(t *testing.T) {
	acc := functions.Max(0, "v", "out").NewAccumulator()
	require.NoError(t, acc.Check(tuple.Of("v", "first")))
	require.NoError(t, acc.Consume(tuple.Of("v", "first")))
	assert.ErrorIs(t, acc.Check(tuple.Of("v", true)), errs.ErrTypeMismatch)
}

func TestDistinct(t *testing.T) {
	f := functions.Distinct(0, "v", "out")
	got := run(t, f, "b", "a", nil, "b", "c", "a")
	assert.Equal(t, []any{"a", "b", "c"}, got)

	_, isSingle := engine.GroupFunction(f).(engine.SingleRow)
	assert.False(t, isSingle)
}

// TestCombinedEqualsDirect checks that aggregating the partial results of
// any split of the input equals aggregating the input directly.
func TestCombinedEqualsDirect(t *testing.T) {
	ints := []any{int64(4), int64(-1), nil, int64(9), int64(2), int64(2)}
	strs := []any{"x", "y", nil, "z", "w"}
	tests := []struct {
		name   string
		fn     engine.GroupFunction
		values []any
	}{
		{"count", functions.Count(0, "v", "out"), ints},
		{"sum", functions.Sum(0, "v", "out"), ints},
		{"min", functions.Min(0, "v", "out"), ints},
		{"max", functions.Max(0, "v", "out"), ints},
		{"concat", functions.Concat(0, "v", "out", ","), strs},
		{"sum floats", functions.Sum(0, "v", "out"), []any{1.25, int64(2), 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, engine.CombinerEligible(tt.fn))
			want := run(t, tt.fn, tt.values...)

			for split := 0; split <= len(tt.values); split++ {
				left := run(t, tt.fn, tt.values[:split]...)
				right := run(t, tt.fn, tt.values[split:]...)

				acc := tt.fn.NewAccumulator()
				require.NoError(t, acc.Consume(tuple.Of("v", tuple.Partial{Value: left[0]})))
				require.NoError(t, acc.Consume(tuple.Of("v", tuple.Partial{Value: right[0]})))
				assert.Equal(t, want, results(t, tt.fn, acc), "split at %d", split)
			}
		})
	}
}

func TestNotCombinable(t *testing.T) {
	for _, f := range []engine.GroupFunction{
		functions.Avg(0, "v", "out"),
		functions.Median(0, "v", "out"),
		functions.Distinct(0, "v", "out"),
	} {
		assert.False(t, engine.CombinerEligible(f), f.Name())
	}
	assert.True(t, engine.CombinerEligible(functions.First(0, "v", "out")))
}

func TestColumn(t *testing.T) {
	f := functions.Column(1, "Price", "Cost")
	assert.Equal(t, []string{"price"}, f.Inputs())
	assert.Equal(t, []string{"cost"}, f.Outputs())
	assert.Equal(t, []datajoin.Tag{1}, f.Datasets())

	out, err := f.Extend(tuple.Of("price", 2.5, "other", "x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cost"}, out.Columns())
	v, _ := out.Get("cost")
	assert.Equal(t, 2.5, v)

	_, err = f.Extend(tuple.Of("other", "x"))
	assert.ErrorIs(t, err, errs.ErrMalformedRow)
}

func TestComputed(t *testing.T) {
	div := func(args ...any) (any, error) {
		b := args[1].(int64)
		if b == 0 {
			return nil, errors.New("division by zero")
		}
		return args[0].(int64) / b, nil
	}
	f := functions.Computed(0, []string{"a", "b"}, "q", div)

	out, err := f.Extend(tuple.Of("a", int64(9), "b", int64(3)))
	require.NoError(t, err)
	v, _ := out.Get("q")
	assert.Equal(t, int64(3), v)

	_, err = f.Extend(tuple.Of("a", int64(9), "b", int64(0)))
	assert.ErrorIs(t, err, errs.ErrMalformedRow)

	fatal := functions.Computed(0, []string{"a"}, "q", func(...any) (any, error) {
		return nil, errs.NewResourceError("compute", "out of disk")
	})
	_, err = fatal.Extend(tuple.Of("a", int64(1)))
	assert.ErrorIs(t, err, errs.ErrResource)
	assert.NotErrorIs(t, err, errs.ErrMalformedRow)

	cross := functions.CrossComputed([]datajoin.Tag{0, 2}, []string{"a", "b"}, "q", div)
	assert.Equal(t, []datajoin.Tag{0, 2}, cross.Datasets())
}

package functions

import (
	"fmt"
	"strings"

	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// aggregate is the shared shape of single-row group functions over one input
// column of one dataset.
type aggregate struct {
	base
	combinable bool
	keyOnly    bool
}

func newAggregate(name string, dataset datajoin.Tag, in, out string, combinable bool) aggregate {
	return aggregate{base: newBase(name, []datajoin.Tag{dataset}, []string{in}, out), combinable: combinable}
}

func (a aggregate) SingleRow() bool { return true }
func (a aggregate) Combinable() bool { return a.combinable }
func (a aggregate) KeyOnly() bool { return a.keyOnly }

// numeric reads the input column as a number. A null input returns a nil
// value and no error.
func (a aggregate) numeric(row *tuple.Tuple, verb string) (any, float64, error) {
	raw, err := a.input(row, a.inputs[0])
	if err != nil {
		return nil, 0, err
	}
	v := tuple.Unwrap(raw)
	if v == nil {
		return nil, 0, nil
	}
	f, ok := tuple.ToFloat64(v)
	if !ok {
		return nil, 0, errs.NewMalformedRowError(a.name, fmt.Sprintf("cannot %s %T", verb, v), nil)
	}
	return v, f, nil
}

// CountFunc counts non-null values. Partial inputs add their count.
type CountFunc struct{ aggregate }

// Count counts the non-null values of in.
func Count(dataset datajoin.Tag, in, out string) *CountFunc {
	return &CountFunc{newAggregate("count", dataset, in, out, true)}
}

func (f *CountFunc) NewAccumulator() engine.Accumulator { return &countAcc{f: f} }

type countAcc struct {
	f *CountFunc
	n int64
}

func (a *countAcc) Reset() { a.n = 0 }

// delta returns how much row adds to the count.
func (a *countAcc) delta(row *tuple.Tuple) (int64, error) {
	v, err := a.f.input(row, a.f.inputs[0])
	if err != nil {
		return 0, err
	}
	switch {
	case tuple.IsPartial(v):
		p := tuple.Unwrap(v)
		if p == nil {
			return 0, nil
		}
		if !isInteger(p) {
			return 0, errs.NewMalformedRowError(a.f.name, fmt.Sprintf("partial count is %T", p), nil)
		}
		return toInt64(p), nil
	case v != nil:
		return 1, nil
	}
	return 0, nil
}

func (a *countAcc) Check(row *tuple.Tuple) error {
	_, err := a.delta(row)
	return err
}

func (a *countAcc) Consume(row *tuple.Tuple) error {
	d, err := a.delta(row)
	if err != nil {
		return err
	}
	a.n += d
	return nil
}

func (a *countAcc) Results(emit func(*tuple.Tuple) error) error {
	row, err := single(a.f.output(), a.n)
	if err != nil {
		return err
	}
	return emit(row)
}

// SumFunc adds numeric values: int64 while every input is an integer,
// float64 otherwise or on overflow.
type SumFunc struct{ aggregate }

// Sum adds the values of in.
func Sum(dataset datajoin.Tag, in, out string) *SumFunc {
	return &SumFunc{newAggregate("sum", dataset, in, out, true)}
}

func (f *SumFunc) NewAccumulator() engine.Accumulator { return &sumAcc{f: f} }

type sumAcc struct {
	f       *SumFunc
	seen    bool
	isFloat bool
	i       int64
	fl      float64
}

func (a *sumAcc) Reset() { *a = sumAcc{f: a.f} }

func (a *sumAcc) Check(row *tuple.Tuple) error {
	_, _, err := a.f.numeric(row, "sum")
	return err
}

func (a *sumAcc) Consume(row *tuple.Tuple) error {
	v, f, err := a.f.numeric(row, "sum")
	if err != nil || v == nil {
		return err
	}
	a.seen = true
	if !a.isFloat && isInteger(v) {
		if sum, ok := addChecked(a.i, toInt64(v)); ok {
			a.i = sum
			return nil
		}
	}
	if !a.isFloat {
		a.isFloat = true
		a.fl = float64(a.i)
	}
	a.fl += f
	return nil
}

func (a *sumAcc) Results(emit func(*tuple.Tuple) error) error {
	var v any
	switch {
	case !a.seen:
		v = nil
	case a.isFloat:
		v = a.fl
	default:
		v = a.i
	}
	row, err := single(a.f.output(), v)
	if err != nil {
		return err
	}
	return emit(row)
}

// ExtremeFunc keeps the minimum or maximum value.
type ExtremeFunc struct {
	aggregate
	sign int
}

// Min keeps the smallest non-null value of in.
func Min(dataset datajoin.Tag, in, out string) *ExtremeFunc {
	return &ExtremeFunc{aggregate: newAggregate("min", dataset, in, out, true), sign: -1}
}

// Max keeps the largest non-null value of in.
func Max(dataset datajoin.Tag, in, out string) *ExtremeFunc {
	return &ExtremeFunc{aggregate: newAggregate("max", dataset, in, out, true), sign: 1}
}

func (f *ExtremeFunc) NewAccumulator() engine.Accumulator { return &extremeAcc{f: f} }

type extremeAcc struct {
	f    *ExtremeFunc
	best any
}

func (a *extremeAcc) Reset() { a.best = nil }

// better returns the row's value and whether it replaces the current best.
func (a *extremeAcc) better(row *tuple.Tuple) (any, bool, error) {
	raw, err := a.f.input(row, a.f.inputs[0])
	if err != nil {
		return nil, false, err
	}
	v := tuple.Unwrap(raw)
	if v == nil {
		return nil, false, nil
	}
	if a.best == nil {
		return v, true, nil
	}
	c, err := tuple.Compare(v, a.best)
	if err != nil {
		return nil, false, err
	}
	return v, c*a.f.sign > 0, nil
}

func (a *extremeAcc) Check(row *tuple.Tuple) error {
	_, _, err := a.better(row)
	return err
}

func (a *extremeAcc) Consume(row *tuple.Tuple) error {
	v, ok, err := a.better(row)
	if ok {
		a.best = v
	}
	return err
}

func (a *extremeAcc) Results(emit func(*tuple.Tuple) error) error {
	row, err := single(a.f.output(), a.best)
	if err != nil {
		return err
	}
	return emit(row)
}

// ConcatFunc joins string forms of values with a separator in arrival order.
type ConcatFunc struct {
	aggregate
	sep string
}

// Concat joins the non-null values of in with sep.
func Concat(dataset datajoin.Tag, in, out, sep string) *ConcatFunc {
	return &ConcatFunc{aggregate: newAggregate("concat", dataset, in, out, true), sep: sep}
}

func (f *ConcatFunc) NewAccumulator() engine.Accumulator { return &concatAcc{f: f} }

type concatAcc struct {
	f     *ConcatFunc
	parts []string
}

func (a *concatAcc) Reset() { a.parts = a.parts[:0] }

func (a *concatAcc) Check(row *tuple.Tuple) error {
	_, err := a.f.input(row, a.f.inputs[0])
	return err
}

func (a *concatAcc) Consume(row *tuple.Tuple) error {
	raw, err := a.f.input(row, a.f.inputs[0])
	if err != nil {
		return err
	}
	v := tuple.Unwrap(raw)
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		a.parts = append(a.parts, s)
		return nil
	}
	a.parts = append(a.parts, fmt.Sprint(v))
	return nil
}

func (a *concatAcc) Results(emit func(*tuple.Tuple) error) error {
	var v any
	if len(a.parts) > 0 {
		v = strings.Join(a.parts, a.f.sep)
	}
	row, err := single(a.f.output(), v)
	if err != nil {
		return err
	}
	return emit(row)
}

// FirstFunc keeps the first non-null value. Applied to a key column it
// depends only on the key.
type FirstFunc struct{ aggregate }

// First keeps the first non-null value of in.
func First(dataset datajoin.Tag, in, out string) *FirstFunc {
	f := &FirstFunc{newAggregate("first", dataset, in, out, false)}
	f.keyOnly = true
	return f
}

func (f *FirstFunc) NewAccumulator() engine.Accumulator { return &firstAcc{f: f} }

type firstAcc struct {
	f     *FirstFunc
	value any
}

func (a *firstAcc) Reset() { a.value = nil }

func (a *firstAcc) Check(row *tuple.Tuple) error {
	_, err := a.f.input(row, a.f.inputs[0])
	return err
}

func (a *firstAcc) Consume(row *tuple.Tuple) error {
	raw, err := a.f.input(row, a.f.inputs[0])
	if err != nil {
		return err
	}
	if a.value == nil {
		a.value = tuple.Unwrap(raw)
	}
	return nil
}

func (a *firstAcc) Results(emit func(*tuple.Tuple) error) error {
	row, err := single(a.f.output(), a.value)
	if err != nil {
		return err
	}
	return emit(row)
}

// StatFunc computes a statistic that needs every value at once. It is never
// combinable.
type StatFunc struct {
	aggregate
	stat func([]float64) float64
}

// Avg returns the arithmetic mean of the numeric values of in.
func Avg(dataset datajoin.Tag, in, out string) *StatFunc {
	return &StatFunc{aggregate: newAggregate("avg", dataset, in, out, false), stat: mean[float64]}
}

// Median returns the median of the numeric values of in.
func Median(dataset datajoin.Tag, in, out string) *StatFunc {
	return &StatFunc{aggregate: newAggregate("median", dataset, in, out, false), stat: median[float64]}
}

func (f *StatFunc) NewAccumulator() engine.Accumulator { return &statAcc{f: f} }

type statAcc struct {
	f      *StatFunc
	values []float64
}

func (a *statAcc) Reset() { a.values = a.values[:0] }

func (a *statAcc) Check(row *tuple.Tuple) error {
	_, _, err := a.f.numeric(row, "average")
	return err
}

func (a *statAcc) Consume(row *tuple.Tuple) error {
	v, f, err := a.f.numeric(row, "average")
	if err != nil || v == nil {
		return err
	}
	a.values = append(a.values, f)
	return nil
}

func (a *statAcc) Results(emit func(*tuple.Tuple) error) error {
	var v any
	if len(a.values) > 0 {
		v = a.f.stat(a.values)
	}
	row, err := single(a.f.output(), v)
	if err != nil {
		return err
	}
	return emit(row)
}

// DistinctFunc emits one row per distinct non-null value, in ascending order.
type DistinctFunc struct{ base }

// Distinct lists the distinct values of in.
func Distinct(dataset datajoin.Tag, in, out string) *DistinctFunc {
	return &DistinctFunc{newBase("distinct", []datajoin.Tag{dataset}, []string{in}, out)}
}

func (f *DistinctFunc) NewAccumulator() engine.Accumulator {
	return &distinctAcc{f: f, seen: make(map[uint64][]any)}
}

type distinctAcc struct {
	f      *DistinctFunc
	seen   map[uint64][]any
	values []any
}

func (a *distinctAcc) Reset() {
	clear(a.seen)
	a.values = a.values[:0]
}

func (a *distinctAcc) Check(row *tuple.Tuple) error {
	_, err := a.f.input(row, a.f.inputs[0])
	return err
}

func (a *distinctAcc) Consume(row *tuple.Tuple) error {
	raw, err := a.f.input(row, a.f.inputs[0])
	if err != nil {
		return err
	}
	v := tuple.Unwrap(raw)
	if v == nil {
		return nil
	}
	h := tuple.HashValue(v)
	for _, prev := range a.seen[h] {
		if tuple.Equal(prev, v) {
			return nil
		}
	}
	a.seen[h] = append(a.seen[h], v)
	a.values = append(a.values, v)
	return nil
}

func (a *distinctAcc) Results(emit func(*tuple.Tuple) error) error {
	sorted, err := sortValues(a.values)
	if err != nil {
		return err
	}
	for _, v := range sorted {
		row, err := single(a.f.output(), v)
		if err != nil {
			return err
		}
		if err := emit(row); err != nil {
			return err
		}
	}
	return nil
}

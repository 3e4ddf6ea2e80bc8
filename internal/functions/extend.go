package functions

import (
	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// ColumnFunc copies an input column to an output column.
type ColumnFunc struct{ base }

// Column projects in from dataset as out.
func Column(dataset datajoin.Tag, in, out string) *ColumnFunc {
	return &ColumnFunc{newBase("column", []datajoin.Tag{dataset}, []string{in}, out)}
}

// Extend implements engine.ExtendFunction.
func (f *ColumnFunc) Extend(row *tuple.Tuple) (*tuple.Tuple, error) {
	v, err := f.input(row, f.inputs[0])
	if err != nil {
		return nil, err
	}
	return single(f.output(), v)
}

// ComputeFunc derives an output value from input values.
type ComputeFunc func(args ...any) (any, error)

// ComputedFunc is an extend function backed by a ComputeFunc.
type ComputedFunc struct {
	base
	fn ComputeFunc
}

// Computed evaluates fn over the inputs of each row of dataset. A plain error
// from fn marks the row malformed.
func Computed(dataset datajoin.Tag, inputs []string, out string, fn ComputeFunc) *ComputedFunc {
	return &ComputedFunc{base: newBase("computed", []datajoin.Tag{dataset}, inputs, out), fn: fn}
}

// CrossComputed evaluates fn over merged rows drawn from several datasets.
func CrossComputed(datasets []datajoin.Tag, inputs []string, out string, fn ComputeFunc) *ComputedFunc {
	return &ComputedFunc{base: newBase("cross_computed", datasets, inputs, out), fn: fn}
}

// Extend implements engine.ExtendFunction.
func (f *ComputedFunc) Extend(row *tuple.Tuple) (*tuple.Tuple, error) {
	args := make([]any, len(f.inputs))
	for i, col := range f.inputs {
		v, err := f.input(row, col)
		if err != nil {
			return nil, err
		}
		args[i] = tuple.Unwrap(v)
	}
	v, err := f.fn(args...)
	if err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			return nil, errs.NewMalformedRowError(f.name, "compute failed", err)
		}
		return nil, err
	}
	return single(f.output(), v)
}

// Package engine evaluates joins and group-bys one key group at a time.
//
// A key group is the run of dataset-tagged rows that share a key, delivered
// with non-decreasing dataset tags. Output columns are produced by functions:
// extend functions project each row, group functions summarise all rows of a
// dataset. The per-dataset results are recombined by cross product into the
// final rows.
package engine

import (
	"errors"
	"fmt"

	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Function is the common contract of output column producers.
type Function interface {
	Name() string
	Inputs() []string
	Outputs() []string
	// Datasets lists the datasets the function reads. More than one makes it
	// a cross-dataset function evaluated over the cross product of their rows.
	Datasets() []datajoin.Tag
}

// ExtendFunction maps each input row to exactly one result row.
type ExtendFunction interface {
	Function
	Extend(row *tuple.Tuple) (*tuple.Tuple, error)
}

// GroupFunction summarises all rows of a key group.
type GroupFunction interface {
	Function
	NewAccumulator() Accumulator
}

// Accumulator holds the running state of a GroupFunction for one key group.
//
// Check returns the error Consume would return for row without changing any
// state. Every accumulator of a dataset checks a row before any of them
// consumes it, so a malformed row is seen by all of them or by none.
type Accumulator interface {
	Reset()
	Check(row *tuple.Tuple) error
	Consume(row *tuple.Tuple) error
	Results(emit func(*tuple.Tuple) error) error
}

// SingleRow is implemented by aggregates that always emit exactly one row.
type SingleRow interface {
	SingleRow() bool
}

// Combinable is implemented by functions whose accumulation is associative
// and commutative, so partial results can be merged in any grouping.
type Combinable interface {
	Combinable() bool
}

// KeyOnly is implemented by functions that depend only on the group key.
type KeyOnly interface {
	KeyOnly() bool
}

// NoMatcher overrides the row a function contributes for a dataset that is
// missing from an outer join.
type NoMatcher interface {
	NoMatch(null any) (*tuple.Tuple, error)
}

func isSingleRow(f Function) bool {
	s, ok := f.(SingleRow)
	return ok && s.SingleRow()
}

func isCombinable(f Function) bool {
	c, ok := f.(Combinable)
	return ok && c.Combinable()
}

func isKeyOnly(f Function) bool {
	k, ok := f.(KeyOnly)
	return ok && k.KeyOnly()
}

// noMatchRow returns the frozen row f contributes when its dataset is
// missing: every output column set to null.
func noMatchRow(f Function, null any) (*tuple.Tuple, error) {
	if nm, ok := f.(NoMatcher); ok {
		return nm.NoMatch(null)
	}
	row := tuple.New()
	for _, col := range f.Outputs() {
		if err := row.Set(col, null); err != nil {
			return nil, err
		}
	}
	if err := row.AttachSchema(f.Outputs()); err != nil {
		return nil, err
	}
	return row, nil
}

// checkAll checks row against every accumulator.
func checkAll(accs []Accumulator, row *tuple.Tuple) error {
	for _, a := range accs {
		if err := a.Check(row); err != nil {
			return err
		}
	}
	return nil
}

// consumeAll feeds a checked row to every accumulator. A row rejected after
// Check accepted it is a contract violation.
func consumeAll(op string, accs []Accumulator, row *tuple.Tuple) error {
	for _, a := range accs {
		if err := a.Consume(row); err != nil {
			if errors.Is(err, errs.ErrMalformedRow) {
				return errs.NewConsistencyError(op, fmt.Sprintf("accumulator rejected a checked row: %v", err))
			}
			return err
		}
	}
	return nil
}

// extendAll runs every extend function over row and merges their results.
func extendAll(fns []ExtendFunction, row *tuple.Tuple) (*tuple.Tuple, error) {
	var out *tuple.Tuple
	for _, f := range fns {
		r, err := f.Extend(row)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = r
			continue
		}
		if out, err = out.Merge(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

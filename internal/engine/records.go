package engine

import (
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Records is the ordered stream of dataset-tagged rows of one key group.
type Records interface {
	Next() bool
	Value() datajoin.Value
	Err() error
}

// SliceRecords serves Records from memory.
type SliceRecords struct {
	values []datajoin.Value
	pos    int
}

// NewSliceRecords returns Records over values.
func NewSliceRecords(values ...datajoin.Value) *SliceRecords {
	return &SliceRecords{values: values, pos: -1}
}

func (r *SliceRecords) Next() bool {
	if r.pos+1 >= len(r.values) {
		r.pos = len(r.values)
		return false
	}
	r.pos++
	return true
}

func (r *SliceRecords) Value() datajoin.Value { return r.values[r.pos] }

func (r *SliceRecords) Err() error { return nil }

// Emitter receives output rows.
type Emitter interface {
	Emit(row *tuple.Tuple) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(row *tuple.Tuple) error

// Emit calls f(row).
func (f EmitterFunc) Emit(row *tuple.Tuple) error { return f(row) }

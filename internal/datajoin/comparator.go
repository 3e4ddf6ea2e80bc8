package datajoin

import (
	"cmp"
	"strconv"
	"strings"

	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// SortColumn is one entry of a sort specification.
type SortColumn struct {
	Name         string `json:"name" yaml:"name"`
	Descending   bool   `json:"descending" yaml:"descending"`
	ForceNumeric bool   `json:"force_numeric" yaml:"force_numeric"`
}

// Asc is shorthand for an ascending sort column.
func Asc(name string) SortColumn { return SortColumn{Name: name} }

// Desc is shorthand for a descending sort column.
func Desc(name string) SortColumn { return SortColumn{Name: name, Descending: true} }

// Comparator orders keys. Declared columns are compared in order and the
// first non-zero result wins. Ties fall back to the raw key payload and then
// to the dataset tag, so the order is total and records of one key arrive
// grouped with ascending tags.
type Comparator struct {
	columns []SortColumn
}

// NewComparator returns a comparator over the given sort columns. With no
// columns keys are ordered by payload then tag.
func NewComparator(columns ...SortColumn) *Comparator {
	cols := make([]SortColumn, len(columns))
	for i, c := range columns {
		c.Name = strings.ToLower(c.Name)
		cols[i] = c
	}
	return &Comparator{columns: cols}
}

// Columns returns the sort specification.
func (c *Comparator) Columns() []SortColumn {
	return c.columns
}

// Compare orders two keys.
func (c *Comparator) Compare(a, b Key) (int, error) {
	r, err := c.ComparePayloads(a.Payload, b.Payload)
	if err != nil || r != 0 {
		return r, err
	}
	return cmp.Compare(a.Tag, b.Tag), nil
}

// ComparePayloads orders two key payloads by the sort columns and then by
// their raw value, ignoring dataset tags.
func (c *Comparator) ComparePayloads(a, b any) (int, error) {
	ta, aok := a.(*tuple.Tuple)
	tb, bok := b.(*tuple.Tuple)
	if aok && bok {
		for _, col := range c.columns {
			av, _ := ta.Get(col.Name)
			bv, _ := tb.Get(col.Name)
			r, err := compareColumn(col, av, bv)
			if err != nil {
				return 0, err
			}
			if r != 0 {
				return r, nil
			}
		}
	}
	return tuple.Compare(a, b)
}

func compareColumn(col SortColumn, a, b any) (int, error) {
	if col.ForceNumeric {
		var err error
		if a, err = forceNumeric(col.Name, a); err != nil {
			return 0, err
		}
		if b, err = forceNumeric(col.Name, b); err != nil {
			return 0, err
		}
	}
	r, err := tuple.Compare(a, b)
	if err != nil {
		if ee, ok := err.(*errs.EngineError); ok && ee.Column == "" {
			ee.Column = col.Name
		}
		return 0, err
	}
	if col.Descending {
		r = -r
	}
	return r, nil
}

// forceNumeric parses string values as numbers so "10" sorts after "9".
func forceNumeric(column string, v any) (any, error) {
	s, ok := tuple.Unwrap(v).(string)
	if !ok {
		return v, nil
	}
	if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		e := errs.NewTypeMismatchError("Compare", "string", "number")
		e.Column = column
		e.Cause = err
		return nil, e
	}
	return f, nil
}

// GroupEqual reports whether two keys belong to the same key group. Only the
// payload is compared; the dataset tag is ignored.
func GroupEqual(a, b Key) (bool, error) {
	r, err := tuple.Compare(a.Payload, b.Payload)
	return r == 0, err
}

// CompareEncoded orders two keys in their marshalled form.
func (c *Comparator) CompareEncoded(a, b []byte) (int, error) {
	var ka, kb Key
	if err := ka.UnmarshalBinary(a); err != nil {
		return 0, err
	}
	if err := kb.UnmarshalBinary(b); err != nil {
		return 0, err
	}
	return c.Compare(ka, kb)
}

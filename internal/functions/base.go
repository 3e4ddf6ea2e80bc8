// Package functions provides the built-in extend and group functions.
package functions

import (
	"fmt"
	"strings"

	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

type base struct {
	name     string
	datasets []datajoin.Tag
	inputs   []string
	outputs  []string
}

func newBase(name string, datasets []datajoin.Tag, inputs []string, outputs ...string) base {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	return base{name: name, datasets: datasets, inputs: lower(inputs), outputs: lower(outputs)}
}

func (b base) Name() string { return b.name }
func (b base) Inputs() []string { return b.inputs }
func (b base) Outputs() []string { return b.outputs }
func (b base) Datasets() []datajoin.Tag { return b.datasets }
func (b base) output() string { return b.outputs[0] }
func (b base) String() string { return fmt.Sprintf("%s(%s)", b.name, strings.Join(b.inputs, ", ")) }

// input fetches a declared input column. A row without it is malformed.
func (b base) input(row *tuple.Tuple, col string) (any, error) {
	v, ok := row.Get(col)
	if !ok {
		return nil, errs.NewMalformedRowError(b.name,
			fmt.Sprintf("row has no column %q", col), errs.NewColumnNotFoundError(b.name, col))
	}
	return v, nil
}

// single builds a one-column result row.
func single(col string, v any) (*tuple.Tuple, error) {
	out := tuple.New()
	if err := out.Set(col, v); err != nil {
		return nil, err
	}
	return out, nil
}

package engine

import (
	"errors"
	"fmt"

	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Combiner pre-aggregates map-side runs of rows that share a key. For each
// run it emits one row in which every group function's input column holds a
// tuple.Partial of the function's result; the reduce side merges partials
// into its running state, so output is the same with or without combining.
type Combiner struct {
	plan     *CompiledPlan
	accs     [][]Accumulator
	counters *monitoring.Counters
	tag      datajoin.Tag
	active   bool
}

// NewCombiner builds a combiner for the combinable datasets of plan.
func NewCombiner(plan *CompiledPlan, counters *monitoring.Counters) *Combiner {
	if counters == nil {
		counters = &monitoring.Counters{}
	}
	c := &Combiner{plan: plan, accs: make([][]Accumulator, plan.NumDatasets()), counters: counters}
	for d, ds := range plan.datasets {
		if !ds.combinable {
			continue
		}
		for _, g := range ds.groups {
			c.accs[d] = append(c.accs[d], g.NewAccumulator())
		}
	}
	return c
}

// Begin starts a new run for a dataset.
func (c *Combiner) Begin(tag datajoin.Tag) error {
	if !c.plan.Combinable(tag) {
		return errs.NewInvalidInputError("Combiner.Begin", fmt.Sprintf("dataset %d is not combinable", tag))
	}
	c.tag, c.active = tag, true
	for _, a := range c.accs[tag] {
		a.Reset()
	}
	return nil
}

// Consume feeds one row of the current run. Malformed rows are counted and
// skipped.
func (c *Combiner) Consume(row *tuple.Tuple) error {
	if !c.active {
		return errs.NewConsistencyError("Combiner.Consume", "no run started")
	}
	accs := c.accs[c.tag]
	if err := checkAll(accs, row); err != nil {
		if errors.Is(err, errs.ErrMalformedRow) {
			c.counters.Malformed.Add(1)
			return nil
		}
		return err
	}
	return consumeAll("Combiner.Consume", accs, row)
}

// Finish ends the run and returns its partial row.
func (c *Combiner) Finish() (*tuple.Tuple, error) {
	if !c.active {
		return nil, errs.NewConsistencyError("Combiner.Finish", "no run started")
	}
	c.active = false
	groups := c.plan.datasets[c.tag].groups
	out := tuple.New()
	for i, a := range c.accs[c.tag] {
		g := groups[i]
		var result *tuple.Tuple
		err := a.Results(func(r *tuple.Tuple) error {
			if result != nil {
				return errs.NewConsistencyError("Combiner.Finish",
					fmt.Sprintf("aggregate %s emitted more than one row", g.Name()))
			}
			result = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		var v any
		if result != nil {
			v, _ = result.Get(g.Outputs()[0])
		}
		if err := out.Set(g.Inputs()[0], tuple.Partial{Value: tuple.Unwrap(v)}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Combine runs Begin, Consume and Finish over rows.
func (c *Combiner) Combine(tag datajoin.Tag, rows []*tuple.Tuple) (*tuple.Tuple, error) {
	if err := c.Begin(tag); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := c.Consume(r); err != nil {
			c.active = false
			return nil, err
		}
	}
	return c.Finish()
}

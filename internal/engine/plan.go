package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// JoinType selects how missing datasets are treated.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
)

func (j JoinType) String() string {
	switch j {
	case InnerJoin:
		return "inner"
	case LeftOuterJoin:
		return "left"
	case RightOuterJoin:
		return "right"
	case FullOuterJoin:
		return "full"
	default:
		return fmt.Sprintf("JoinType(%d)", int(j))
	}
}

// ParseJoinType accepts inner, left, right and full, with an optional
// "outer" suffix.
func ParseJoinType(s string) (JoinType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "outer" {
		return FullOuterJoin, nil
	}
	s = strings.TrimRight(strings.TrimSuffix(s, "outer"), " _-")
	switch s {
	case "", "inner":
		return InnerJoin, nil
	case "left":
		return LeftOuterJoin, nil
	case "right":
		return RightOuterJoin, nil
	case "full":
		return FullOuterJoin, nil
	default:
		return 0, errs.NewInvalidInputError("ParseJoinType", fmt.Sprintf("unknown join type %q", s))
	}
}

// Filter decides whether a merged row is emitted.
type Filter func(row *tuple.Tuple) (bool, error)

// Plan declares a join or group-by.
type Plan struct {
	// Datasets names the inputs; the index is the dataset tag.
	Datasets  []string
	Functions []Function
	// Output is the emitted column order. Empty means every function output
	// in declaration order.
	Output    []string
	JoinType  JoinType
	NullValue any
	Filter    Filter
}

type datasetPlan struct {
	name       string
	extends    []ExtendFunction
	groups     []GroupFunction
	buffered   bool
	combinable bool
}

// crossSet holds the cross-dataset functions that read the same datasets.
// They are evaluated over the cross product of those datasets' rows only.
type crossSet struct {
	tags    []datajoin.Tag
	extends []ExtendFunction
	groups  []GroupFunction
}

// CompiledPlan is a validated Plan with functions sorted by role.
type CompiledPlan struct {
	plan       Plan
	datasets   []datasetPlan
	cross      []crossSet
	output     []string
	streamLast bool
}

// Compile validates p and partitions its functions.
func Compile(p Plan) (*CompiledPlan, error) {
	const op = "Compile"
	n := len(p.Datasets)
	if n == 0 {
		return nil, errs.NewInvalidInputError(op, "plan has no datasets")
	}
	if n > datajoin.MaxDatasets {
		return nil, errs.NewInvalidInputError(op, fmt.Sprintf("too many datasets: %d", n))
	}
	if p.JoinType < InnerJoin || p.JoinType > FullOuterJoin {
		return nil, errs.NewInvalidInputError(op, fmt.Sprintf("unknown join type %d", int(p.JoinType)))
	}
	if _, err := tuple.TagOf(tuple.Normalize(p.NullValue)); err != nil {
		return nil, errs.NewInvalidInputError(op, fmt.Sprintf("null replacement has unsupported type %T", p.NullValue))
	}
	if len(p.Functions) == 0 {
		return nil, errs.NewInvalidInputError(op, "plan has no functions")
	}

	cp := &CompiledPlan{plan: p, datasets: make([]datasetPlan, n)}
	cp.plan.NullValue = tuple.Normalize(p.NullValue)
	for i, name := range p.Datasets {
		cp.datasets[i].name = name
	}

	produced := make(map[string]string)
	var defaultOutput []string

	for _, f := range p.Functions {
		ext, isExt := f.(ExtendFunction)
		grp, isGrp := f.(GroupFunction)
		switch {
		case isExt && isGrp:
			return nil, errs.NewInvalidInputError(op, fmt.Sprintf("function %s is both extend and group", f.Name()))
		case !isExt && !isGrp:
			return nil, errs.NewInvalidInputError(op, fmt.Sprintf("function %s is neither extend nor group", f.Name()))
		}
		if len(f.Outputs()) == 0 {
			return nil, errs.NewInvalidInputError(op, fmt.Sprintf("function %s has no outputs", f.Name()))
		}
		for _, out := range f.Outputs() {
			out = strings.ToLower(out)
			if prev, dup := produced[out]; dup {
				return nil, errs.NewInvalidInputError(op,
					fmt.Sprintf("column %q produced by both %s and %s", out, prev, f.Name()))
			}
			produced[out] = f.Name()
			defaultOutput = append(defaultOutput, out)
		}

		tags := f.Datasets()
		if len(tags) == 0 {
			return nil, errs.NewInvalidInputError(op, fmt.Sprintf("function %s reads no dataset", f.Name()))
		}
		for i, tag := range tags {
			if int(tag) >= n {
				return nil, errs.NewInvalidInputError(op,
					fmt.Sprintf("function %s reads dataset %d, plan has %d", f.Name(), tag, n))
			}
			if slices.Contains(tags[:i], tag) {
				return nil, errs.NewInvalidInputError(op,
					fmt.Sprintf("function %s lists dataset %d twice", f.Name(), tag))
			}
		}

		if len(tags) == 1 {
			ds := &cp.datasets[tags[0]]
			if isExt {
				ds.extends = append(ds.extends, ext)
			} else {
				ds.groups = append(ds.groups, grp)
			}
			continue
		}
		set := cp.crossSetFor(tags)
		if isExt {
			set.extends = append(set.extends, ext)
		} else {
			set.groups = append(set.groups, grp)
		}
	}

	if len(p.Output) == 0 {
		cp.output = defaultOutput
	} else {
		seen := make(map[string]bool, len(p.Output))
		for _, col := range p.Output {
			col = strings.ToLower(col)
			if _, ok := produced[col]; !ok {
				return nil, errs.NewColumnNotFoundError(op, col)
			}
			if seen[col] {
				return nil, errs.NewInvalidInputError(op, fmt.Sprintf("output column %q listed twice", col))
			}
			seen[col] = true
			cp.output = append(cp.output, col)
		}
	}

	for i := range cp.datasets {
		cp.datasets[i].combinable = cp.checkCombinable(datajoin.Tag(i))
	}

	last := cp.datasets[n-1]
	cp.streamLast = len(last.groups) == 0 && len(last.extends) > 0 && len(cp.cross) == 0
	return cp, nil
}

// crossSetFor returns the set of functions reading exactly tags, adding it
// and marking its datasets buffered on first use.
func (cp *CompiledPlan) crossSetFor(tags []datajoin.Tag) *crossSet {
	key := slices.Clone(tags)
	slices.Sort(key)
	if i := slices.IndexFunc(cp.cross, func(s crossSet) bool { return slices.Equal(s.tags, key) }); i >= 0 {
		return &cp.cross[i]
	}
	for _, tag := range key {
		cp.datasets[tag].buffered = true
	}
	cp.cross = append(cp.cross, crossSet{tags: key})
	return &cp.cross[len(cp.cross)-1]
}

// checkCombinable reports whether the map side may pre-aggregate a dataset:
// every function of the dataset is an eligible group function and no input
// column is shared.
func (cp *CompiledPlan) checkCombinable(tag datajoin.Tag) bool {
	ds := cp.datasets[tag]
	if len(ds.groups) == 0 || len(ds.extends) > 0 || ds.buffered {
		return false
	}
	inputs := make(map[string]bool)
	for _, g := range ds.groups {
		if !CombinerEligible(g) {
			return false
		}
		in := strings.ToLower(g.Inputs()[0])
		if inputs[in] {
			return false
		}
		inputs[in] = true
	}
	return true
}

// CombinerEligible reports whether a group function can run in the combiner:
// one input, one output, one dataset, a single result row, and either
// associative and commutative accumulation or dependence on the key only.
func CombinerEligible(f GroupFunction) bool {
	return len(f.Inputs()) == 1 && len(f.Outputs()) == 1 && len(f.Datasets()) == 1 &&
		isSingleRow(f) && (isCombinable(f) || isKeyOnly(f))
}

// NumDatasets returns the number of datasets.
func (cp *CompiledPlan) NumDatasets() int { return len(cp.datasets) }

// DatasetName returns the declared name of a dataset.
func (cp *CompiledPlan) DatasetName(tag datajoin.Tag) string { return cp.datasets[tag].name }

// Output returns the emitted column order.
func (cp *CompiledPlan) Output() []string { return slices.Clone(cp.output) }

// JoinType returns the join kind.
func (cp *CompiledPlan) JoinType() JoinType { return cp.plan.JoinType }

// Combinable reports whether a dataset can be pre-aggregated by a Combiner.
func (cp *CompiledPlan) Combinable(tag datajoin.Tag) bool {
	return int(tag) < len(cp.datasets) && cp.datasets[tag].combinable
}

// Streams reports whether the last dataset's rows are emitted without
// buffering.
func (cp *CompiledPlan) Streams() bool { return cp.streamLast }

// Buffered reports whether a dataset's rows are kept for cross-dataset
// functions.
func (cp *CompiledPlan) Buffered(tag datajoin.Tag) bool {
	return int(tag) < len(cp.datasets) && cp.datasets[tag].buffered
}

// required reports whether a missing dataset aborts the key group.
func (cp *CompiledPlan) required(tag int) bool {
	switch cp.plan.JoinType {
	case InnerJoin:
		return true
	case LeftOuterJoin:
		return tag == 0
	case RightOuterJoin:
		return tag == len(cp.datasets)-1
	default:
		return false
	}
}

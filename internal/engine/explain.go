package engine

import (
	"fmt"
	"strings"

	"github.com/paveg/tuplejoin/internal/monitoring"
)

// Explain describes how the plan evaluates a key group.
func (cp *CompiledPlan) Explain() *monitoring.PlanBuilder {
	b := monitoring.NewPlanBuilder()

	var datasets []monitoring.PlanNode
	for d, ds := range cp.datasets {
		var notes []string
		if cp.required(d) {
			notes = append(notes, "required")
		}
		if ds.buffered {
			notes = append(notes, "buffered")
		}
		if ds.combinable {
			notes = append(notes, "combinable")
		}
		if d == len(cp.datasets)-1 && cp.streamLast {
			notes = append(notes, "streamed")
		}
		desc := fmt.Sprintf("%d %s", d, ds.name)
		if len(notes) > 0 {
			desc += " [" + strings.Join(notes, ", ") + "]"
		}

		var fns []monitoring.PlanNode
		for _, f := range ds.extends {
			fns = append(fns, functionNode("Extend", f))
		}
		for _, f := range ds.groups {
			fns = append(fns, functionNode("Group", f))
		}
		datasets = append(datasets, monitoring.PlanNode{Type: "Dataset", Description: desc, Children: fns})
	}
	b.AddOperationWithChildren("Join", fmt.Sprintf("%s over %d datasets", cp.plan.JoinType, len(cp.datasets)), datasets)

	for _, set := range cp.cross {
		var fns []monitoring.PlanNode
		for _, f := range set.extends {
			fns = append(fns, functionNode("Extend", f))
		}
		for _, f := range set.groups {
			fns = append(fns, functionNode("Group", f))
		}
		b.AddOperationWithChildren("Cross", fmt.Sprintf("datasets %v", set.tags), fns)
	}
	if cp.plan.Filter != nil {
		b.AddOperation("Filter", "predicate")
	}
	b.AddOperation("Output", strings.Join(cp.output, ", "))
	return b
}

func functionNode(kind string, f Function) monitoring.PlanNode {
	return monitoring.PlanNode{
		Type:        kind,
		Description: fmt.Sprintf("%s(%s) -> %s", f.Name(), strings.Join(f.Inputs(), ", "), strings.Join(f.Outputs(), ", ")),
	}
}

package monitoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlanNode is one step of an execution plan.
type PlanNode struct {
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Children    []PlanNode `json:"children,omitempty"`
}

// QueryPlan describes how a join will run, and after the run what it did.
type QueryPlan struct {
	Operations []PlanNode `json:"operations"`
	Actual     *Snapshot  `json:"actual,omitempty"`
}

// PlanBuilder helps construct execution plans.
type PlanBuilder struct {
	operations []PlanNode
	actual     *Snapshot
}

// NewPlanBuilder creates a new plan builder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{
		operations: make([]PlanNode, 0),
	}
}

// AddOperation adds a leaf step.
func (pb *PlanBuilder) AddOperation(opType, description string) *PlanBuilder {
	return pb.AddOperationWithChildren(opType, description, nil)
}

// AddOperationWithChildren adds a step with nested steps.
func (pb *PlanBuilder) AddOperationWithChildren(opType, description string, children []PlanNode) *PlanBuilder {
	pb.operations = append(pb.operations, PlanNode{
		Type:        opType,
		Description: description,
		Children:    children,
	})
	return pb
}

// SetActual attaches the counters of a finished run.
func (pb *PlanBuilder) SetActual(s Snapshot) *PlanBuilder {
	pb.actual = &s
	return pb
}

// Build constructs and returns the final query plan.
func (pb *PlanBuilder) Build() QueryPlan {
	return QueryPlan{
		Operations: pb.operations,
		Actual:     pb.actual,
	}
}

// ToJSON converts the query plan to indented JSON.
func (qp *QueryPlan) ToJSON() ([]byte, error) {
	return json.MarshalIndent(qp, "", "  ")
}

// GetOperationCount returns the total number of steps, nested ones included.
func (qp *QueryPlan) GetOperationCount() int {
	count := len(qp.Operations)
	for i := range qp.Operations {
		count += countChildOperations(&qp.Operations[i])
	}
	return count
}

func countChildOperations(node *PlanNode) int {
	count := len(node.Children)
	for i := range node.Children {
		count += countChildOperations(&node.Children[i])
	}
	return count
}

// String renders the plan as an indented tree.
func (qp *QueryPlan) String() string {
	var b strings.Builder
	var walk func(nodes []PlanNode, depth int)
	walk = func(nodes []PlanNode, depth int) {
		for _, n := range nodes {
			fmt.Fprintf(&b, "%s%s: %s\n", strings.Repeat("  ", depth), n.Type, n.Description)
			walk(n.Children, depth+1)
		}
	}
	walk(qp.Operations, 0)
	if qp.Actual != nil {
		a := qp.Actual
		fmt.Fprintf(&b, "actual: records=%d groups=%d emitted=%d filtered=%d malformed=%d aborted=%d spills=%d\n",
			a.Records, a.Groups, a.Emitted, a.Filtered, a.Malformed, a.Aborted, a.Spills)
	}
	return b.String()
}

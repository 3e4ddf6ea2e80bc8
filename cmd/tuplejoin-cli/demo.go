package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/paveg/tuplejoin"
	"github.com/paveg/tuplejoin/internal/config"
	"github.com/paveg/tuplejoin/internal/driver"
	"github.com/paveg/tuplejoin/internal/sink"
	"github.com/sirupsen/logrus"
)

const (
	demoRows      = 1000
	demoSellers   = 10
	demoMembers   = 8
	basePrice     = 5.0
	priceStepSize = 0.25
	priceSteps    = 40
)

var titleColor = color.New(color.FgYellow, color.Bold)

// sellerID names the seller of the i-th generated item.
func sellerID(i int) string {
	return fmt.Sprintf("S%03d", i)
}

// generateItems builds n items spread across sellers sellers.
func generateItems(n, sellers int) []*tuplejoin.Tuple {
	rows := make([]*tuplejoin.Tuple, n)
	for i := range n {
		rows[i] = tuplejoin.NewTuple(
			"item_id", int64(i+1),
			"seller_id", sellerID(i%sellers),
			"price", basePrice+float64(i%priceSteps)*priceStepSize,
		)
	}
	return rows
}

// generateMembers builds n members with ids matching sellerID.
func generateMembers(n int) []*tuplejoin.Tuple {
	rows := make([]*tuplejoin.Tuple, n)
	for i := range n {
		rows[i] = tuplejoin.NewTuple("id", sellerID(i), "name", fmt.Sprintf("Member %d", i+1))
	}
	return rows
}

func demoPlan(joinType tuplejoin.JoinType) (*tuplejoin.CompiledPlan, error) {
	return tuplejoin.Compile(tuplejoin.Plan{
		Datasets: []string{"items", "members"},
		Functions: []tuplejoin.Function{
			tuplejoin.Column(1, "name", "name"),
			tuplejoin.Count(0, "item_id", "items"),
			tuplejoin.Sum(0, "price", "revenue"),
			tuplejoin.Max(0, "price", "top_price"),
		},
		Output:    []string{"name", "items", "revenue", "top_price"},
		JoinType:  joinType,
		NullValue: "(unknown)",
	})
}

func demoDatasets(rows int) []tuplejoin.Dataset {
	return []tuplejoin.Dataset{
		{Name: "items", Key: []string{"seller_id"}, Rows: generateItems(rows, demoSellers)},
		{Name: "members", Key: []string{"id"}, Rows: generateMembers(demoMembers)},
	}
}

func runDemo(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, rows int, w io.Writer) error {
	if rows <= 0 {
		rows = demoRows
	}

	titleColor.Fprintln(w, "tuplejoin demo")
	fmt.Fprintf(w, "%d items from %d sellers, %d of them members\n\n", rows, demoSellers, demoMembers)

	for _, jt := range []tuplejoin.JoinType{tuplejoin.InnerJoin, tuplejoin.LeftOuterJoin} {
		plan, err := demoPlan(jt)
		if err != nil {
			return err
		}

		titleColor.Fprintf(w, "%s join\n", jt)
		qp := plan.Explain().Build()
		fmt.Fprint(w, qp.String())
		fmt.Fprintln(w)

		out := sink.NewCollector()
		runner := &driver.Runner{Config: cfg, Plan: plan, Datasets: demoDatasets(rows), Logger: logger}
		res, err := runner.Run(ctx, out)
		if err != nil {
			return err
		}
		sorted, err := sortedByName(ctx, cfg, logger, out.Rows())
		if err != nil {
			return err
		}
		printTable(w, plan.Output(), sorted)
		printSummary(w, res)
		fmt.Fprintln(w)
	}
	return nil
}

// sortedByName orders the output for display with the same external sort a
// sort plan uses.
func sortedByName(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, rows []*tuplejoin.Tuple) ([]*tuplejoin.Tuple, error) {
	out := sink.NewCollector()
	runner := &driver.Runner{Config: cfg, Logger: logger}
	if _, err := runner.Sort(ctx, rows, []tuplejoin.SortColumn{tuplejoin.Asc("name")}, out); err != nil {
		return nil, err
	}
	return out.Rows(), nil
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/paveg/tuplejoin"
	"github.com/paveg/tuplejoin/internal/config"
	"github.com/paveg/tuplejoin/internal/driver"
	"github.com/paveg/tuplejoin/internal/logging"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/sink"
)

const (
	benchmarkRows       = 200_000
	benchmarkSellers    = 5_000
	benchmarkIterations = 3
	spillFraction       = 10
)

func runBenchmark(ctx context.Context, cfg config.Config, rows int, w io.Writer) error {
	if rows <= 0 {
		rows = benchmarkRows
	}
	titleColor.Fprintln(w, "tuplejoin benchmark")
	fmt.Fprintf(w, "%d items across %d sellers\n\n", rows, benchmarkSellers)

	plan, err := demoPlan(tuplejoin.InnerJoin)
	if err != nil {
		return err
	}
	datasets := []tuplejoin.Dataset{
		{Name: "items", Key: []string{"seller_id"}, Rows: generateItems(rows, benchmarkSellers)},
		{Name: "members", Key: []string{"id"}, Rows: generateMembers(benchmarkSellers)},
	}

	join := func(cfg config.Config) func() (monitoring.Snapshot, error) {
		return func() (monitoring.Snapshot, error) {
			runner := &driver.Runner{Config: cfg, Plan: plan, Datasets: datasets, Logger: logging.Discard()}
			return counters(runner.Run(ctx, sink.NewCollector()))
		}
	}

	base := cfg
	base.MemoryMonitor = false

	noCombiner := base
	noCombiner.CombinerEnabled = false

	combiner := base
	combiner.CombinerEnabled = true

	spilling := noCombiner
	spilling.SpillThreshold = max(rows/spillFraction, 1)

	suite := monitoring.NewBenchmarkSuite()
	for _, sc := range []struct {
		name, desc string
		cfg        config.Config
	}{
		{"join", "inner join, count/sum/max per seller", noCombiner},
		{"join_combiner", "same join with map-side combining", combiner},
		{"join_spilling", fmt.Sprintf("same join spilling every %d rows", spilling.SpillThreshold), spilling},
	} {
		suite.AddScenario(monitoring.BenchmarkScenario{
			Name:        sc.name,
			Description: sc.desc,
			DataSize:    rows,
			Operation:   join(sc.cfg),
			Iterations:  benchmarkIterations,
		})
	}
	suite.AddScenario(monitoring.BenchmarkScenario{
		Name:        "sort",
		Description: "total sort by price descending",
		DataSize:    rows,
		Iterations:  benchmarkIterations,
		Operation: func() (monitoring.Snapshot, error) {
			runner := &driver.Runner{Config: spilling, Logger: logging.Discard()}
			return counters(runner.Sort(ctx, datasets[0].Rows, []tuplejoin.SortColumn{tuplejoin.Desc("price")}, sink.NewCollector()))
		},
	})

	suite.Run(ctx)
	fmt.Fprint(w, suite.GenerateReport())
	return ctx.Err()
}

func counters(res *driver.Result, err error) (monitoring.Snapshot, error) {
	if err != nil {
		return monitoring.Snapshot{}, err
	}
	return res.Counters, nil
}

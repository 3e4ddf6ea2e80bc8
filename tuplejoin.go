// Package tuplejoin joins and groups keyed relations of tuples.
//
// Rows from several named datasets are tagged, keyed and shuffled into
// sorted partitions. Each key group is then handed to a plan of functions
// that extend or aggregate it into output rows, with inner, left, right or
// full outer join semantics. Buffers that outgrow memory spill to disk.
//
// A minimal join:
//
//	plan, err := tuplejoin.Compile(tuplejoin.Plan{
//		Datasets: []string{"items", "members"},
//		Functions: []tuplejoin.Function{
//			tuplejoin.Column(1, "name", "name"),
//			tuplejoin.Count(0, "item", "total"),
//		},
//		Output: []string{"name", "total"},
//	})
//	if err != nil {
//		return err
//	}
//	rows, res, err := tuplejoin.Join(ctx, tuplejoin.DefaultConfig(), plan, items, members)
package tuplejoin

import (
	"context"
	"fmt"
	"os"

	"github.com/paveg/tuplejoin/internal/config"
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/driver"
	"github.com/paveg/tuplejoin/internal/engine"
	"github.com/paveg/tuplejoin/internal/functions"
	tjio "github.com/paveg/tuplejoin/internal/io"
	"github.com/paveg/tuplejoin/internal/logging"
	"github.com/paveg/tuplejoin/internal/sink"
	"github.com/paveg/tuplejoin/internal/tuple"
)

type (
	// Tuple is an ordered set of named values.
	Tuple = tuple.Tuple
	// Tag identifies a dataset by its position in Plan.Datasets.
	Tag = datajoin.Tag
	// Plan declares the datasets, functions and output of a join.
	Plan = engine.Plan
	// CompiledPlan is a validated Plan.
	CompiledPlan = engine.CompiledPlan
	// Function is one extend or group function of a plan.
	Function = engine.Function
	// JoinType selects which unmatched keys still produce output.
	JoinType = engine.JoinType
	// Filter drops output rows for which it returns false.
	Filter = engine.Filter
	// Emitter receives output rows.
	Emitter = engine.Emitter
	// EmitterFunc adapts a function to Emitter.
	EmitterFunc = engine.EmitterFunc
	// ComputeFunc derives one value from a function's inputs.
	ComputeFunc = functions.ComputeFunc
	// Dataset is one named input relation and its key columns.
	Dataset = driver.Dataset
	// Result summarises a run.
	Result = driver.Result
	// Config tunes spilling, concurrency and observability.
	Config = config.Config
	// SortColumn is one column of a sort order.
	SortColumn = datajoin.SortColumn
)

// Join types.
const (
	InnerJoin      = engine.InnerJoin
	LeftOuterJoin  = engine.LeftOuterJoin
	RightOuterJoin = engine.RightOuterJoin
	FullOuterJoin  = engine.FullOuterJoin
)

// NewTuple builds a tuple from alternating column names and values.
func NewTuple(pairs ...any) *Tuple { return tuple.Of(pairs...) }

// Compile validates p.
func Compile(p Plan) (*CompiledPlan, error) { return engine.Compile(p) }

// ParseJoinType accepts inner, left, right and full.
func ParseJoinType(s string) (JoinType, error) { return engine.ParseJoinType(s) }

// DefaultConfig returns the default configuration with TUPLEJOIN_*
// environment overrides applied.
func DefaultConfig() Config { return config.LoadFromEnv() }

// LoadConfig reads a JSON or YAML configuration file.
func LoadConfig(path string) (Config, error) { return config.LoadFromFile(path) }

// Column copies in from dataset to out.
func Column(dataset Tag, in, out string) Function { return functions.Column(dataset, in, out) }

// Computed derives out from inputs of one dataset.
func Computed(dataset Tag, inputs []string, out string, fn ComputeFunc) Function {
	return functions.Computed(dataset, inputs, out, fn)
}

// CrossComputed derives out from the merged row of several datasets.
func CrossComputed(datasets []Tag, inputs []string, out string, fn ComputeFunc) Function {
	return functions.CrossComputed(datasets, inputs, out, fn)
}

// Count counts the group's non-null values of in.
func Count(dataset Tag, in, out string) Function { return functions.Count(dataset, in, out) }

// Sum adds the group's values of in.
func Sum(dataset Tag, in, out string) Function { return functions.Sum(dataset, in, out) }

// Min keeps the smallest non-null value of in.
func Min(dataset Tag, in, out string) Function { return functions.Min(dataset, in, out) }

// Max keeps the largest non-null value of in.
func Max(dataset Tag, in, out string) Function { return functions.Max(dataset, in, out) }

// Avg averages the group's numeric values of in.
func Avg(dataset Tag, in, out string) Function { return functions.Avg(dataset, in, out) }

// Median returns the median of the group's numeric values of in.
func Median(dataset Tag, in, out string) Function { return functions.Median(dataset, in, out) }

// First keeps the first non-null value of in.
func First(dataset Tag, in, out string) Function { return functions.First(dataset, in, out) }

// Concat joins the group's non-null values of in with sep.
func Concat(dataset Tag, in, out, sep string) Function {
	return functions.Concat(dataset, in, out, sep)
}

// Distinct emits one row per distinct non-null value of in.
func Distinct(dataset Tag, in, out string) Function { return functions.Distinct(dataset, in, out) }

// Asc orders by name ascending.
func Asc(name string) SortColumn { return datajoin.Asc(name) }

// Desc orders by name descending.
func Desc(name string) SortColumn { return datajoin.Desc(name) }

// Join runs plan over datasets, given in plan order, and returns the
// output rows.
func Join(ctx context.Context, cfg Config, plan *CompiledPlan, datasets ...Dataset) ([]*Tuple, *Result, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	out := sink.NewCollector()
	r := &driver.Runner{Config: cfg, Plan: plan, Datasets: datasets, Logger: logger}
	res, err := r.Run(ctx, out)
	if err != nil {
		return nil, res, err
	}
	return out.Rows(), res, nil
}

// Sort orders rows by columns, spilling to disk as configured.
func Sort(ctx context.Context, cfg Config, rows []*Tuple, columns ...SortColumn) ([]*Tuple, *Result, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	out := sink.NewCollector()
	r := &driver.Runner{Config: cfg, Logger: logger}
	res, err := r.Sort(ctx, rows, columns, out)
	if err != nil {
		return nil, res, err
	}
	return out.Rows(), res, nil
}

// ReadFile loads the rows of a CSV, TSV, JSON, JSON lines or Parquet file,
// chosen by extension.
func ReadFile(path string) ([]*Tuple, error) {
	format, err := tjio.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader, err := tjio.NewReader(f, format, path)
	if err != nil {
		return nil, err
	}
	rows, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

// WriteFile writes rows to path in the format its extension names.
func WriteFile(path string, rows []*Tuple) (err error) {
	format, err := tjio.DetectFormat(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := tjio.NewWriter(f, format)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Emit(row); err != nil {
			return err
		}
	}
	return w.Close()
}

package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/functions"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(tag datajoin.Tag, ts ...*tuple.Tuple) []datajoin.Value {
	out := make([]datajoin.Value, len(ts))
	for i, t := range ts {
		out[i] = datajoin.NewValue(tag, t)
	}
	return out
}

func group(parts ...[]datajoin.Value) engine.Records {
	var all []datajoin.Value
	for _, p := range parts {
		all = append(all, p...)
	}
	return engine.NewSliceRecords(all...)
}

type collector struct{ rows []*tuple.Tuple }

func (c *collector) Emit(row *tuple.Tuple) error {
	c.rows = append(c.rows, row)
	return nil
}

// strings renders rows as sorted value lists for order-independent checks.
func (c *collector) strings() []string {
	out := make([]string, len(c.rows))
	for i, r := range c.rows {
		out[i] = strings.TrimSuffix(fmt.Sprintln(r.Values()...), "\n")
	}
	sort.Strings(out)
	return out
}

func newProcessor(t *testing.T, plan engine.Plan, opts ...engine.ProcessorOption) *engine.Processor {
	t.Helper()
	cp, err := engine.Compile(plan)
	require.NoError(t, err)
	base := []engine.ProcessorOption{
		engine.WithBucketOptions(bucket.WithDir(t.TempDir()), bucket.WithMinFreeDisk(0)),
	}
	p, err := engine.NewProcessor(cp, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestItemsMembersScenario(t *testing.T) {
	plan := engine.Plan{
		Datasets: []string{"items", "members"},
		Functions: []engine.Function{
			functions.Count(0, "ITEM_ID", "count"),
			functions.Column(1, "NAME", "name"),
		},
		Output: []string{"name", "count"},
	}
	p := newProcessor(t, plan)
	out := &collector{}
	ctx := context.Background()

	item := func(id int64, seller string, price int64) *tuple.Tuple {
		return tuple.Of("ITEM_ID", id, "SELLER_ID", seller, "PRICE", price)
	}
	member := func(id, name string) *tuple.Tuple {
		return tuple.Of("ID", id, "NAME", name)
	}

	require.NoError(t, p.Process(ctx, group(rows(0, item(1, "A", 10), item(2, "A", 20)), rows(1, member("A", "Alice"))), out))
	require.NoError(t, p.Process(ctx, group(rows(0, item(3, "B", 5)), rows(1, member("B", "Bob"))), out))

	require.Len(t, out.rows, 2)
	assert.Equal(t, []string{"name", "count"}, out.rows[0].Columns())
	assert.Equal(t, []any{"Alice", int64(2)}, out.rows[0].Values())
	assert.Equal(t, []any{"Bob", int64(1)}, out.rows[1].Values())

	snap := p.Counters().Snapshot()
	assert.Equal(t, int64(2), snap.Groups)
	assert.Equal(t, int64(2), snap.Emitted)
	assert.Equal(t, int64(5), snap.Records)
}

func threeWay(join engine.JoinType) engine.Plan {
	return engine.Plan{
		Datasets: []string{"a", "b", "c"},
		Functions: []engine.Function{
			functions.Column(0, "a", "a"),
			functions.Column(1, "b", "b"),
			functions.Column(2, "c", "c"),
		},
		JoinType:  join,
		NullValue: "N/A",
	}
}

func TestInnerJoinRequiresAllDatasets(t *testing.T) {
	p := newProcessor(t, threeWay(engine.InnerJoin))
	out := &collector{}

	err := p.Process(context.Background(), group(
		rows(0, tuple.Of("a", int64(1)), tuple.Of("a", int64(2))),
		rows(1, tuple.Of("b", "x")),
	), out)
	require.NoError(t, err)
	assert.Empty(t, out.rows)
	assert.Equal(t, int64(1), p.Counters().Snapshot().Aborted)

	err = p.Process(context.Background(), group(
		rows(0, tuple.Of("a", int64(1)), tuple.Of("a", int64(2))),
		rows(1, tuple.Of("b", "x")),
		rows(2, tuple.Of("c", true)),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 x true", "2 x true"}, out.strings())
}

func TestLeftOuterJoinFillsMissingDataset(t *testing.T) {
	p := newProcessor(t, threeWay(engine.LeftOuterJoin))
	out := &collector{}

	err := p.Process(context.Background(), group(
		rows(0, tuple.Of("a", int64(1)), tuple.Of("a", int64(2))),
		rows(1, tuple.Of("b", "x"), tuple.Of("b", "y")),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 x N/A", "1 y N/A", "2 x N/A", "2 y N/A"}, out.strings())

	// dataset 0 is required
	out.rows = nil
	err = p.Process(context.Background(), group(rows(1, tuple.Of("b", "x"))), out)
	require.NoError(t, err)
	assert.Empty(t, out.rows)
}

func TestRightOuterJoin(t *testing.T) {
	p := newProcessor(t, threeWay(engine.RightOuterJoin))
	out := &collector{}

	err := p.Process(context.Background(), group(
		rows(1, tuple.Of("b", "x")),
		rows(2, tuple.Of("c", true)),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"N/A x true"}, out.strings())

	out.rows = nil
	err = p.Process(context.Background(), group(rows(0, tuple.Of("a", int64(1)))), out)
	require.NoError(t, err)
	assert.Empty(t, out.rows, "last dataset is required")
}

func TestFullOuterJoin(t *testing.T) {
	plan := threeWay(engine.FullOuterJoin)
	plan.NullValue = nil
	p := newProcessor(t, plan)
	out := &collector{}

	err := p.Process(context.Background(), group(rows(1, tuple.Of("b", "only"))), out)
	require.NoError(t, err)
	require.Len(t, out.rows, 1)
	assert.Equal(t, []any{nil, "only", nil}, out.rows[0].Values())
}

func TestGroupOnLastDatasetIsNotStreamed(t *testing.T) {
	plan := engine.Plan{
		Datasets: []string{"users", "orders"},
		Functions: []engine.Function{
			functions.Column(0, "name", "name"),
			functions.Sum(1, "amount", "total"),
			functions.Max(1, "amount", "largest"),
		},
	}
	cp, err := engine.Compile(plan)
	require.NoError(t, err)
	assert.False(t, cp.Streams())

	p := newProcessor(t, plan)
	out := &collector{}
	err = p.Process(context.Background(), group(
		rows(0, tuple.Of("name", "ann")),
		rows(1, tuple.Of("amount", int64(5)), tuple.Of("amount", int64(7))),
	), out)
	require.NoError(t, err)
	require.Len(t, out.rows, 1)
	assert.Equal(t, []string{"name", "total", "largest"}, out.rows[0].Columns())
	assert.Equal(t, []any{"ann", int64(12), int64(7)}, out.rows[0].Values())
}

// pairCount is a cross-dataset group function counting row combinations.
type pairCount struct{}

func (pairCount) Name() string { return "pairs" }
func (pairCount) Inputs() []string { return nil }
func (pairCount) Outputs() []string { return []string{"pairs"} }
func (pairCount) Datasets() []datajoin.Tag { return []datajoin.Tag{0, 1} }
func (pairCount) SingleRow() bool { return true }
func (pairCount) NewAccumulator() engine.Accumulator {
	return &pairAcc{}
}

type pairAcc struct{ n int64 }

func (a *pairAcc) Reset() { a.n = 0 }
func (a *pairAcc) Check(*tuple.Tuple) error { return nil }
func (a *pairAcc) Consume(*tuple.Tuple) error { a.n++; return nil }
func (a *pairAcc) Results(emit func(*tuple.Tuple) error) error {
	return emit(tuple.Of("pairs", a.n))
}

func TestCrossDatasetFunctions(t *testing.T) {
	mult := func(args ...any) (any, error) {
		return args[0].(int64) * args[1].(int64), nil
	}
	plan := engine.Plan{
		Datasets: []string{"orders", "prices"},
		Functions: []engine.Function{
			functions.CrossComputed([]datajoin.Tag{0, 1}, []string{"qty", "price"}, "total", mult),
			pairCount{},
		},
		Output: []string{"total", "pairs"},
	}
	cp, err := engine.Compile(plan)
	require.NoError(t, err)
	assert.True(t, cp.Buffered(0))
	assert.True(t, cp.Buffered(1))
	assert.False(t, cp.Streams())

	p := newProcessor(t, plan, engine.WithBucketOptions(bucket.WithThreshold(1)))
	out := &collector{}
	err = p.Process(context.Background(), group(
		rows(0, tuple.Of("qty", int64(2)), tuple.Of("qty", int64(3))),
		rows(1, tuple.Of("price", int64(10)), tuple.Of("price", int64(100))),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"20 4", "200 4", "30 4", "300 4"}, out.strings())
}

func TestCrossFunctionsOverDifferentDatasets(t *testing.T) {
	concat := func(args ...any) (any, error) {
		return args[0].(string) + args[1].(string), nil
	}
	plan := engine.Plan{
		Datasets: []string{"a", "b", "c"},
		Functions: []engine.Function{
			pairCount{},
			functions.CrossComputed([]datajoin.Tag{2, 1}, []string{"b", "c"}, "bc", concat),
		},
		Output: []string{"bc", "pairs"},
	}
	cp, err := engine.Compile(plan)
	require.NoError(t, err)
	for tag := range 3 {
		assert.True(t, cp.Buffered(datajoin.Tag(tag)))
	}
	qp := cp.Explain().Build()
	text := qp.String()
	assert.Contains(t, text, "Cross: datasets [0 1]")
	assert.Contains(t, text, "Cross: datasets [1 2]")

	p := newProcessor(t, plan)
	out := &collector{}
	err = p.Process(context.Background(), group(
		rows(0, tuple.Of("a", int64(1)), tuple.Of("a", int64(2))),
		rows(1, tuple.Of("b", "x")),
		rows(2, tuple.Of("c", "p"), tuple.Of("c", "q"), tuple.Of("c", "r")),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"xp 2", "xq 2", "xr 2"}, out.strings())
}

func TestFilter(t *testing.T) {
	plan := threeWay(engine.InnerJoin)
	plan.Filter = func(row *tuple.Tuple) (bool, error) {
		v, _ := row.Get("a")
		return v.(int64) > 1, nil
	}
	p := newProcessor(t, plan)
	out := &collector{}
	err := p.Process(context.Background(), group(
		rows(0, tuple.Of("a", int64(1)), tuple.Of("a", int64(2))),
		rows(1, tuple.Of("b", "x")),
		rows(2, tuple.Of("c", "z")),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"2 x z"}, out.strings())
	assert.Equal(t, int64(1), p.Counters().Snapshot().Filtered)
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	p := newProcessor(t, threeWay(engine.InnerJoin))
	out := &collector{}

	records := []datajoin.Value{
		datajoin.NewValue(0, tuple.Of("a", int64(1))),
		datajoin.NewValue(0, tuple.Of("wrong", int64(9))),
		datajoin.NewValue(1, tuple.Of("b", "x")),
		datajoin.NewValue(1, "not a tuple"),
		datajoin.NewValue(2, tuple.Of("c", "z")),
		datajoin.NewValue(7, tuple.Of("c", "z")),
	}
	require.NoError(t, p.Process(context.Background(), engine.NewSliceRecords(records...), out))
	assert.Equal(t, []string{"1 x z"}, out.strings())
	assert.Equal(t, int64(3), p.Counters().Snapshot().Malformed)
}

func TestMalformedRowIsSkippedByEveryAggregate(t *testing.T) {
	plan := engine.Plan{
		Datasets: []string{"a"},
		Functions: []engine.Function{
			functions.Count(0, "x", "n"),
			functions.Sum(0, "y", "total"),
		},
		Output: []string{"n", "total"},
	}
	p := newProcessor(t, plan)
	out := &collector{}
	err := p.Process(context.Background(), group(rows(0,
		tuple.Of("x", int64(1), "y", int64(5)),
		tuple.Of("x", int64(2), "y", "bad"),
	)), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 5"}, out.strings())
	assert.Equal(t, int64(1), p.Counters().Snapshot().Malformed)
}

func TestNoMatchRowsSurviveGroupReuse(t *testing.T) {
	p := newProcessor(t, threeWay(engine.FullOuterJoin), engine.WithBucketOptions(bucket.WithThreshold(1)))
	groups := []engine.Records{
		group(rows(0, tuple.Of("a", int64(1))), rows(1, tuple.Of("b", "x"))),
		group(rows(1, tuple.Of("b", "y"))),
		group(rows(0, tuple.Of("a", int64(2))), rows(2, tuple.Of("c", "z"))),
	}
	want := [][]string{{"1 x N/A"}, {"N/A y N/A"}, {"2 N/A z"}}
	for i, records := range groups {
		out := &collector{}
		require.NoError(t, p.Process(context.Background(), records, out))
		assert.Equal(t, want[i], out.strings(), "group %d", i)
	}
	for _, l := range p.Lists() {
		assert.False(t, l.IsImmutable())
	}
}

func TestDecreasingTagIsConsistencyError(t *testing.T) {
	p := newProcessor(t, threeWay(engine.InnerJoin))
	err := p.Process(context.Background(), group(
		rows(1, tuple.Of("b", "x")),
		rows(0, tuple.Of("a", int64(1))),
	), &collector{})
	assert.ErrorIs(t, err, errs.ErrConsistency)
}

// twoRows claims to be an aggregate but emits two rows.
type twoRows struct{ pairCount }

func (twoRows) Datasets() []datajoin.Tag { return []datajoin.Tag{0} }
func (twoRows) NewAccumulator() engine.Accumulator {
	return &twoRowsAcc{}
}

type twoRowsAcc struct{ pairAcc }

func (a *twoRowsAcc) Results(emit func(*tuple.Tuple) error) error {
	if err := emit(tuple.Of("pairs", int64(1))); err != nil {
		return err
	}
	return emit(tuple.Of("pairs", int64(2)))
}

func TestAggregateEmittingManyRowsFails(t *testing.T) {
	p := newProcessor(t, engine.Plan{Datasets: []string{"a"}, Functions: []engine.Function{twoRows{}}})
	err := p.Process(context.Background(), group(rows(0, tuple.Of("x", int64(1)))), &collector{})
	assert.ErrorIs(t, err, errs.ErrConsistency)
}

func TestMultiRowGroupFunction(t *testing.T) {
	plan := engine.Plan{
		Datasets: []string{"tags", "owner"},
		Functions: []engine.Function{
			functions.Distinct(0, "tag", "tag"),
			functions.Column(1, "owner", "owner"),
		},
	}
	p := newProcessor(t, plan)
	out := &collector{}
	err := p.Process(context.Background(), group(
		rows(0, tuple.Of("tag", "b"), tuple.Of("tag", "a"), tuple.Of("tag", "b")),
		rows(1, tuple.Of("owner", "z")),
	), out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a z", "b z"}, out.strings())
}

func TestCancellation(t *testing.T) {
	p := newProcessor(t, threeWay(engine.InnerJoin))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Process(ctx, group(rows(0, tuple.Of("a", int64(1)))), &collector{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEmitErrorStopsProcessing(t *testing.T) {
	p := newProcessor(t, threeWay(engine.InnerJoin))
	boom := errors.New("sink full")
	err := p.Process(context.Background(), group(
		rows(0, tuple.Of("a", int64(1))),
		rows(1, tuple.Of("b", "x")),
		rows(2, tuple.Of("c", "z")),
	), engine.EmitterFunc(func(*tuple.Tuple) error { return boom }))
	assert.ErrorIs(t, err, boom)
}

func TestCompileValidation(t *testing.T) {
	col := functions.Column(0, "a", "a")
	tests := []struct {
		name string
		plan engine.Plan
	}{
		{"no datasets", engine.Plan{Functions: []engine.Function{col}}},
		{"no functions", engine.Plan{Datasets: []string{"a"}}},
		{"dataset out of range", engine.Plan{Datasets: []string{"a"}, Functions: []engine.Function{functions.Column(3, "a", "a")}}},
		{"duplicate output", engine.Plan{Datasets: []string{"a"}, Functions: []engine.Function{col, functions.Column(0, "b", "A")}}},
		{"unknown output", engine.Plan{Datasets: []string{"a"}, Functions: []engine.Function{col}, Output: []string{"zzz"}}},
		{"bad join type", engine.Plan{Datasets: []string{"a"}, Functions: []engine.Function{col}, JoinType: 9}},
		{"bad null value", engine.Plan{Datasets: []string{"a"}, Functions: []engine.Function{col}, NullValue: struct{}{}}},
		{"repeated dataset", engine.Plan{Datasets: []string{"a", "b"}, Functions: []engine.Function{
			functions.CrossComputed([]datajoin.Tag{0, 0}, []string{"a"}, "x", nil),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Compile(tt.plan)
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
		})
	}
}

func TestParseJoinType(t *testing.T) {
	tests := map[string]engine.JoinType{
		"":            engine.InnerJoin,
		"inner":       engine.InnerJoin,
		"LEFT":        engine.LeftOuterJoin,
		"left_outer":  engine.LeftOuterJoin,
		"right outer": engine.RightOuterJoin,
		"full":        engine.FullOuterJoin,
		"outer":       engine.FullOuterJoin,
	}
	for in, want := range tests {
		got, err := engine.ParseJoinType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := engine.ParseJoinType("cross")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestExplain(t *testing.T) {
	plan := engine.Plan{
		Datasets: []string{"items", "members"},
		Functions: []engine.Function{
			functions.Count(0, "item_id", "count"),
			functions.Column(1, "name", "name"),
		},
		JoinType: engine.LeftOuterJoin,
		Filter:   func(*tuple.Tuple) (bool, error) { return true, nil },
	}
	cp, err := engine.Compile(plan)
	require.NoError(t, err)

	qp := cp.Explain().Build()
	text := qp.String()
	assert.Equal(t, "Join: left over 2 datasets\n"+
		"  Dataset: 0 items [required, combinable]\n"+
		"    Group: count(item_id) -> count\n"+
		"  Dataset: 1 members [streamed]\n"+
		"    Extend: column(name) -> name\n"+
		"Filter: predicate\n"+
		"Output: count, name\n", text)
}

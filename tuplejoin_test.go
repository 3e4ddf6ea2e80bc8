package tuplejoin_test

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/paveg/tuplejoin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) tuplejoin.Config {
	t.Helper()
	cfg := tuplejoin.DefaultConfig()
	cfg.SpillDir = t.TempDir()
	cfg.MinFreeDisk = "0"
	cfg.MemoryMonitor = false
	cfg.LogLevel = "error"
	return cfg
}

func lines(rows []*tuplejoin.Tuple) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = strings.TrimSuffix(fmt.Sprintln(r.Values()...), "\n")
	}
	sort.Strings(out)
	return out
}

func sellers() []tuplejoin.Dataset {
	return []tuplejoin.Dataset{
		{Name: "items", Key: []string{"seller"}, Rows: []*tuplejoin.Tuple{
			tuplejoin.NewTuple("item", int64(1), "seller", "A", "price", 12.5),
			tuplejoin.NewTuple("item", int64(2), "seller", "A", "price", 7.5),
			tuplejoin.NewTuple("item", int64(3), "seller", "B", "price", 3.0),
			tuplejoin.NewTuple("item", int64(4), "seller", "C", "price", 1.0),
		}},
		{Name: "members", Key: []string{"id"}, Rows: []*tuplejoin.Tuple{
			tuplejoin.NewTuple("id", "A", "name", "Alice"),
			tuplejoin.NewTuple("id", "B", "name", "Bob"),
		}},
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name     string
		joinType string
		want     []string
	}{
		{"inner", "inner", []string{"Alice 2 20", "Bob 1 3"}},
		{"left outer", "left outer", []string{"<nil> 1 1", "Alice 2 20", "Bob 1 3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jt, err := tuplejoin.ParseJoinType(tt.joinType)
			require.NoError(t, err)

			plan, err := tuplejoin.Compile(tuplejoin.Plan{
				Datasets: []string{"items", "members"},
				Functions: []tuplejoin.Function{
					tuplejoin.Column(1, "name", "name"),
					tuplejoin.Count(0, "item", "items"),
					tuplejoin.Sum(0, "price", "revenue"),
				},
				Output:   []string{"name", "items", "revenue"},
				JoinType: jt,
			})
			require.NoError(t, err)

			rows, res, err := tuplejoin.Join(t.Context(), testConfig(t), plan, sellers()...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines(rows))
			assert.Equal(t, int64(len(tt.want)), res.Counters.Emitted)
		})
	}
}

func TestJoinRejectsMismatchedDatasets(t *testing.T) {
	plan, err := tuplejoin.Compile(tuplejoin.Plan{
		Datasets:  []string{"items", "members"},
		Functions: []tuplejoin.Function{tuplejoin.Column(1, "name", "name")},
		Output:    []string{"name"},
	})
	require.NoError(t, err)

	_, _, err = tuplejoin.Join(t.Context(), testConfig(t), plan, sellers()[0])
	require.Error(t, err)
}

func TestSort(t *testing.T) {
	cfg := testConfig(t)
	cfg.SpillThreshold = 2

	rows, res, err := tuplejoin.Sort(t.Context(), cfg, sellers()[0].Rows, tuplejoin.Desc("price"))
	require.NoError(t, err)

	var prices []float64
	for _, r := range rows {
		v, ok := r.Get("price")
		require.True(t, ok)
		prices = append(prices, v.(float64))
	}
	assert.Equal(t, []float64{12.5, 7.5, 3.0, 1.0}, prices)
	assert.Positive(t, res.Counters.Spills)
}

func TestReadWriteFile(t *testing.T) {
	rows := []*tuplejoin.Tuple{
		tuplejoin.NewTuple("name", "Alice", "items", int64(2), "revenue", 20.5),
		tuplejoin.NewTuple("name", "Bob", "items", int64(1), "revenue", 3.25),
	}

	for _, ext := range []string{"csv", "json", "jsonl", "parquet"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out."+ext)
			require.NoError(t, tuplejoin.WriteFile(path, rows))

			got, err := tuplejoin.ReadFile(path)
			require.NoError(t, err)
			require.Len(t, got, len(rows))
			for i, want := range rows {
				for _, col := range want.Columns() {
					v, ok := got[i].Get(col)
					require.True(t, ok, col)
					w, _ := want.Get(col)
					assert.Equal(t, w, v, col)
				}
			}
		})
	}
}

func TestReadFileUnknownFormat(t *testing.T) {
	_, err := tuplejoin.ReadFile(filepath.Join(t.TempDir(), "rows.xml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

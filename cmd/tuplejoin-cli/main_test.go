package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/paveg/tuplejoin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	itemsCSV   = "item_id,seller_id,price\n1,A,10\n2,A,5.5\n3,B,3\n4,C,1\n"
	membersCSV = "id,name\nA,Alice\nB,Bob\nD,Dana\n"

	joinPlan = `datasets:
  - name: items
    path: items.csv
    key: [seller_id]
  - name: members
    path: members.csv
    key: [id]
functions:
  - {kind: column, dataset: members, in: name}
  - {kind: count, dataset: items, in: item_id, out: count}
output: [name, count]
join: inner
`
	sortPlan = `datasets:
  - name: items
    path: items.csv
sort: ["price desc"]
`
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// workspace lays out the CSV inputs, a quiet engine config and the given
// plan in a temporary directory.
func workspace(t *testing.T, plan string) (planPath, configPath string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "items.csv", itemsCSV)
	writeFile(t, dir, "members.csv", membersCSV)
	configPath = writeFile(t, dir, "engine.yaml", "spill_dir: "+t.TempDir()+"\n"+
		"min_free_disk: \"0\"\nmemory_monitor: false\nlog_level: error\n")
	return writeFile(t, dir, "plan.yaml", plan), configPath
}

func TestLoadPlanFile(t *testing.T) {
	planPath, _ := workspace(t, joinPlan)

	pf, err := LoadPlanFile(planPath)
	require.NoError(t, err)
	require.Len(t, pf.Datasets, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(planPath), "items.csv"), pf.Datasets[0].Path)
	assert.Equal(t, []string{"seller_id"}, pf.Datasets[0].Key)
	assert.Equal(t, "name", pf.Functions[0].In)
	assert.False(t, pf.Sorting())

	plan, err := pf.Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "count"}, plan.Output())
	assert.Equal(t, tuplejoin.InnerJoin, plan.JoinType())
}

func TestLoadPlanFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPlanFile(writeFile(t, dir, "plan.toml", ""))
	assert.ErrorContains(t, err, "unsupported plan file format")

	_, err = LoadPlanFile(writeFile(t, dir, "bad.json", "{"))
	assert.ErrorContains(t, err, "parsing plan file")

	_, err = LoadPlanFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "reading plan file")
}

func TestPlanFileCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		fn      FunctionFile
		join    string
		wantErr string
	}{
		{"unknown dataset", FunctionFile{Kind: "count", Dataset: "orders", In: "id"}, "", "unknown dataset"},
		{"unknown kind", FunctionFile{Kind: "mode", Dataset: "items", In: "id"}, "", "unknown function kind"},
		{"no input", FunctionFile{Kind: "sum", Dataset: "items"}, "", "no input column"},
		{"bad join", FunctionFile{Kind: "sum", Dataset: "items", In: "price"}, "sideways", "unknown join type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := &PlanFile{
				Datasets:  []DatasetFile{{Name: "items"}},
				Functions: []FunctionFile{tt.fn},
				Output:    []string{"id"},
				Join:      tt.join,
			}
			_, err := pf.Compile()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSortColumns(t *testing.T) {
	pf := &PlanFile{Sort: []string{"name", "price desc", "day ASC"}}
	cols, err := pf.SortColumns()
	require.NoError(t, err)
	assert.Equal(t, []tuplejoin.SortColumn{
		tuplejoin.Asc("name"), tuplejoin.Desc("price"), tuplejoin.Asc("day"),
	}, cols)

	pf.Sort = []string{"price sideways"}
	_, err = pf.SortColumns()
	assert.ErrorContains(t, err, "invalid sort column")
}

func TestRunJoinPlan(t *testing.T) {
	for _, ext := range []string{"jsonl", "parquet"} {
		t.Run(ext, func(t *testing.T) {
			planPath, configPath := workspace(t, joinPlan)
			outPath := filepath.Join(t.TempDir(), "out."+ext)

			var stdout bytes.Buffer
			err := run(t.Context(), options{
				plan:        planPath,
				configPath:  configPath,
				out:         outPath,
				partitions:  2,
				metricsAddr: "127.0.0.1:0",
			}, &stdout)
			require.NoError(t, err)
			assert.Empty(t, stdout.String())

			rows, err := tuplejoin.ReadFile(outPath)
			require.NoError(t, err)
			got := map[string]any{}
			for _, r := range rows {
				name, _ := r.Get("name")
				count, _ := r.Get("count")
				got[name.(string)] = count
			}
			assert.Equal(t, map[string]any{"Alice": int64(2), "Bob": int64(1)}, got)
		})
	}
}

func TestRunMissingKeyColumn(t *testing.T) {
	planPath, configPath := workspace(t, strings.Replace(joinPlan, "key: [seller_id]", "key: [seller]", 1))

	err := run(t.Context(), options{plan: planPath, configPath: configPath}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset items")
	assert.Contains(t, err.Error(), "column 'seller'")
}

func TestRunExplain(t *testing.T) {
	planPath, configPath := workspace(t, joinPlan)

	var stdout bytes.Buffer
	err := run(t.Context(), options{plan: planPath, configPath: configPath, explain: true}, &stdout)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Join: inner over 2 datasets")
	assert.Contains(t, stdout.String(), "Output: name, count")
}

func TestRunSortPlan(t *testing.T) {
	planPath, configPath := workspace(t, sortPlan)
	outPath := filepath.Join(t.TempDir(), "sorted.csv")

	err := run(t.Context(), options{plan: planPath, configPath: configPath, out: outPath}, &bytes.Buffer{})
	require.NoError(t, err)

	rows, err := tuplejoin.ReadFile(outPath)
	require.NoError(t, err)
	var prices []float64
	for _, r := range rows {
		v, _ := r.Get("price")
		prices = append(prices, v.(float64))
	}
	assert.Equal(t, []float64{10, 5.5, 3, 1}, prices)
}

func TestRunDemo(t *testing.T) {
	_, configPath := workspace(t, joinPlan)

	var stdout bytes.Buffer
	err := run(t.Context(), options{demo: true, rows: 100, configPath: configPath}, &stdout)
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "inner join")
	assert.Contains(t, out, "left join")
	assert.Contains(t, out, "Member 1")
	assert.Contains(t, out, "(unknown)")
}

func TestPrintTable(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printTable(&buf, []string{"name", "count"}, []*tuplejoin.Tuple{
		tuplejoin.NewTuple("name", "Alice", "count", int64(2)),
		tuplejoin.NewTuple("name", "Bob", "count", nil),
	})
	assert.Equal(t, "NAME   COUNT\nAlice  2\nBob    NULL\n", buf.String())

	buf.Reset()
	printTable(&buf, nil, nil)
	assert.Equal(t, "(no rows)\n", buf.String())
}

func TestGenerateItems(t *testing.T) {
	items := generateItems(25, 4)
	require.Len(t, items, 25)

	sellers := map[string]int{}
	for _, it := range items {
		v, _ := it.Get("seller_id")
		sellers[v.(string)]++
	}
	keys := make([]string, 0, len(sellers))
	for k := range sellers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"S000", "S001", "S002", "S003"}, keys)
	assert.Equal(t, 7, sellers["S000"])
}

func TestRunBenchmark(t *testing.T) {
	_, configPath := workspace(t, joinPlan)

	var stdout bytes.Buffer
	err := run(t.Context(), options{benchmark: true, rows: 200, configPath: configPath}, &stdout)
	require.NoError(t, err)

	report := stdout.String()
	for _, name := range []string{"join", "join_combiner", "join_spilling", "sort"} {
		assert.Contains(t, report, "| "+name+" | 200 | 3 |")
	}
	assert.NotContains(t, report, "## Failures")
}

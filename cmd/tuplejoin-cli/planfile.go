package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paveg/tuplejoin"
	"github.com/paveg/tuplejoin/internal/validation"
	"gopkg.in/yaml.v3"
)

// PlanFile is the on-disk description of a run. Relative dataset paths are
// resolved against the plan file's directory.
//
//	datasets:
//	  - name: items
//	    path: items.csv
//	    key: [seller_id]
//	  - name: members
//	    path: members.csv
//	    key: [id]
//	functions:
//	  - {kind: column, dataset: members, in: name}
//	  - {kind: count, dataset: items, in: item_id, out: count}
//	output: [name, count]
//	join: inner
type PlanFile struct {
	Datasets  []DatasetFile  `json:"datasets" yaml:"datasets"`
	Functions []FunctionFile `json:"functions" yaml:"functions"`
	Output    []string       `json:"output" yaml:"output"`
	Join      string         `json:"join" yaml:"join"`
	Null      any            `json:"null" yaml:"null"`
	Sort      []string       `json:"sort" yaml:"sort"`
}

// DatasetFile names an input file and its key columns.
type DatasetFile struct {
	Name string   `json:"name" yaml:"name"`
	Path string   `json:"path" yaml:"path"`
	Key  []string `json:"key" yaml:"key"`
}

// FunctionFile is one plan function. Out defaults to In.
type FunctionFile struct {
	Kind    string `json:"kind" yaml:"kind"`
	Dataset string `json:"dataset" yaml:"dataset"`
	In      string `json:"in" yaml:"in"`
	Out     string `json:"out" yaml:"out"`
	Sep     string `json:"sep" yaml:"sep"`
}

// LoadPlanFile reads a JSON or YAML plan file.
func LoadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var pf PlanFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &pf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &pf)
	default:
		return nil, fmt.Errorf("unsupported plan file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range pf.Datasets {
		if p := pf.Datasets[i].Path; p != "" && !filepath.IsAbs(p) {
			pf.Datasets[i].Path = filepath.Join(dir, p)
		}
	}
	return &pf, nil
}

// Sorting reports whether the file asks for a total sort rather than a join.
func (pf *PlanFile) Sorting() bool {
	return len(pf.Sort) > 0
}

// SortColumns parses entries of the form "column" or "column desc".
func (pf *PlanFile) SortColumns() ([]tuplejoin.SortColumn, error) {
	cols := make([]tuplejoin.SortColumn, 0, len(pf.Sort))
	for _, entry := range pf.Sort {
		fields := strings.Fields(entry)
		switch {
		case len(fields) == 1:
			cols = append(cols, tuplejoin.Asc(fields[0]))
		case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
			cols = append(cols, tuplejoin.Asc(fields[0]))
		case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
			cols = append(cols, tuplejoin.Desc(fields[0]))
		default:
			return nil, fmt.Errorf("invalid sort column %q", entry)
		}
	}
	return cols, nil
}

// Compile turns the file into a compiled plan.
func (pf *PlanFile) Compile() (*tuplejoin.CompiledPlan, error) {
	names := make([]string, len(pf.Datasets))
	for i, ds := range pf.Datasets {
		names[i] = ds.Name
	}

	fns := make([]tuplejoin.Function, 0, len(pf.Functions))
	for _, ff := range pf.Functions {
		fn, err := ff.build(names)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}

	jt, err := tuplejoin.ParseJoinType(pf.Join)
	if err != nil {
		return nil, err
	}

	return tuplejoin.Compile(tuplejoin.Plan{
		Datasets:  names,
		Functions: fns,
		Output:    pf.Output,
		JoinType:  jt,
		NullValue: pf.Null,
	})
}

func (ff FunctionFile) build(datasets []string) (tuplejoin.Function, error) {
	tag := -1
	for i, name := range datasets {
		if strings.EqualFold(name, ff.Dataset) {
			tag = i
			break
		}
	}
	if tag < 0 {
		return nil, fmt.Errorf("function %s: unknown dataset %q", ff.Kind, ff.Dataset)
	}
	if ff.In == "" {
		return nil, fmt.Errorf("function %s: no input column", ff.Kind)
	}
	out := ff.Out
	if out == "" {
		out = ff.In
	}

	d := tuplejoin.Tag(tag)
	switch strings.ToLower(ff.Kind) {
	case "column":
		return tuplejoin.Column(d, ff.In, out), nil
	case "count":
		return tuplejoin.Count(d, ff.In, out), nil
	case "sum":
		return tuplejoin.Sum(d, ff.In, out), nil
	case "min":
		return tuplejoin.Min(d, ff.In, out), nil
	case "max":
		return tuplejoin.Max(d, ff.In, out), nil
	case "avg":
		return tuplejoin.Avg(d, ff.In, out), nil
	case "median":
		return tuplejoin.Median(d, ff.In, out), nil
	case "first":
		return tuplejoin.First(d, ff.In, out), nil
	case "distinct":
		return tuplejoin.Distinct(d, ff.In, out), nil
	case "concat":
		sep := ff.Sep
		if sep == "" {
			sep = ","
		}
		return tuplejoin.Concat(d, ff.In, out, sep), nil
	default:
		return nil, fmt.Errorf("unknown function kind %q", ff.Kind)
	}
}

// LoadDatasets reads every dataset file and checks that its key columns
// exist in the first row.
func (pf *PlanFile) LoadDatasets() ([]tuplejoin.Dataset, error) {
	out := make([]tuplejoin.Dataset, 0, len(pf.Datasets))
	for _, ds := range pf.Datasets {
		rows, err := tuplejoin.ReadFile(ds.Path)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
		}
		if len(rows) > 0 {
			if err := validation.ValidateColumns(rows[0], "LoadDatasets", ds.Key...); err != nil {
				return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
			}
		}
		out = append(out, tuplejoin.Dataset{Name: ds.Name, Key: ds.Key, Rows: rows})
	}
	return out, nil
}

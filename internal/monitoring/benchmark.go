package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const defaultIterations = 5

// BenchmarkScenario is one timed workload, such as a join over a generated
// dataset of DataSize rows. Operation returns the counters of the run it
// performed.
type BenchmarkScenario struct {
	Name        string
	Description string
	DataSize    int
	Iterations  int
	Operation   func() (Snapshot, error)
}

// BenchmarkResult summarises the iterations of one scenario.
type BenchmarkResult struct {
	Scenario        BenchmarkScenario `json:"scenario"`
	Iterations      int               `json:"iterations"`
	Duration        time.Duration     `json:"duration"`
	AverageDuration time.Duration     `json:"average_duration"`
	MedianDuration  time.Duration     `json:"median_duration"`
	MinDuration     time.Duration     `json:"min_duration"`
	MaxDuration     time.Duration     `json:"max_duration"`
	BytesAllocated  uint64            `json:"bytes_allocated"`
	RowsPerSec      float64           `json:"rows_per_sec"`
	Counters        Snapshot          `json:"counters"`
	Err             string            `json:"error,omitempty"`
}

// Success reports whether every iteration completed.
func (r BenchmarkResult) Success() bool { return r.Err == "" }

// BenchmarkSuite runs scenarios in the order they were added. The first
// scenario is the baseline the report compares the others against.
type BenchmarkSuite struct {
	scenarios []BenchmarkScenario
	results   []BenchmarkResult
}

func NewBenchmarkSuite() *BenchmarkSuite {
	return &BenchmarkSuite{}
}

// AddScenario adds a scenario. Iterations defaults to 5.
func (bs *BenchmarkSuite) AddScenario(scenario BenchmarkScenario) {
	if scenario.Iterations <= 0 {
		scenario.Iterations = defaultIterations
	}
	bs.scenarios = append(bs.scenarios, scenario)
}

// Run executes every scenario. A cancelled ctx stops the suite between
// iterations; the interrupted scenario is reported as failed.
func (bs *BenchmarkSuite) Run(ctx context.Context) []BenchmarkResult {
	bs.results = bs.results[:0]
	for _, sc := range bs.scenarios {
		bs.results = append(bs.results, runScenario(ctx, sc))
		if ctx.Err() != nil {
			break
		}
	}
	return bs.results
}

func runScenario(ctx context.Context, sc BenchmarkScenario) BenchmarkResult {
	res := BenchmarkResult{Scenario: sc}
	durations := make([]time.Duration, 0, sc.Iterations)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	for i := range sc.Iterations {
		if err := ctx.Err(); err != nil {
			res.Err = err.Error()
			break
		}
		start := time.Now()
		snap, err := sc.Operation()
		if err != nil {
			res.Err = fmt.Sprintf("iteration %d: %v", i+1, err)
			break
		}
		d := time.Since(start)
		durations = append(durations, d)
		res.Duration += d
		res.Counters = snap
	}

	runtime.ReadMemStats(&after)
	res.BytesAllocated = after.TotalAlloc - before.TotalAlloc
	res.Iterations = len(durations)
	if len(durations) == 0 {
		return res
	}

	slices.Sort(durations)
	res.MinDuration = durations[0]
	res.MaxDuration = durations[len(durations)-1]
	res.MedianDuration = durations[len(durations)/2]
	res.AverageDuration = res.Duration / time.Duration(len(durations))
	if res.AverageDuration > 0 {
		res.RowsPerSec = float64(sc.DataSize) / res.AverageDuration.Seconds()
	}
	return res
}

// Results returns the results of the last Run.
func (bs *BenchmarkSuite) Results() []BenchmarkResult {
	return bs.results
}

// GenerateReport renders the last Run as markdown.
func (bs *BenchmarkSuite) GenerateReport() string {
	var b strings.Builder
	b.WriteString("# tuplejoin Benchmark Report\n\n")
	if len(bs.results) == 0 {
		b.WriteString("No benchmark results available.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Generated: %s, %s/%s, %d CPUs\n\n",
		time.Now().Format(time.RFC3339), runtime.GOOS, runtime.GOARCH, runtime.NumCPU())

	b.WriteString("| Scenario | Rows | Iterations | Median | Rows/Sec | Groups | Spills | Allocated | vs baseline |\n")
	b.WriteString("|----------|------|------------|--------|----------|--------|--------|-----------|-------------|\n")
	base := bs.results[0]
	for _, r := range bs.results {
		fmt.Fprintf(&b, "| %s | %s | %d | %v | %s | %s | %s | %s | %s |\n",
			r.Scenario.Name,
			humanize.Comma(int64(r.Scenario.DataSize)),
			r.Iterations,
			r.MedianDuration.Round(time.Microsecond),
			humanize.CommafWithDigits(r.RowsPerSec, 0),
			humanize.Comma(r.Counters.Groups),
			humanize.Comma(r.Counters.Spills),
			humanize.IBytes(r.BytesAllocated),
			ratio(base, r))
	}

	var failed []BenchmarkResult
	for _, r := range bs.results {
		if !r.Success() {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "- %s: %s\n", r.Scenario.Name, r.Err)
		}
	}

	b.WriteString("\n## Scenarios\n\n")
	for _, r := range bs.results {
		fmt.Fprintf(&b, "- **%s**", r.Scenario.Name)
		if r.Scenario.Description != "" {
			fmt.Fprintf(&b, ": %s", r.Scenario.Description)
		}
		fmt.Fprintf(&b, " (min %v, max %v, emitted %s)\n",
			r.MinDuration.Round(time.Microsecond), r.MaxDuration.Round(time.Microsecond),
			humanize.Comma(r.Counters.Emitted))
	}
	return b.String()
}

// ratio compares median durations; above 1 means r is faster than base.
func ratio(base, r BenchmarkResult) string {
	if !r.Success() || !base.Success() || r.MedianDuration == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", float64(base.MedianDuration)/float64(r.MedianDuration))
}

// Clear removes all scenarios and results.
func (bs *BenchmarkSuite) Clear() {
	bs.scenarios = nil
	bs.results = nil
}

//nolint:testpackage // requires internal access to unexported fields
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paveg/tuplejoin/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu     sync.Mutex
	deltas []Snapshot
	totals []Snapshot
}

func (r *recordingReporter) Report(delta, total Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, delta)
	r.totals = append(r.totals, total)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deltas)
}

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.Records.Add(5)
	c.Emitted.Add(2)

	s := c.Snapshot()
	assert.Equal(t, Snapshot{Records: 5, Emitted: 2}, s)

	var total Counters
	total.Add(s)
	total.Add(s)
	assert.Equal(t, int64(10), total.Records.Load())

	assert.Equal(t, Snapshot{Records: 5}, total.Snapshot().Sub(Snapshot{Records: 5, Emitted: 4}))
	assert.True(t, Snapshot{}.IsZero())
	assert.False(t, s.IsZero())
}

func TestHeartbeatCoalescesDeltas(t *testing.T) {
	var c Counters
	rec := &recordingReporter{}
	h := NewHeartbeat(&c, time.Hour, rec)

	assert.False(t, h.Beat(), "nothing changed")

	c.Records.Add(3)
	c.Records.Add(4)
	c.Groups.Add(1)
	assert.True(t, h.Beat())
	assert.False(t, h.Beat())

	c.Emitted.Add(2)
	h.Stop()

	require.Equal(t, 2, rec.count())
	assert.Equal(t, Snapshot{Records: 7, Groups: 1}, rec.deltas[0])
	assert.Equal(t, Snapshot{Emitted: 2}, rec.deltas[1])
	assert.Equal(t, Snapshot{Records: 7, Groups: 1, Emitted: 2}, rec.totals[1])
}

func TestHeartbeatLoop(t *testing.T) {
	var c Counters
	rec := &recordingReporter{}
	h := NewHeartbeat(&c, time.Millisecond, rec)
	h.Start(t.Context())
	defer h.Stop()

	c.Records.Add(1)
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
}

func TestNewHeartbeatDefaultInterval(t *testing.T) {
	h := NewHeartbeat(&Counters{}, 0)
	assert.Equal(t, DefaultHeartbeatInterval, h.interval)
}

func TestLogReporter(t *testing.T) {
	assert.NotPanics(t, func() {
		LogReporter{}.Report(Snapshot{Records: 1}, Snapshot{Records: 1})
	})
}

// gather returns counter values, and sample counts for histograms, by name.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				out[f.GetName()] += float64(h.GetSampleCount())
				continue
			}
			out[f.GetName()] += m.GetCounter().GetValue()
		}
	}
	return out
}

func TestPromReporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPromReporter(reg, prometheus.Labels{"job": "test"})
	require.NoError(t, err)

	r.Report(Snapshot{Records: 3, Emitted: 1}, Snapshot{})
	r.Report(Snapshot{Records: 2, Spills: 1}, Snapshot{})
	r.ObservePhase("reduce", 20*time.Millisecond)

	values := gather(t, reg)
	assert.InDelta(t, 5.0, values["tuplejoin_records_total"], 0)
	assert.InDelta(t, 1.0, values["tuplejoin_rows_emitted_total"], 0)
	assert.InDelta(t, 1.0, values["tuplejoin_spills_total"], 0)
	assert.InDelta(t, 1.0, values["tuplejoin_phase_duration_seconds"], 0)

	_, err = NewPromReporter(reg, prometheus.Labels{"job": "test"})
	assert.Error(t, err, "duplicate registration")

	r.Unregister(reg)
	_, err = NewPromReporter(reg, prometheus.Labels{"job": "test"})
	assert.NoError(t, err)
}

type phaseLog struct{ phases []string }

func (p *phaseLog) ObservePhase(phase string, _ time.Duration) { p.phases = append(p.phases, phase) }

func TestMetricsCollector(t *testing.T) {
	obs := &phaseLog{}
	mc := NewMetricsCollector(true, obs)

	require.NoError(t, mc.RecordPhase("map", func() (int64, error) { return 10, nil }))
	boom := errors.New("boom")
	assert.ErrorIs(t, mc.RecordPhase("reduce", func() (int64, error) { return 4, boom }), boom)

	metrics := mc.GetMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, "map", metrics[0].Phase)
	assert.Equal(t, int64(10), metrics[0].RowsProcessed)
	assert.False(t, metrics[0].Failed)
	assert.True(t, metrics[1].Failed)
	assert.Equal(t, []string{"map", "reduce"}, obs.phases)

	summary := mc.GetSummary()
	assert.Equal(t, 2, summary.TotalPhases)
	assert.Equal(t, int64(14), summary.TotalRows)
	assert.Equal(t, map[string]int{"map": 1, "reduce": 1}, summary.PhaseCounts)

	mc.Clear()
	assert.Empty(t, mc.GetMetrics())
	assert.Equal(t, MetricsSummary{}, mc.GetSummary())
}

func TestDisabledCollectorStillRuns(t *testing.T) {
	for _, mc := range []*MetricsCollector{nil, NewMetricsCollector(false)} {
		ran := false
		err := mc.RecordPhase("map", func() (int64, error) {
			ran = true
			return 1, nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
	}

	mc := NewMetricsCollector(false)
	mc.SetEnabled(true)
	assert.True(t, mc.IsEnabled())
}

func TestServerEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPromReporter(reg, nil)
	require.NoError(t, err)
	r.Report(Snapshot{Records: 9}, Snapshot{})

	var counters Counters
	counters.Emitted.Add(4)
	mc := NewMetricsCollector(true)
	require.NoError(t, mc.RecordPhase("sort", func() (int64, error) { return 4, nil }))

	srv := NewMonitoringServer(":0", &counters, mc, reg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) (*http.Response, string) {
		resp, err := http.Get(ts.URL + path) //nolint:noctx // test server
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(body)
	}

	resp, body := get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "tuplejoin_records_total 9")

	resp, body = get("/health")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["enabled"])
	assert.Equal(t, version.Version, health["version"])
	assert.Equal(t, version.UserAgent(), resp.Header.Get("Server"))

	_, body = get("/progress")
	var progress Progress
	require.NoError(t, json.Unmarshal([]byte(body), &progress))
	assert.Equal(t, int64(4), progress.Counters.Emitted)
	require.Len(t, progress.Phases, 1)
	assert.Equal(t, "sort", progress.Phases[0].Phase)

	req := httptest.NewRequest(http.MethodPost, "/progress", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestQueryPlan(t *testing.T) {
	plan := NewPlanBuilder().
		AddOperationWithChildren("Join", "inner over 2 datasets", []PlanNode{
			{Type: "Dataset", Description: "0 items", Children: []PlanNode{{Type: "Group", Description: "count(item_id)"}}},
			{Type: "Dataset", Description: "1 members"},
		}).
		AddOperation("Output", "name, count").
		SetActual(Snapshot{Emitted: 2}).
		Build()

	assert.Equal(t, 5, plan.GetOperationCount())

	text := plan.String()
	assert.True(t, strings.HasPrefix(text, "Join: inner over 2 datasets\n  Dataset: 0 items\n    Group: count(item_id)\n"))
	assert.Contains(t, text, "emitted=2")

	data, err := plan.ToJSON()
	require.NoError(t, err)
	var decoded QueryPlan
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, plan, decoded)
}

func TestBenchmarkSuite(t *testing.T) {
	suite := NewBenchmarkSuite()
	suite.AddScenario(BenchmarkScenario{
		Name:       "join",
		DataSize:   100,
		Iterations: 3,
		Operation: func() (Snapshot, error) {
			time.Sleep(time.Millisecond)
			return Snapshot{Groups: 10, Emitted: 8, Spills: 2}, nil
		},
	})
	suite.AddScenario(BenchmarkScenario{
		Name:        "broken",
		Description: "always fails",
		Operation:   func() (Snapshot, error) { return Snapshot{}, errors.New("nope") },
	})

	results := suite.Run(t.Context())
	require.Len(t, results, 2)
	assert.True(t, results[0].Success())
	assert.Equal(t, 3, results[0].Iterations)
	assert.Greater(t, results[0].RowsPerSec, 0.0)
	assert.LessOrEqual(t, results[0].MinDuration, results[0].MedianDuration)
	assert.LessOrEqual(t, results[0].MedianDuration, results[0].MaxDuration)
	assert.Equal(t, int64(2), results[0].Counters.Spills)
	assert.False(t, results[1].Success())
	assert.Equal(t, 0, results[1].Iterations)
	assert.Contains(t, results[1].Err, "iteration 1: nope")

	report := suite.GenerateReport()
	assert.Contains(t, report, "| join | 100 | 3 |")
	assert.Contains(t, report, "| 10 | 2 |")
	assert.Contains(t, report, "1.00x")
	assert.Contains(t, report, "- broken: iteration 1: nope")
	assert.Contains(t, report, "**broken**: always fails")

	suite.Clear()
	assert.Contains(t, suite.GenerateReport(), "No benchmark results available")
}

func TestBenchmarkSuiteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	calls := 0

	suite := NewBenchmarkSuite()
	for _, name := range []string{"first", "second"} {
		suite.AddScenario(BenchmarkScenario{
			Name: name,
			Operation: func() (Snapshot, error) {
				calls++
				cancel()
				return Snapshot{}, nil
			},
		})
	}

	results := suite.Run(ctx)
	require.Len(t, results, 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, results[0].Iterations)
	assert.Contains(t, results[0].Err, "context canceled")
}

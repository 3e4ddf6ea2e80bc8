// Package monitoring tracks the progress of join runs: atomic counters fed by
// processors, a heartbeat that reports their changes, Prometheus export,
// per-phase timings and an HTTP server exposing all of it.
package monitoring

import (
	"runtime"
	"sync"
	"time"
)

// PhaseMetrics records one run phase such as map, reduce or sort.
type PhaseMetrics struct {
	Phase         string        `json:"phase"`
	Duration      time.Duration `json:"duration"`
	RowsProcessed int64         `json:"rows_processed"`
	MemoryUsed    int64         `json:"memory_used"`
	Failed        bool          `json:"failed"`
}

// PhaseObserver is notified of every recorded phase.
type PhaseObserver interface {
	ObservePhase(phase string, d time.Duration)
}

// MetricsCollector collects and stores phase metrics.
type MetricsCollector struct {
	mu        sync.RWMutex
	metrics   []PhaseMetrics
	enabled   bool
	observers []PhaseObserver
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(enabled bool, observers ...PhaseObserver) *MetricsCollector {
	return &MetricsCollector{
		metrics:   make([]PhaseMetrics, 0),
		enabled:   enabled,
		observers: observers,
	}
}

// IsEnabled returns whether metrics collection is enabled.
func (mc *MetricsCollector) IsEnabled() bool {
	if mc == nil {
		return false
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

// RecordPhase runs fn and records its duration, the rows it reports and the
// heap growth it caused. A nil or disabled collector just runs fn.
func (mc *MetricsCollector) RecordPhase(phase string, fn func() (int64, error)) error {
	if !mc.IsEnabled() {
		_, err := fn()
		return err
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	rows, err := fn()

	duration := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)

	m := PhaseMetrics{
		Phase:         phase,
		Duration:      duration,
		RowsProcessed: rows,
		MemoryUsed:    int64(memAfter.TotalAlloc - memBefore.TotalAlloc), //nolint:gosec // monotonic counter
		Failed:        err != nil,
	}

	mc.mu.Lock()
	mc.metrics = append(mc.metrics, m)
	observers := mc.observers
	mc.mu.Unlock()

	for _, o := range observers {
		o.ObservePhase(phase, duration)
	}
	return err
}

// GetMetrics returns a copy of all collected metrics.
func (mc *MetricsCollector) GetMetrics() []PhaseMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make([]PhaseMetrics, len(mc.metrics))
	copy(result, mc.metrics)
	return result
}

// Clear removes all collected metrics.
func (mc *MetricsCollector) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = mc.metrics[:0]
}

// SetEnabled enables or disables metrics collection.
func (mc *MetricsCollector) SetEnabled(enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = enabled
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.metrics) == 0 {
		return MetricsSummary{}
	}

	var totalDuration time.Duration
	var totalMemory, totalRows int64
	phaseCounts := make(map[string]int)

	for _, metric := range mc.metrics {
		totalDuration += metric.Duration
		totalMemory += metric.MemoryUsed
		totalRows += metric.RowsProcessed
		phaseCounts[metric.Phase]++
	}

	return MetricsSummary{
		TotalPhases:     len(mc.metrics),
		TotalDuration:   totalDuration,
		TotalMemory:     totalMemory,
		TotalRows:       totalRows,
		PhaseCounts:     phaseCounts,
		AverageDuration: totalDuration / time.Duration(len(mc.metrics)),
	}
}

// MetricsSummary provides aggregate statistics for collected metrics.
type MetricsSummary struct {
	TotalPhases     int            `json:"total_phases"`
	TotalDuration   time.Duration  `json:"total_duration"`
	TotalMemory     int64          `json:"total_memory"`
	TotalRows       int64          `json:"total_rows"`
	PhaseCounts     map[string]int `json:"phase_counts"`
	AverageDuration time.Duration  `json:"average_duration"`
}

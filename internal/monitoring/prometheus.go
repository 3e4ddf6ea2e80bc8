package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tuplejoin"

// PromReporter exports progress counters and phase durations to Prometheus.
type PromReporter struct {
	records   prometheus.Counter
	groups    prometheus.Counter
	emitted   prometheus.Counter
	filtered  prometheus.Counter
	malformed prometheus.Counter
	aborted   prometheus.Counter
	spills    prometheus.Counter
	phases    *prometheus.HistogramVec
}

// NewPromReporter creates the collectors and registers them with reg.
func NewPromReporter(reg prometheus.Registerer, labels prometheus.Labels) (*PromReporter, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	r := &PromReporter{
		records:   counter("records_total", "Dataset-tagged records consumed by reducers"),
		groups:    counter("key_groups_total", "Key groups processed"),
		emitted:   counter("rows_emitted_total", "Output rows emitted"),
		filtered:  counter("rows_filtered_total", "Joined rows dropped by the filter"),
		malformed: counter("rows_malformed_total", "Rows skipped as malformed"),
		aborted:   counter("key_groups_aborted_total", "Key groups that produced no output"),
		spills:    counter("spills_total", "Buffers written to disk"),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "phase_duration_seconds",
			Help:        "Duration of run phases",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.01, 0.1, 1.0, 10.0, 100.0, 1000.0},
		}, []string{"phase"}),
	}
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PromReporter) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.records, r.groups, r.emitted, r.filtered, r.malformed, r.aborted, r.spills, r.phases,
	}
}

// Unregister removes the collectors from reg.
func (r *PromReporter) Unregister(reg prometheus.Registerer) {
	for _, c := range r.collectors() {
		reg.Unregister(c)
	}
}

// Report implements Reporter.
func (r *PromReporter) Report(delta, _ Snapshot) {
	r.records.Add(float64(delta.Records))
	r.groups.Add(float64(delta.Groups))
	r.emitted.Add(float64(delta.Emitted))
	r.filtered.Add(float64(delta.Filtered))
	r.malformed.Add(float64(delta.Malformed))
	r.aborted.Add(float64(delta.Aborted))
	r.spills.Add(float64(delta.Spills))
}

// ObservePhase records how long a phase took.
func (r *PromReporter) ObservePhase(phase string, d time.Duration) {
	r.phases.WithLabelValues(phase).Observe(d.Seconds())
}

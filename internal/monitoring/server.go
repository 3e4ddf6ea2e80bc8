package monitoring

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/paveg/tuplejoin/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for watching a run: Prometheus metrics,
// a health check and a JSON progress document.
type Server struct {
	collector *MetricsCollector
	counters  *Counters
	started   time.Time
	server    *http.Server
}

// Progress is the document served at /progress.
type Progress struct {
	Counters Snapshot       `json:"counters"`
	Phases   []PhaseMetrics `json:"phases"`
	Summary  MetricsSummary `json:"summary"`
	Uptime   string         `json:"uptime"`
}

// NewMonitoringServer creates a server listening on addr. Metrics are
// gathered from gatherer, or the default registry when nil.
func NewMonitoringServer(addr string, counters *Counters, collector *MetricsCollector, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if counters == nil {
		counters = &Counters{}
	}
	if collector == nil {
		collector = NewMetricsCollector(false)
	}
	mux := http.NewServeMux()

	s := &Server{
		collector: collector,
		counters:  counters,
		started:   time.Now(),
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second, //nolint:mnd // Standard timeout value
		},
	}

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/progress", s.handleProgress)

	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called. It returns http.ErrServerClosed after
// a clean stop.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the monitoring server.
func (s *Server) Stop() error {
	return s.server.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"enabled":   s.collector.IsEnabled(),
		"version":   version.Version,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, Progress{
		Counters: s.counters.Snapshot(),
		Phases:   s.collector.GetMetrics(),
		Summary:  s.collector.GetSummary(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Server", version.UserAgent())
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

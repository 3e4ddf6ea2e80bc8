package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultHeartbeatInterval is how often progress is reported.
const DefaultHeartbeatInterval = 10 * time.Second

// Reporter receives progress. delta holds the change since the previous
// report and total the current values.
type Reporter interface {
	Report(delta, total Snapshot)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(delta, total Snapshot)

// Report implements Reporter.
func (f ReporterFunc) Report(delta, total Snapshot) { f(delta, total) }

// LogReporter writes progress lines at info level.
type LogReporter struct {
	Logger logrus.FieldLogger
}

// Report implements Reporter.
func (r LogReporter) Report(delta, total Snapshot) {
	logger := r.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"records":   total.Records,
		"groups":    total.Groups,
		"emitted":   total.Emitted,
		"malformed": total.Malformed,
		"aborted":   total.Aborted,
		"spills":    total.Spills,
		"new":       delta.Records,
	}).Info("progress")
}

// Heartbeat periodically reports counter changes. Intervals in which nothing
// changed are skipped, so a reporter sees each delta exactly once.
type Heartbeat struct {
	counters  *Counters
	interval  time.Duration
	reporters []Reporter

	mu     sync.Mutex
	last   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a stopped heartbeat.
func NewHeartbeat(counters *Counters, interval time.Duration, reporters ...Reporter) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{counters: counters, interval: interval, reporters: reporters}
}

// Start begins reporting in the background.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.loop(ctx, h.done)
}

func (h *Heartbeat) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Beat()
		}
	}
}

// Stop ends background reporting and flushes any unreported change.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	h.Beat()
}

// Beat reports the change since the last report, if any. It returns whether
// a report was made.
func (h *Heartbeat) Beat() bool {
	h.mu.Lock()
	total := h.counters.Snapshot()
	delta := total.Sub(h.last)
	if delta.IsZero() {
		h.mu.Unlock()
		return false
	}
	h.last = total
	h.mu.Unlock()

	for _, r := range h.reporters {
		r.Report(delta, total)
	}
	return true
}

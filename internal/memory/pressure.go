// Package memory watches process and system memory and asks registered
// buffers to spill to disk when usage crosses a threshold.
package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultThreshold is the memory pressure ratio that triggers spills.
	DefaultThreshold = 0.85
	// DefaultInterval is how often pressure is sampled.
	DefaultInterval = time.Second
)

// Spiller is a buffer that can move its in-memory contents to disk.
// *bucket.List implements it.
type Spiller interface {
	SpillNow() error
}

// Sample is one memory reading.
type Sample struct {
	// Pressure is the larger of the system used ratio and the ratio of Go
	// heap in use to HeapLimit, in [0, 1].
	Pressure  float64
	HeapInuse uint64
	HeapLimit uint64
	SystemUse uint64
}

// SampleFunc reads current memory usage.
type SampleFunc func() (Sample, error)

// SystemSample samples memory against the default heap limit.
func SystemSample() (Sample, error) {
	return NewSystemSampler(0)()
}

// NewSystemSampler returns a SampleFunc that measures the Go heap in use against
// limit and takes gopsutil's view of system memory. A zero limit means the
// runtime soft memory limit (GOMEMLIMIT) when one is set, else total system
// memory.
func NewSystemSampler(limit uint64) SampleFunc {
	return func() (Sample, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		s := Sample{HeapInuse: ms.HeapInuse, HeapLimit: limit}
		if s.HeapLimit == 0 {
			s.HeapLimit = runtimeLimit()
		}

		vm, err := mem.VirtualMemory()
		if err == nil && s.HeapLimit == 0 {
			s.HeapLimit = vm.Total
		}
		s.Pressure = heapRatio(s.HeapInuse, s.HeapLimit)
		if err != nil {
			return s, err
		}
		s.SystemUse = vm.Used
		if p := vm.UsedPercent / 100; p > s.Pressure {
			s.Pressure = p
		}
		return s, nil
	}
}

// runtimeLimit returns the soft memory limit, or 0 when none is set.
func runtimeLimit() uint64 {
	if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
		return uint64(l)
	}
	return 0
}

func heapRatio(inuse, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return min(float64(inuse)/float64(limit), 1)
}

// Option configures a PressureMonitor.
type Option func(*PressureMonitor)

// WithThreshold sets the pressure ratio (0, 1] above which spills are
// requested.
func WithThreshold(t float64) Option {
	return func(m *PressureMonitor) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// WithInterval sets the sampling interval.
func WithInterval(d time.Duration) Option {
	return func(m *PressureMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithHeapLimit sets the heap budget the default sampler measures against.
// Zero keeps the GOMEMLIMIT or system memory fallback.
func WithHeapLimit(limit uint64) Option {
	return func(m *PressureMonitor) {
		m.heapLimit = limit
	}
}

// WithSampleFunc replaces the memory sampler.
func WithSampleFunc(f SampleFunc) Option {
	return func(m *PressureMonitor) {
		if f != nil {
			m.sample = f
		}
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *PressureMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// PressureMonitor samples memory on a ticker and calls SpillNow on every
// registered Spiller while pressure is above the threshold.
type PressureMonitor struct {
	threshold float64
	interval  time.Duration
	heapLimit uint64
	sample    SampleFunc
	logger    logrus.FieldLogger

	mu       sync.Mutex
	spillers map[int]Spiller
	nextID   int
	cancel   context.CancelFunc
	done     chan struct{}

	checks   atomic.Int64
	triggers atomic.Int64
}

// NewPressureMonitor creates a stopped monitor.
func NewPressureMonitor(opts ...Option) *PressureMonitor {
	m := &PressureMonitor{
		threshold: DefaultThreshold,
		interval:  DefaultInterval,
		logger:    logrus.StandardLogger(),
		spillers:  make(map[int]Spiller),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sample == nil {
		m.sample = NewSystemSampler(m.heapLimit)
	}
	return m
}

// Register adds spillers and returns a function that removes them again.
func (m *PressureMonitor) Register(spillers ...Spiller) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(spillers))
	for _, s := range spillers {
		if s == nil {
			continue
		}
		m.spillers[m.nextID] = s
		ids = append(ids, m.nextID)
		m.nextID++
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, id := range ids {
			delete(m.spillers, id)
		}
	}
}

// Registered returns the number of registered spillers.
func (m *PressureMonitor) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spillers)
}

// Start begins sampling in a background goroutine. It is a no-op when the
// monitor is already running.
func (m *PressureMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop halts sampling and waits for the background goroutine to exit.
func (m *PressureMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *PressureMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(); err != nil {
				m.logger.WithError(err).Warn("memory pressure check failed")
			}
		}
	}
}

// Check takes one sample and spills every registered buffer when pressure
// exceeds the threshold. It reports whether spills were requested.
func (m *PressureMonitor) Check() (bool, error) {
	m.checks.Add(1)
	s, err := m.sample()
	if err != nil {
		return false, err
	}
	if s.Pressure < m.threshold {
		return false, nil
	}
	m.triggers.Add(1)

	m.mu.Lock()
	spillers := make([]Spiller, 0, len(m.spillers))
	for _, sp := range m.spillers {
		spillers = append(spillers, sp)
	}
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"pressure":   s.Pressure,
		"heap_inuse": humanize.IBytes(s.HeapInuse),
		"heap_limit": humanize.IBytes(s.HeapLimit),
		"buffers":    len(spillers),
	}).Info("memory pressure high, spilling buffers")

	var firstErr error
	for _, sp := range spillers {
		if err := sp.SpillNow(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return true, firstErr
}

// Stats returns the number of samples taken and how many triggered spills.
func (m *PressureMonitor) Stats() (checks, triggers int64) {
	return m.checks.Load(), m.triggers.Load()
}

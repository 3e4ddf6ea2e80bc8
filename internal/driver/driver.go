// Package driver runs a compiled plan in-process. It plays the part of the
// shuffle that normally feeds the engine: it keys and tags every input row,
// optionally pre-aggregates map-side, partitions the envelopes into external
// sorted multisets and reduces the partitions concurrently, one key group at
// a time.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/config"
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/memory"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/paveg/tuplejoin/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Phase names reported to the metrics collector.
const (
	PhaseMap     = "map"
	PhaseCombine = "combine"
	PhaseReduce  = "reduce"
	PhaseSort    = "sort"
)

// Dataset is one input relation. Key names the join columns; the i-th key
// column of every dataset is compared with the i-th of the others.
type Dataset struct {
	Name string
	Key  []string
	Rows []*tuple.Tuple
}

// Runner executes a plan over in-memory datasets. Config is completed with
// defaults before use. The optional fields may be left nil.
type Runner struct {
	Config   config.Config
	Plan     *engine.CompiledPlan
	Datasets []Dataset

	Logger     logrus.FieldLogger
	Counters   *monitoring.Counters
	Collector  *monitoring.MetricsCollector
	Registerer prometheus.Registerer
}

// Result summarises a run.
type Result struct {
	RunID      string
	Counters   monitoring.Snapshot
	Partitions int
	Duration   time.Duration
	Plan       monitoring.QueryPlan
	Phases     []monitoring.PhaseMetrics
}

// run holds the per-execution state shared by the phases.
type run struct {
	id         string
	cfg        config.Config
	logger     logrus.FieldLogger
	counters   *monitoring.Counters
	collector  *monitoring.MetricsCollector
	monitor    *memory.PressureMonitor
	bucketOpts []bucket.Option
}

func (r *Runner) start(ctx context.Context, mode string) (*run, func(), error) {
	cfg := r.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, errs.NewInvalidInputError("Run", err.Error())
	}

	logger := r.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	logger = logger.WithFields(logrus.Fields{"run": id, "mode": mode})

	opts, err := BucketOptions(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	st := &run{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		counters:   r.Counters,
		collector:  r.Collector,
		bucketOpts: opts,
	}
	if st.counters == nil {
		st.counters = &monitoring.Counters{}
	}

	reporters := []monitoring.Reporter{monitoring.LogReporter{Logger: logger}}
	var prom *monitoring.PromReporter
	if r.Registerer != nil {
		prom, err = monitoring.NewPromReporter(r.Registerer, prometheus.Labels{"mode": mode})
		if err != nil {
			return nil, nil, fmt.Errorf("registering metrics: %w", err)
		}
		reporters = append(reporters, prom)
	}
	if st.collector == nil {
		var observers []monitoring.PhaseObserver
		if prom != nil {
			observers = append(observers, prom)
		}
		st.collector = monitoring.NewMetricsCollector(cfg.MetricsCollection, observers...)
	}

	hb := monitoring.NewHeartbeat(st.counters, cfg.HeartbeatInterval, reporters...)
	hb.Start(ctx)

	if cfg.MemoryMonitor {
		limit, _ := cfg.MemoryLimitBytes() // checked by Validate
		st.monitor = memory.NewPressureMonitor(
			memory.WithThreshold(cfg.MemoryPressureThreshold),
			memory.WithInterval(cfg.MemoryCheckInterval),
			memory.WithHeapLimit(limit),
			memory.WithLogger(logger),
		)
		st.monitor.Start(ctx)
	}

	stop := func() {
		if st.monitor != nil {
			st.monitor.Stop()
		}
		hb.Stop()
		if prom != nil {
			prom.Unregister(r.Registerer)
		}
	}
	return st, stop, nil
}

// BucketOptions translates the spill settings of cfg into list options.
func BucketOptions(cfg config.Config, logger logrus.FieldLogger) ([]bucket.Option, error) {
	maxBytes, err := cfg.SpillMaxBytesValue()
	if err != nil {
		return nil, errs.NewInvalidInputError("BucketOptions", err.Error())
	}
	minFree, err := cfg.MinFreeDiskBytes()
	if err != nil {
		return nil, errs.NewInvalidInputError("BucketOptions", err.Error())
	}
	compression, err := bucket.ParseCompression(cfg.SpillCompression)
	if err != nil {
		return nil, err
	}
	return []bucket.Option{
		bucket.WithDir(cfg.SpillDir),
		bucket.WithPolicy(bucket.ThresholdPolicy{MaxElements: cfg.SpillThreshold, MaxBytes: maxBytes}),
		bucket.WithCompression(compression),
		bucket.WithMinFreeDisk(minFree),
		bucket.WithMergeBatchSize(cfg.MergeBatchSize),
		bucket.WithLogger(logger),
	}, nil
}

func (st *run) newList(opts ...bucket.Option) *bucket.List {
	return bucket.New(append(append([]bucket.Option{}, st.bucketOpts...), opts...)...)
}

// watch registers lists with the memory monitor, if any.
func (st *run) watch(lists ...*bucket.List) (unregister func()) {
	if st.monitor == nil {
		return func() {}
	}
	spillers := make([]memory.Spiller, len(lists))
	for i, l := range lists {
		spillers[i] = l
	}
	return st.monitor.Register(spillers...)
}

// release closes lists, adding their spill counts to the run counters.
func (st *run) release(lists ...*bucket.List) {
	for _, l := range lists {
		st.counters.Spills.Add(int64(l.Stats().Spills))
		if err := l.Close(); err != nil {
			st.logger.WithError(err).Warn("closing buffer")
		}
	}
}

func (st *run) result(partitions int, started time.Time, plan *monitoring.PlanBuilder) *Result {
	snap := st.counters.Snapshot()
	res := &Result{
		RunID:      st.id,
		Counters:   snap,
		Partitions: partitions,
		Duration:   time.Since(started),
		Phases:     st.collector.GetMetrics(),
	}
	if plan != nil {
		res.Plan = plan.SetActual(snap).Build()
	}
	return res
}

// lockedEmitter serialises access to an emitter shared by partitions.
type lockedEmitter struct {
	mu   sync.Mutex
	next engine.Emitter
}

func (e *lockedEmitter) Emit(row *tuple.Tuple) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next.Emit(row)
}

// Run executes the plan and emits every output row to emit.
func (r *Runner) Run(ctx context.Context, emit engine.Emitter) (*Result, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	st, stop, err := r.start(ctx, "join")
	if err != nil {
		return nil, err
	}
	defer stop()

	st.logger.WithFields(logrus.Fields{
		"datasets":   len(r.Datasets),
		"join":       r.Plan.JoinType(),
		"partitions": st.cfg.Partitions,
	}).Info("run started")

	parts, err := r.shuffle(ctx, st)
	defer func() { st.release(parts...) }()
	if err != nil {
		return nil, err
	}

	out := &lockedEmitter{next: emit}
	err = st.collector.RecordPhase(PhaseReduce, func() (int64, error) {
		before := st.counters.Records.Load()
		err := r.reduce(ctx, st, parts, out)
		return st.counters.Records.Load() - before, err
	})
	if err != nil {
		return nil, err
	}
	st.release(parts...)
	parts = nil

	res := st.result(st.cfg.Partitions, started, r.Plan.Explain())
	st.logger.WithFields(logrus.Fields{
		"emitted":  res.Counters.Emitted,
		"groups":   res.Counters.Groups,
		"duration": res.Duration,
	}).Info("run finished")
	return res, nil
}

func (r *Runner) validate() error {
	const op = "Run"
	if r.Plan == nil {
		return errs.NewInvalidInputError(op, "no plan")
	}
	if err := validation.ValidateLength(r.Plan.NumDatasets(), len(r.Datasets), op, "datasets"); err != nil {
		return err
	}

	checks := validation.NewCompoundValidator()
	first := r.Datasets[0]
	for i, ds := range r.Datasets {
		checks.Add(
			validation.NewNameValidator(r.Plan.DatasetName(datajoin.Tag(i)), ds.Name, op, fmt.Sprintf("dataset %d", i)),
			validation.NewNotEmptyValidator(len(ds.Key), op, fmt.Sprintf("key columns of %q", ds.Name)),
			validation.NewLengthValidator(len(first.Key), len(ds.Key), op, fmt.Sprintf("key columns of %q", ds.Name)),
		)
	}
	return checks.Validate()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBucketOptions configures the lists used to buffer rows.
func WithBucketOptions(opts ...bucket.Option) ProcessorOption {
	return func(p *Processor) {
		p.bucketOpts = append(p.bucketOpts, opts...)
	}
}

// WithCounters shares progress counters with the caller.
func WithCounters(c *monitoring.Counters) ProcessorOption {
	return func(p *Processor) {
		if c != nil {
			p.counters = c
		}
	}
}

// WithLogger sets the processor's logger.
func WithLogger(l logrus.FieldLogger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor evaluates a CompiledPlan one key group at a time. It owns
// accumulator state and buffers, so it must not be shared between goroutines.
type Processor struct {
	plan       *CompiledPlan
	counters   *monitoring.Counters
	logger     logrus.FieldLogger
	bucketOpts []bucket.Option

	seen      []bool
	buffers   []*bucket.List
	extendOut []*bucket.List
	accs      [][]Accumulator
	groupOut  [][]*bucket.List

	crossAccs      [][]Accumulator
	crossExtendOut []*bucket.List
	crossGroupOut  [][]*bucket.List
	prefixOut      *bucket.List

	// Frozen single-row lists standing in for a dataset that is missing
	// from an outer join.
	extendNoMatch []*bucket.List
	groupNoMatch  [][]*bucket.List
	missing       []bool

	lists  []*bucket.List
	frozen []*bucket.List
}

// NewProcessor builds a processor for plan.
func NewProcessor(plan *CompiledPlan, opts ...ProcessorOption) (*Processor, error) {
	p := &Processor{
		plan:     plan,
		counters: &monitoring.Counters{},
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	n := plan.NumDatasets()
	null := plan.plan.NullValue
	p.seen = make([]bool, n)
	p.buffers = make([]*bucket.List, n)
	p.extendOut = make([]*bucket.List, n)
	p.accs = make([][]Accumulator, n)
	p.groupOut = make([][]*bucket.List, n)
	p.extendNoMatch = make([]*bucket.List, n)
	p.groupNoMatch = make([][]*bucket.List, n)
	p.missing = make([]bool, n)

	for d, ds := range plan.datasets {
		if ds.buffered {
			p.buffers[d] = p.newList()
		}
		p.extendOut[d] = p.newList()
		var extRow *tuple.Tuple
		for _, f := range ds.extends {
			row, err := noMatchRow(f, null)
			if err != nil {
				return nil, p.closeOnError(err)
			}
			if extRow == nil {
				extRow = row
			} else if extRow, err = extRow.Merge(row); err != nil {
				return nil, p.closeOnError(err)
			}
		}
		if extRow != nil {
			l, err := p.freeze(extRow)
			if err != nil {
				return nil, p.closeOnError(err)
			}
			p.extendNoMatch[d] = l
		}
		for _, g := range ds.groups {
			p.accs[d] = append(p.accs[d], g.NewAccumulator())
			p.groupOut[d] = append(p.groupOut[d], p.newList())
			row, err := noMatchRow(g, null)
			if err != nil {
				return nil, p.closeOnError(err)
			}
			l, err := p.freeze(row)
			if err != nil {
				return nil, p.closeOnError(err)
			}
			p.groupNoMatch[d] = append(p.groupNoMatch[d], l)
		}
	}
	for _, set := range plan.cross {
		accs := make([]Accumulator, len(set.groups))
		outs := make([]*bucket.List, len(set.groups))
		for i, g := range set.groups {
			accs[i] = g.NewAccumulator()
			outs[i] = p.newList()
		}
		p.crossAccs = append(p.crossAccs, accs)
		p.crossGroupOut = append(p.crossGroupOut, outs)
		p.crossExtendOut = append(p.crossExtendOut, p.newList())
	}
	p.prefixOut = p.newList()
	return p, nil
}

func (p *Processor) newList() *bucket.List {
	l := bucket.New(p.bucketOpts...)
	p.lists = append(p.lists, l)
	return l
}

// freeze returns an immutable list holding a copy of row.
func (p *Processor) freeze(row *tuple.Tuple) (*bucket.List, error) {
	l := bucket.New(p.bucketOpts...)
	defer func() { _ = l.Close() }()
	if err := l.Add(row); err != nil {
		return nil, err
	}
	frozen, err := l.Immutable()
	if err != nil {
		return nil, err
	}
	p.frozen = append(p.frozen, frozen)
	return frozen, nil
}

func (p *Processor) closeOnError(err error) error {
	_ = p.Close()
	return err
}

// Lists returns every list the processor buffers into, for registration with
// a memory-pressure monitor. Frozen no-match lists are not included.
func (p *Processor) Lists() []*bucket.List {
	return p.lists
}

// Counters returns the processor's progress counters.
func (p *Processor) Counters() *monitoring.Counters {
	return p.counters
}

// Close releases every buffer.
func (p *Processor) Close() error {
	var errList []error
	for _, l := range slices.Concat(p.lists, p.frozen) {
		if err := l.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Process evaluates one key group and emits its output rows.
func (p *Processor) Process(ctx context.Context, records Records, emit Emitter) error {
	if err := p.reset(); err != nil {
		return err
	}
	p.counters.Groups.Add(1)

	n := p.plan.NumDatasets()
	last := n - 1
	prev := -1
	streaming, aborted := false, false

	for records.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := records.Value()
		p.counters.Records.Add(1)

		tag := int(v.Tag)
		if tag >= n {
			p.skipMalformed(tag, errs.NewMalformedRowError("Process",
				fmt.Sprintf("dataset tag %d outside plan of %d datasets", tag, n), nil))
			continue
		}
		if tag < prev {
			return errs.NewConsistencyError("Process",
				fmt.Sprintf("dataset tag %d arrived after %d", tag, prev))
		}
		if tag != prev {
			prev = tag
			if p.plan.streamLast && tag == last {
				ok, err := p.finishPrefix(ctx)
				if err != nil {
					return err
				}
				aborted = !ok
				streaming = true
			}
		}
		if aborted {
			continue
		}

		row, ok := v.Payload.(*tuple.Tuple)
		if !ok || row == nil {
			p.skipMalformed(tag, errs.NewMalformedRowError("Process",
				fmt.Sprintf("payload is %T, not a tuple", v.Payload), nil))
			continue
		}
		if streaming {
			if err := p.streamRow(ctx, row, emit); err != nil {
				return err
			}
			continue
		}
		if err := p.consume(datajoin.Tag(tag), row); err != nil {
			return err
		}
	}
	if err := records.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case aborted:
		return p.abort("required dataset missing")
	case streaming:
		if p.seen[last] {
			return nil
		}
		return p.finishStreamingMissingLast(ctx, emit)
	case p.plan.streamLast:
		ok, err := p.finishPrefix(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return p.abort("required dataset missing")
		}
		return p.finishStreamingMissingLast(ctx, emit)
	default:
		return p.finish(ctx, emit)
	}
}

func (p *Processor) reset() error {
	for _, l := range p.lists {
		if err := l.Clear(); err != nil {
			return err
		}
	}
	for _, accs := range p.accs {
		for _, a := range accs {
			a.Reset()
		}
	}
	for _, accs := range p.crossAccs {
		for _, a := range accs {
			a.Reset()
		}
	}
	clear(p.seen)
	clear(p.missing)
	return nil
}

func (p *Processor) abort(reason string) error {
	p.counters.Aborted.Add(1)
	p.logger.WithField("reason", reason).Debug("key group produced no output")
	return nil
}

// rowError counts and swallows malformed-row errors. Other errors are
// returned unchanged.
func (p *Processor) rowError(tag int, err error) error {
	if errors.Is(err, errs.ErrMalformedRow) {
		p.skipMalformed(tag, err)
		return nil
	}
	return err
}

func (p *Processor) skipMalformed(tag int, err error) {
	p.counters.Malformed.Add(1)
	p.logger.WithFields(logrus.Fields{"dataset": tag}).WithError(err).Debug("skipping malformed row")
}

func (p *Processor) consume(tag datajoin.Tag, row *tuple.Tuple) error {
	ds := p.plan.datasets[tag]
	var ext *tuple.Tuple
	if len(ds.extends) > 0 {
		var err error
		if ext, err = extendAll(ds.extends, row); err != nil {
			return p.rowError(int(tag), err)
		}
	}
	if err := checkAll(p.accs[tag], row); err != nil {
		return p.rowError(int(tag), err)
	}
	if err := consumeAll("Process", p.accs[tag], row); err != nil {
		return err
	}
	if ds.buffered {
		if err := p.buffers[tag].Add(row); err != nil {
			return err
		}
	}
	if ext != nil {
		if err := p.extendOut[tag].Add(ext); err != nil {
			return err
		}
	}
	p.seen[tag] = true
	return nil
}

// settle collects the group results of the datasets in [0, upto) that are
// present and marks the others missing. It reports false when a missing
// dataset is required by the join type.
func (p *Processor) settle(upto int) (bool, error) {
	for d := 0; d < upto; d++ {
		if p.seen[d] {
			if err := p.collectGroups(d); err != nil {
				return false, err
			}
			continue
		}
		if p.plan.required(d) {
			return false, nil
		}
		p.missing[d] = true
	}
	return true, nil
}

func (p *Processor) anySeen() bool {
	for _, s := range p.seen {
		if s {
			return true
		}
	}
	return false
}

func (p *Processor) collectGroups(d int) error {
	ds := p.plan.datasets[d]
	for i, acc := range p.accs[d] {
		if err := p.collect(ds.groups[i], acc, p.groupOut[d][i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) collect(f GroupFunction, acc Accumulator, out *bucket.List) error {
	single := isSingleRow(f)
	count := 0
	return acc.Results(func(row *tuple.Tuple) error {
		count++
		if single && count > 1 {
			return errs.NewConsistencyError("Process",
				fmt.Sprintf("aggregate %s emitted more than one row", f.Name()))
		}
		return out.Add(row)
	})
}

// operands lists the result lists of datasets [0, upto) in cross product
// order. Missing datasets contribute their no-match lists.
func (p *Processor) operands(upto int) []*bucket.List {
	var ops []*bucket.List
	for d := 0; d < upto; d++ {
		if p.missing[d] {
			ops = append(ops, p.extendNoMatch[d])
			ops = append(ops, p.groupNoMatch[d]...)
			continue
		}
		ops = append(ops, p.extendOut[d])
		ops = append(ops, p.groupOut[d]...)
	}
	return ops
}

func (p *Processor) finish(ctx context.Context, emit Emitter) error {
	if !p.anySeen() {
		return p.abort("no valid rows")
	}
	n := p.plan.NumDatasets()
	ok, err := p.settle(n)
	if err != nil {
		return err
	}
	if !ok {
		return p.abort("required dataset missing")
	}

	ops := p.operands(n)
	for i, set := range p.plan.cross {
		if err := p.runCross(ctx, i, set); err != nil {
			return err
		}
		ops = append(ops, p.crossExtendOut[i])
		ops = append(ops, p.crossGroupOut[i]...)
	}
	return p.crossProduct(ctx, ops, nil, func(row *tuple.Tuple) error {
		return p.emitRow(row, emit)
	})
}

// runCross evaluates the i-th set of cross-dataset functions over the cross
// product of the buffered rows of the datasets that set reads.
func (p *Processor) runCross(ctx context.Context, i int, set crossSet) error {
	lists := make([]*bucket.List, len(set.tags))
	for j, tag := range set.tags {
		lists[j] = p.buffers[tag]
	}
	accs := p.crossAccs[i]
	err := p.crossProduct(ctx, lists, nil, func(row *tuple.Tuple) error {
		var ext *tuple.Tuple
		if len(set.extends) > 0 {
			var err error
			if ext, err = extendAll(set.extends, row); err != nil {
				return p.rowError(-1, err)
			}
		}
		if err := checkAll(accs, row); err != nil {
			return p.rowError(-1, err)
		}
		if err := consumeAll("Process", accs, row); err != nil {
			return err
		}
		if ext == nil {
			return nil
		}
		return p.crossExtendOut[i].Add(ext)
	})
	if err != nil {
		return err
	}
	for j, acc := range accs {
		if err := p.collect(set.groups[j], acc, p.crossGroupOut[i][j]); err != nil {
			return err
		}
	}
	return nil
}

// finishPrefix settles every dataset but the last and materialises their
// cross product for streaming.
func (p *Processor) finishPrefix(ctx context.Context) (bool, error) {
	last := p.plan.NumDatasets() - 1
	ok, err := p.settle(last)
	if err != nil || !ok {
		return ok, err
	}
	return true, p.crossProduct(ctx, p.operands(last), nil, p.prefixOut.Add)
}

func (p *Processor) streamRow(ctx context.Context, row *tuple.Tuple, emit Emitter) error {
	last := p.plan.NumDatasets() - 1
	ext, err := extendAll(p.plan.datasets[last].extends, row)
	if err != nil {
		return p.rowError(last, err)
	}
	p.seen[last] = true
	return p.emitWithPrefix(ctx, ext, emit)
}

func (p *Processor) finishStreamingMissingLast(ctx context.Context, emit Emitter) error {
	last := p.plan.NumDatasets() - 1
	if p.plan.required(last) {
		return p.abort("required dataset missing")
	}
	if !p.anySeen() {
		return p.abort("no valid rows")
	}
	ops := []*bucket.List{p.prefixOut, p.extendNoMatch[last]}
	return p.crossProduct(ctx, ops, nil, func(row *tuple.Tuple) error {
		return p.emitRow(row, emit)
	})
}

func (p *Processor) emitWithPrefix(ctx context.Context, row *tuple.Tuple, emit Emitter) error {
	if p.prefixOut.Size() == 0 {
		return p.emitRow(row, emit)
	}
	return p.crossProduct(ctx, []*bucket.List{p.prefixOut}, nil, func(prefix *tuple.Tuple) error {
		merged, err := prefix.Merge(row)
		if err != nil {
			return err
		}
		return p.emitRow(merged, emit)
	})
}

// crossProduct calls fn with every column-wise union of one row from each
// non-empty list, merged onto prefix. Nil and empty lists are skipped.
func (p *Processor) crossProduct(ctx context.Context, lists []*bucket.List, prefix *tuple.Tuple, fn func(*tuple.Tuple) error) error {
	nonEmpty := make([]*bucket.List, 0, len(lists))
	for _, l := range lists {
		if l != nil && l.Size() > 0 {
			nonEmpty = append(nonEmpty, l)
		}
	}
	return p.crossStep(ctx, nonEmpty, prefix, fn)
}

func (p *Processor) crossStep(ctx context.Context, lists []*bucket.List, prefix *tuple.Tuple, fn func(*tuple.Tuple) error) error {
	if len(lists) == 0 {
		if prefix == nil {
			return nil
		}
		return fn(prefix)
	}
	it, err := lists[0].Iterator()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		merged := it.Tuple()
		if prefix != nil {
			if merged, err = prefix.Merge(merged); err != nil {
				return err
			}
		}
		if err := p.crossStep(ctx, lists[1:], merged, fn); err != nil {
			return err
		}
	}
	return it.Err()
}

// emitRow filters a merged row, projects it to the output columns and emits
// it. Output columns the row lacks are null.
func (p *Processor) emitRow(row *tuple.Tuple, emit Emitter) error {
	if row == nil {
		return nil
	}
	if f := p.plan.plan.Filter; f != nil {
		keep, err := f(row)
		if err != nil {
			return p.rowError(-1, err)
		}
		if !keep {
			p.counters.Filtered.Add(1)
			return nil
		}
	}
	out := tuple.New()
	for _, col := range p.plan.output {
		v, _ := row.Get(col)
		if err := out.Set(col, v); err != nil {
			return err
		}
	}
	if err := out.AttachSchema(p.plan.output); err != nil {
		return err
	}
	p.counters.Emitted.Add(1)
	return emit.Emit(out)
}

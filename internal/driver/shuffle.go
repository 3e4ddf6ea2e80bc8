package driver

import (
	"context"
	"fmt"

	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/sirupsen/logrus"
)

// KeyColumn names the i-th column of a key tuple. Keys use positional names
// so that keys of different datasets compare column by column.
func KeyColumn(i int) string {
	return fmt.Sprintf("k%d", i)
}

// KeyTuple extracts the key of row. A missing key column makes the row
// malformed.
func KeyTuple(row *tuple.Tuple, columns []string) (*tuple.Tuple, error) {
	key := tuple.New()
	for i, c := range columns {
		v, ok := row.Get(c)
		if !ok {
			return nil, errs.NewMalformedRowError("KeyTuple", fmt.Sprintf("key column %q missing", c), nil)
		}
		if err := key.Set(KeyColumn(i), v); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// envelopeOrder sorts envelopes by key then dataset tag.
var envelopeOrder = datajoin.EnvelopeComparator(datajoin.NewComparator())

// shuffle maps every dataset into the partition lists. The lists are returned
// even on error so the caller can release them.
func (r *Runner) shuffle(ctx context.Context, st *run) ([]*bucket.List, error) {
	parts := make([]*bucket.List, st.cfg.Partitions)
	for i := range parts {
		parts[i] = st.newList(bucket.WithComparator(envelopeOrder))
	}
	unwatch := st.watch(parts...)
	defer unwatch()

	var combiner *engine.Combiner
	if st.cfg.CombinerEnabled {
		combiner = engine.NewCombiner(r.Plan, st.counters)
	}
	partitioner := datajoin.Partitioner{}
	send := func(key datajoin.Key, payload *tuple.Tuple) error {
		env, err := datajoin.EnvelopeTuple(key, datajoin.NewValue(key.Tag, payload))
		if err != nil {
			return err
		}
		return parts[partitioner.Partition(key, len(parts))].Add(env)
	}

	for d, ds := range r.Datasets {
		tag := datajoin.Tag(d)
		combine := combiner != nil && r.Plan.Combinable(tag)

		if !combine {
			err := st.collector.RecordPhase(PhaseMap, func() (int64, error) {
				return r.mapDataset(ctx, st, tag, ds, send)
			})
			if err != nil {
				return parts, err
			}
			continue
		}

		staged := st.newList(bucket.WithComparator(envelopeOrder))
		unwatchStaged := st.watch(staged)
		err := st.collector.RecordPhase(PhaseMap, func() (int64, error) {
			return r.mapDataset(ctx, st, tag, ds, func(key datajoin.Key, row *tuple.Tuple) error {
				env, err := datajoin.EnvelopeTuple(key, datajoin.NewValue(tag, row))
				if err != nil {
					return err
				}
				return staged.Add(env)
			})
		})
		if err == nil {
			err = st.collector.RecordPhase(PhaseCombine, func() (int64, error) {
				return combineRuns(ctx, combiner, st.counters, tag, staged, send)
			})
		}
		unwatchStaged()
		st.release(staged)
		if err != nil {
			return parts, err
		}
	}

	sizes := make([]int, len(parts))
	for i, p := range parts {
		sizes[i] = p.Size()
	}
	st.logger.WithFields(logrus.Fields{"partition_sizes": sizes}).Debug("shuffle finished")
	return parts, nil
}

// mapDataset keys every row of ds and hands it to out. It returns the number
// of rows read.
func (r *Runner) mapDataset(
	ctx context.Context, st *run, tag datajoin.Tag, ds Dataset,
	out func(datajoin.Key, *tuple.Tuple) error,
) (int64, error) {
	var n int64
	for _, row := range ds.Rows {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		n++
		if row == nil {
			st.counters.Malformed.Add(1)
			continue
		}
		key, err := KeyTuple(row, ds.Key)
		if err != nil {
			st.counters.Malformed.Add(1)
			st.logger.WithFields(logrus.Fields{"dataset": ds.Name}).WithError(err).Debug("skipping row")
			continue
		}
		if err := out(datajoin.NewKey(tag, key), row); err != nil {
			return n, err
		}
	}
	return n, nil
}

// combineRuns walks staged envelopes in key order and sends one partial row
// per key run. A run whose rows were all malformed sends nothing, as the
// reduce side would have skipped every one of them.
func combineRuns(
	ctx context.Context, c *engine.Combiner, counters *monitoring.Counters, tag datajoin.Tag,
	staged *bucket.List, send func(datajoin.Key, *tuple.Tuple) error,
) (int64, error) {
	var (
		n        int64
		current  datajoin.Key
		open     bool
		accepted bool
	)
	flush := func() error {
		if !open {
			return nil
		}
		open = false
		partial, err := c.Finish()
		if err != nil || !accepted {
			return err
		}
		return send(current, partial)
	}

	err := staged.Each(func(env *tuple.Tuple) error {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++
		key, val, err := datajoin.FromEnvelopeTuple(env)
		if err != nil {
			return err
		}
		if open {
			same, err := datajoin.GroupEqual(current, key)
			if err != nil {
				return err
			}
			if !same {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if !open {
			if err := c.Begin(tag); err != nil {
				return err
			}
			current, open, accepted = key, true, false
		}
		row, _ := val.Payload.(*tuple.Tuple)
		malformed := counters.Malformed.Load()
		if err := c.Consume(row); err != nil {
			return err
		}
		accepted = accepted || counters.Malformed.Load() == malformed
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, flush()
}

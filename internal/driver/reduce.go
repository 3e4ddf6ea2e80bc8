package driver

import (
	"context"
	"slices"

	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	"github.com/paveg/tuplejoin/internal/parallel"
	"github.com/sirupsen/logrus"
)

// reduce processes the partitions on a worker pool. Each partition gets its
// own processor, so key groups within a partition are handled in order by a
// single goroutine.
func (r *Runner) reduce(ctx context.Context, st *run, parts []*bucket.List, emit engine.Emitter) error {
	pool := parallel.NewWorkerPool(st.cfg.WorkerPoolSize)
	defer pool.Close()

	return parallel.Run(ctx, pool, parts, func(ctx context.Context, i int, part *bucket.List) error {
		logger := st.logger.WithField("partition", i)
		proc, err := engine.NewProcessor(r.Plan,
			engine.WithBucketOptions(append(slices.Clone(st.bucketOpts), bucket.WithLogger(logger))...),
			engine.WithCounters(st.counters),
			engine.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		unwatch := st.watch(proc.Lists()...)
		defer func() {
			unwatch()
			st.release(proc.Lists()...)
		}()

		groups, err := reducePartition(ctx, proc, part, emit)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"groups": groups, "envelopes": part.Size()}).Debug("partition reduced")
		return nil
	})
}

// reducePartition feeds every key group of part to proc and returns the
// number of groups.
func reducePartition(ctx context.Context, proc *engine.Processor, part *bucket.List, emit engine.Emitter) (int, error) {
	it, err := part.Iterator()
	if err != nil {
		return 0, err
	}
	defer it.Close()

	groups := &keyGroups{it: it}
	groups.advance()
	n := 0
	for groups.pending {
		records := &groupRecords{groups: groups, key: groups.key}
		if err := proc.Process(ctx, records, emit); err != nil {
			return n, err
		}
		for records.Next() {
		}
		if err := records.Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, groups.err
}

// keyGroups reads sorted envelopes with one envelope of lookahead.
type keyGroups struct {
	it      *bucket.Iterator
	key     datajoin.Key
	value   datajoin.Value
	pending bool
	err     error
}

func (g *keyGroups) advance() {
	g.pending = false
	if g.err != nil || !g.it.Next() {
		if g.err == nil {
			g.err = g.it.Err()
		}
		return
	}
	k, v, err := datajoin.FromEnvelopeTuple(g.it.Tuple())
	if err != nil {
		g.err = err
		return
	}
	g.key, g.value, g.pending = k, v, true
}

// groupRecords serves the envelopes of one key group as engine.Records.
type groupRecords struct {
	groups  *keyGroups
	key     datajoin.Key
	current datajoin.Value
	started bool
	done    bool
	err     error
}

func (r *groupRecords) Next() bool {
	if r.done {
		return false
	}
	g := r.groups
	if r.started {
		g.advance()
	}
	r.started = true
	if !g.pending {
		r.done = true
		return false
	}
	same, err := datajoin.GroupEqual(r.key, g.key)
	if err != nil {
		r.err, r.done = err, true
		return false
	}
	if !same {
		r.done = true
		return false
	}
	r.current = g.value
	return true
}

func (r *groupRecords) Value() datajoin.Value { return r.current }

func (r *groupRecords) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.groups.err
}

package driver

import (
	"context"
	"time"

	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/datajoin"
	"github.com/paveg/tuplejoin/internal/engine"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/sirupsen/logrus"
)

// Sort emits rows in the order of columns, spilling through a single external
// multiset. Rows equal on every sort column are ordered by their full value,
// so the output order is deterministic. Plan and Datasets are not used.
func (r *Runner) Sort(
	ctx context.Context, rows []*tuple.Tuple, columns []datajoin.SortColumn, emit engine.Emitter,
) (*Result, error) {
	started := time.Now()
	st, stop, err := r.start(ctx, "sort")
	if err != nil {
		return nil, err
	}
	defer stop()

	order := datajoin.NewComparator(columns...)
	list := st.newList(bucket.WithComparator(func(a, b *tuple.Tuple) (int, error) {
		return order.ComparePayloads(a, b)
	}))
	unwatch := st.watch(list)
	released := false
	defer func() {
		unwatch()
		if !released {
			st.release(list)
		}
	}()

	err = st.collector.RecordPhase(PhaseMap, func() (int64, error) {
		var n int64
		for _, row := range rows {
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
			st.counters.Records.Add(1)
			if err := list.Add(row); err != nil {
				return n, err
			}
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}

	err = st.collector.RecordPhase(PhaseSort, func() (int64, error) {
		var n int64
		err := list.Each(func(row *tuple.Tuple) error {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
			if err := emit.Emit(row); err != nil {
				return err
			}
			st.counters.Emitted.Add(1)
			return nil
		})
		return n, err
	})
	if err != nil {
		return nil, err
	}

	unwatch()
	st.release(list)
	released = true

	plan := monitoring.NewPlanBuilder().AddOperation("Sort", describeSort(columns))
	res := st.result(1, started, plan)
	st.logger.WithFields(logrus.Fields{
		"rows":     res.Counters.Emitted,
		"spills":   res.Counters.Spills,
		"duration": res.Duration,
	}).Info("sort finished")
	return res, nil
}

func describeSort(columns []datajoin.SortColumn) string {
	if len(columns) == 0 {
		return "by row value"
	}
	desc := "by "
	for i, c := range columns {
		if i > 0 {
			desc += ", "
		}
		desc += c.Name
		if c.Descending {
			desc += " desc"
		}
		if c.ForceNumeric {
			desc += " numeric"
		}
	}
	return desc
}

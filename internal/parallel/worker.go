// Package parallel runs independent units of work, such as the partitions
// of a local join, on a bounded pool of goroutines.
//
// A WorkerPool caps concurrency at a fixed number of workers, defaulting to
// runtime.NumCPU(). Run stops scheduling new items after the first failure
// and returns that error; ProcessIndexed keeps results in input order.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds the number of goroutines used to process items.
type WorkerPool struct {
	numWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a new worker pool. A non-positive size uses the
// number of CPUs.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// Run calls worker for every item with at most Workers goroutines in flight.
// The context passed to worker is cancelled when ctx is done, the pool is
// closed or another item fails. Run returns the first error.
func Run[T any](
	ctx context.Context,
	wp *WorkerPool,
	items []T,
	worker func(ctx context.Context, index int, item T) error,
) error {
	if len(items) == 0 {
		return nil
	}
	if err := wp.ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(wp.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(wp.numWorkers)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return worker(gctx, i, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ProcessIndexed executes work items in parallel while preserving order.
func ProcessIndexed[T, R any](
	ctx context.Context,
	wp *WorkerPool,
	items []T,
	worker func(ctx context.Context, index int, item T) (R, error),
) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]R, len(items))
	err := Run(ctx, wp, items, func(ctx context.Context, i int, item T) error {
		r, err := worker(ctx, i, item)
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Close cancels work still running on the pool.
func (wp *WorkerPool) Close() {
	wp.cancel()
}

// Package bucket implements List, an unbounded multiset of tuples that keeps a
// bounded number of elements in memory and spills the rest to compressed
// segment files. With a comparator, iteration merges memory and every segment
// into one ordered stream.
package bucket

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Stats describes the spill activity of a List.
type Stats struct {
	Spills       int
	RowsSpilled  int64
	BytesWritten int64
	Segments     int
	MemoryRows   int
}

// List is a disk-backed multiset of tuples. All methods are safe for
// concurrent use; an Iterator must be used by one goroutine.
type List struct {
	mu        sync.Mutex
	opts      options
	mem       []*tuple.Tuple
	memBytes  int64
	memSorted bool
	segments  []*segment
	size      int
	modCount  uint64
	openIters int
	frozen    bool
	closed    bool
	stats     Stats
}

// New returns an empty List.
func New(opts ...Option) *List {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &List{opts: o}
}

// Add appends a tuple, spilling when the policy says so.
func (l *List) Add(t *tuple.Tuple) error {
	if t == nil {
		return errs.NewInvalidInputError("Add", "nil tuple")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkWritable("Add"); err != nil {
		return err
	}
	if l.openIters > 0 {
		// Open iterators hold a view of mem; force a new backing array.
		l.mem = slices.Clip(l.mem)
	}
	l.mem = append(l.mem, t)
	l.memBytes += t.Size()
	l.memSorted = false
	l.size++
	l.modCount++
	if l.opts.policy.ShouldSpill(len(l.mem), l.memBytes) {
		return l.flushLocked("threshold")
	}
	return nil
}

// Size returns the number of elements, in memory and on disk.
func (l *List) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Stats returns spill statistics.
func (l *List) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Segments = len(l.segments)
	s.MemoryRows = len(l.mem)
	return s
}

// SpillNow writes the in-memory elements to a segment. It does nothing while
// iterators are open or when the list is immutable.
func (l *List) SpillNow() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.frozen || l.openIters > 0 || len(l.mem) == 0 {
		return nil
	}
	return l.flushLocked("requested")
}

// Clear removes every element and deletes the segment files. The list can be
// reused afterwards.
func (l *List) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkWritable("Clear"); err != nil {
		return err
	}
	return l.clearLocked()
}

// Close releases the list's segment files. Further use is an error.
func (l *List) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	err := l.clearLocked()
	l.closed = true
	return err
}

// Clone returns an independent mutable copy. Segment files are copied.
func (l *List) Clone() (*List, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errs.NewInvalidInputError("Clone", "list is closed")
	}

	c := &List{
		opts:      l.opts,
		mem:       make([]*tuple.Tuple, len(l.mem)),
		memBytes:  l.memBytes,
		memSorted: l.memSorted,
		size:      l.size,
	}
	for i, t := range l.mem {
		c.mem[i] = t.Clone()
	}
	for _, seg := range l.segments {
		cp, err := copySegment(seg, l.opts.dir)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		register(cp.path)
		c.segments = append(c.segments, cp)
	}
	return c, nil
}

// Immutable returns a frozen copy whose mutators fail.
func (l *List) Immutable() (*List, error) {
	c, err := l.Clone()
	if err != nil {
		return nil, err
	}
	c.frozen = true
	return c, nil
}

// IsImmutable reports whether the list rejects mutation.
func (l *List) IsImmutable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}

// Iterator returns an iterator over all elements: sorted by the comparator
// when one is set, otherwise segments oldest first followed by memory.
// The iterator must be closed.
func (l *List) Iterator() (*Iterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errs.NewInvalidInputError("Iterator", "list is closed")
	}
	if err := l.sortMemLocked(); err != nil {
		return nil, err
	}

	sources := make([]source, 0, len(l.segments)+1)
	for _, seg := range l.segments {
		r, err := openSegment(seg, l.opts.compression)
		if err != nil {
			_ = closeSources(sources)
			return nil, err
		}
		sources = append(sources, newBatchSource(r, l.opts.batchSize))
	}
	if len(l.mem) > 0 {
		sources = append(sources, &memSource{rows: l.mem[:len(l.mem):len(l.mem)]})
	}

	var src source
	if l.opts.comparator != nil && len(sources) > 1 {
		src = newMergeSource(sources, l.opts.comparator)
	} else {
		src = &concatSource{sources: sources}
	}
	l.openIters++
	return &Iterator{list: l, src: src, modCount: l.modCount, size: l.size}, nil
}

// Each calls fn for every element in iteration order.
func (l *List) Each(fn func(*tuple.Tuple) error) error {
	it, err := l.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		if err := fn(it.Tuple()); err != nil {
			return err
		}
	}
	return it.Err()
}

func (l *List) checkWritable(op string) error {
	switch {
	case l.closed:
		return errs.NewInvalidInputError(op, "list is closed")
	case l.frozen:
		return errs.NewInvalidInputError(op, "list is immutable")
	default:
		return nil
	}
}

func (l *List) sortMemLocked() error {
	if l.opts.comparator == nil || l.memSorted {
		return nil
	}
	var sortErr error
	slices.SortStableFunc(l.mem, func(a, b *tuple.Tuple) int {
		c, err := l.opts.comparator(a, b)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c
	})
	if sortErr != nil {
		return sortErr
	}
	l.memSorted = true
	return nil
}

func (l *List) flushLocked(reason string) error {
	if len(l.mem) == 0 {
		return nil
	}
	if err := l.sortMemLocked(); err != nil {
		return err
	}
	if err := l.checkDiskLocked(); err != nil {
		return err
	}

	seg, err := writeSegment(newSegmentPath(l.opts.dir), l.opts.compression, l.mem)
	if err != nil {
		return err
	}
	register(seg.path)
	l.segments = append(l.segments, seg)
	l.stats.Spills++
	l.stats.RowsSpilled += seg.rows
	l.stats.BytesWritten += seg.bytes

	l.opts.logger.WithFields(logrus.Fields{
		"reason":   reason,
		"rows":     seg.rows,
		"size":     humanize.IBytes(uint64(seg.bytes)),
		"segments": len(l.segments),
		"path":     seg.path,
	}).Debug("spilled bucket to disk")

	l.resetMemLocked()
	return nil
}

func (l *List) checkDiskLocked() error {
	if err := os.MkdirAll(l.opts.dir, 0o755); err != nil {
		return fmt.Errorf("create spill directory: %w", err)
	}
	if l.opts.minFreeDisk == 0 {
		return nil
	}
	free, err := l.opts.diskFree(l.opts.dir)
	if err != nil {
		e := errs.NewResourceError("spill", fmt.Sprintf("cannot determine free space in %s", l.opts.dir))
		e.Cause = err
		return e
	}
	if free < l.opts.minFreeDisk {
		return errs.NewResourceError("spill", fmt.Sprintf("only %s free in %s, need at least %s",
			humanize.IBytes(free), l.opts.dir, humanize.IBytes(l.opts.minFreeDisk)))
	}
	return nil
}

func (l *List) resetMemLocked() {
	if l.openIters > 0 {
		l.mem = nil
	} else {
		clear(l.mem)
		l.mem = l.mem[:0]
	}
	l.memBytes = 0
	l.memSorted = false
}

func (l *List) clearLocked() error {
	var firstErr error
	for _, seg := range l.segments {
		if err := removeSegment(seg.path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove spill segment: %w", err)
		}
	}
	l.segments = nil
	l.resetMemLocked()
	l.size = 0
	l.modCount++
	return firstErr
}

func (l *List) checkSnapshot(modCount uint64, size int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.modCount != modCount || l.size != size {
		return errs.NewConsistencyError("Iterator.Next", "list modified during iteration")
	}
	return nil
}

func (l *List) releaseIterator() {
	l.mu.Lock()
	l.openIters--
	l.mu.Unlock()
}

// Iterator walks a List. Next must be called before the first Tuple.
type Iterator struct {
	list     *List
	src      source
	modCount uint64
	size     int
	read     int
	cur      *tuple.Tuple
	err      error
	closed   bool
}

// Next advances to the next element and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if err := it.list.checkSnapshot(it.modCount, it.size); err != nil {
		it.err = err
		return false
	}
	t, err := it.src.next()
	if err == io.EOF {
		it.cur = nil
		if it.read != it.size {
			it.err = errs.NewConsistencyError("Iterator.Next",
				fmt.Sprintf("read %d elements, list holds %d", it.read, it.size))
		}
		return false
	}
	if err != nil {
		it.err = err
		return false
	}
	it.cur = t
	it.read++
	return true
}

// Tuple returns the current element.
func (it *Iterator) Tuple() *tuple.Tuple {
	return it.cur
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases open segment files. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.cur = nil
	it.list.releaseIterator()
	return it.src.close()
}

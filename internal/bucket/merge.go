package bucket

import (
	"container/heap"
	"errors"
	"io"

	"github.com/paveg/tuplejoin/internal/tuple"
)

// source yields tuples until io.EOF.
type source interface {
	next() (*tuple.Tuple, error)
	close() error
}

type memSource struct {
	rows []*tuple.Tuple
	pos  int
}

func (s *memSource) next() (*tuple.Tuple, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	t := s.rows[s.pos]
	s.pos++
	return t, nil
}

func (s *memSource) close() error {
	s.rows = nil
	return nil
}

// batchSource pulls rows from a segment a batch at a time, so a merge over k
// sources holds at most k batches.
type batchSource struct {
	r    *segmentReader
	buf  []*tuple.Tuple
	pos  int
	size int
	done bool
}

func newBatchSource(r *segmentReader, size int) *batchSource {
	return &batchSource{r: r, size: size, buf: make([]*tuple.Tuple, 0, size)}
}

func (s *batchSource) next() (*tuple.Tuple, error) {
	if s.pos == len(s.buf) {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	t := s.buf[s.pos]
	s.buf[s.pos] = nil
	s.pos++
	return t, nil
}

func (s *batchSource) fill() error {
	if s.done {
		return io.EOF
	}
	s.buf, s.pos = s.buf[:0], 0
	for len(s.buf) < s.size {
		t, err := s.r.next()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return err
		}
		s.buf = append(s.buf, t)
	}
	if len(s.buf) == 0 {
		return io.EOF
	}
	return nil
}

func (s *batchSource) close() error {
	s.buf = nil
	return s.r.close()
}

// concatSource drains its sources in order.
type concatSource struct {
	sources []source
	cur     int
}

func (s *concatSource) next() (*tuple.Tuple, error) {
	for s.cur < len(s.sources) {
		t, err := s.sources[s.cur].next()
		if err == io.EOF {
			s.cur++
			continue
		}
		return t, err
	}
	return nil, io.EOF
}

func (s *concatSource) close() error {
	return closeSources(s.sources)
}

type mergeItem struct {
	head *tuple.Tuple
	src  source
	idx  int
}

type mergeHeap struct {
	items []*mergeItem
	cmp   Comparator
	err   error
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	c, err := h.cmp(a.head, b.head)
	if err != nil && h.err == nil {
		h.err = err
	}
	if c != 0 {
		return c < 0
	}
	// Equal rows come out oldest source first.
	return a.idx < b.idx
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(*mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return it
}

// mergeSource is a k-way merge over individually sorted sources.
type mergeSource struct {
	sources []source
	h       *mergeHeap
	primed  bool
}

func newMergeSource(sources []source, cmp Comparator) *mergeSource {
	return &mergeSource{sources: sources, h: &mergeHeap{cmp: cmp, items: make([]*mergeItem, 0, len(sources))}}
}

func (m *mergeSource) prime() error {
	m.primed = true
	for i, src := range m.sources {
		t, err := src.next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		m.h.items = append(m.h.items, &mergeItem{head: t, src: src, idx: i})
	}
	heap.Init(m.h)
	return m.h.err
}

func (m *mergeSource) next() (*tuple.Tuple, error) {
	if !m.primed {
		if err := m.prime(); err != nil {
			return nil, err
		}
	}
	if m.h.err != nil {
		return nil, m.h.err
	}
	if m.h.Len() == 0 {
		return nil, io.EOF
	}
	top := m.h.items[0]
	out := top.head
	t, err := top.src.next()
	switch {
	case err == io.EOF:
		heap.Pop(m.h)
	case err != nil:
		return nil, err
	default:
		top.head = t
		heap.Fix(m.h, 0)
	}
	if m.h.err != nil {
		return nil, m.h.err
	}
	return out, nil
}

func (m *mergeSource) close() error {
	m.h.items = nil
	return closeSources(m.sources)
}

func closeSources(sources []source) error {
	var errList []error
	for _, s := range sources {
		if err := s.close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

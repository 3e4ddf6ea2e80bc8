// Package sink holds the destinations a run emits its output rows into.
package sink

import (
	"sync"

	"github.com/paveg/tuplejoin/internal/tuple"
)

// Collector keeps every emitted row in memory. It is safe for concurrent use.
type Collector struct {
	mu   sync.Mutex
	rows []*tuple.Tuple
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit appends row.
func (c *Collector) Emit(row *tuple.Tuple) error {
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
	return nil
}

// Rows returns the rows emitted so far in arrival order.
func (c *Collector) Rows() []*tuple.Tuple {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*tuple.Tuple, len(c.rows))
	copy(out, c.rows)
	return out
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

// Reset drops the collected rows.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.rows = nil
	c.mu.Unlock()
}

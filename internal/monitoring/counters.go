package monitoring

import "sync/atomic"

// Counters tracks engine progress. Fields are updated by processing goroutines
// and read concurrently by reporters.
type Counters struct {
	Records   atomic.Int64
	Groups    atomic.Int64
	Emitted   atomic.Int64
	Filtered  atomic.Int64
	Malformed atomic.Int64
	Aborted   atomic.Int64
	Spills    atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Records   int64 `json:"records"`
	Groups    int64 `json:"groups"`
	Emitted   int64 `json:"emitted"`
	Filtered  int64 `json:"filtered"`
	Malformed int64 `json:"malformed"`
	Aborted   int64 `json:"aborted"`
	Spills    int64 `json:"spills"`
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Records:   c.Records.Load(),
		Groups:    c.Groups.Load(),
		Emitted:   c.Emitted.Load(),
		Filtered:  c.Filtered.Load(),
		Malformed: c.Malformed.Load(),
		Aborted:   c.Aborted.Load(),
		Spills:    c.Spills.Load(),
	}
}

// Add accumulates a snapshot into the counters.
func (c *Counters) Add(s Snapshot) {
	c.Records.Add(s.Records)
	c.Groups.Add(s.Groups)
	c.Emitted.Add(s.Emitted)
	c.Filtered.Add(s.Filtered)
	c.Malformed.Add(s.Malformed)
	c.Aborted.Add(s.Aborted)
	c.Spills.Add(s.Spills)
}

// Sub returns the change from prev to s.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		Records:   s.Records - prev.Records,
		Groups:    s.Groups - prev.Groups,
		Emitted:   s.Emitted - prev.Emitted,
		Filtered:  s.Filtered - prev.Filtered,
		Malformed: s.Malformed - prev.Malformed,
		Aborted:   s.Aborted - prev.Aborted,
		Spills:    s.Spills - prev.Spills,
	}
}

// IsZero reports whether nothing changed.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

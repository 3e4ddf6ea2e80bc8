package bucket

// SpillPolicy decides when the in-memory part of a List is written to disk.
type SpillPolicy interface {
	ShouldSpill(elements int, bytes int64) bool
}

// ThresholdPolicy spills when either limit is reached. Zero disables a limit.
type ThresholdPolicy struct {
	MaxElements int
	MaxBytes    int64
}

// ShouldSpill implements SpillPolicy.
func (p ThresholdPolicy) ShouldSpill(elements int, bytes int64) bool {
	if p.MaxElements > 0 && elements >= p.MaxElements {
		return true
	}
	return p.MaxBytes > 0 && bytes >= p.MaxBytes
}

// NeverSpill keeps everything in memory unless SpillNow is called.
type NeverSpill struct{}

// ShouldSpill implements SpillPolicy.
func (NeverSpill) ShouldSpill(int, int64) bool { return false }

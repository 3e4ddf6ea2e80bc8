package bucket

import (
	"os"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"

	"github.com/paveg/tuplejoin/internal/tuple"
)

const (
	// DefaultSpillThreshold is the number of in-memory elements that triggers
	// a spill.
	DefaultSpillThreshold = 500_000
	// DefaultMinFreeDisk is the free space the spill directory must keep.
	DefaultMinFreeDisk uint64 = 300 << 20
	// DefaultMergeBatchSize is the number of rows pulled per merge source.
	DefaultMergeBatchSize = 100
)

// Comparator orders tuples for sorted iteration.
type Comparator func(a, b *tuple.Tuple) (int, error)

// DiskFreeFunc reports the free bytes available in a directory.
type DiskFreeFunc func(dir string) (uint64, error)

type options struct {
	dir         string
	policy      SpillPolicy
	comparator  Comparator
	compression Compression
	minFreeDisk uint64
	batchSize   int
	logger      logrus.FieldLogger
	diskFree    DiskFreeFunc
}

func defaultOptions() options {
	return options{
		dir:         os.TempDir(),
		policy:      ThresholdPolicy{MaxElements: DefaultSpillThreshold},
		compression: CompressionSnappy,
		minFreeDisk: DefaultMinFreeDisk,
		batchSize:   DefaultMergeBatchSize,
		logger:      logrus.StandardLogger(),
		diskFree:    gopsutilDiskFree,
	}
}

// Option configures a List.
type Option func(*options)

// WithDir sets the spill directory.
func WithDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dir = dir
		}
	}
}

// WithPolicy sets the spill policy.
func WithPolicy(p SpillPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithThreshold spills once the list holds n elements in memory.
func WithThreshold(n int) Option {
	return WithPolicy(ThresholdPolicy{MaxElements: n})
}

// WithComparator makes iteration ordered by cmp.
func WithComparator(cmp Comparator) Option {
	return func(o *options) {
		o.comparator = cmp
	}
}

// WithCompression sets the segment compression codec.
func WithCompression(c Compression) Option {
	return func(o *options) {
		if c != "" {
			o.compression = c
		}
	}
}

// WithMinFreeDisk sets the free disk floor checked before every spill.
func WithMinFreeDisk(n uint64) Option {
	return func(o *options) {
		o.minFreeDisk = n
	}
}

// WithMergeBatchSize sets how many rows are pulled from a source at a time
// during a sorted merge.
func WithMergeBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLogger sets the logger used for spill events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDiskFree replaces the free-space check.
func WithDiskFree(f DiskFreeFunc) Option {
	return func(o *options) {
		if f != nil {
			o.diskFree = f
		}
	}
}

func gopsutilDiskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

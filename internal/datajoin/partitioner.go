package datajoin

import "github.com/paveg/tuplejoin/internal/tuple"

// Partitioner routes keys to reduce partitions. Only the user key is hashed,
// so every dataset's records for a key land in the same partition.
type Partitioner struct{}

// Partition returns a partition in [0, n).
func (Partitioner) Partition(key Key, n int) int {
	if n <= 1 {
		return 0
	}
	return int(tuple.HashValue(key.Payload) % uint64(n))
}

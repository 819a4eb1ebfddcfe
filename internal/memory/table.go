package memory

import (
	"fmt"

	"github.com/inference-core/coord-core/internal/corerr"
)

// Table is the storage backend behind a hashed memory slot table:
// O(1) get/set of a fixed-width embedding per integer address.
type Table interface {
	// Get returns a copy of the embedding at address, or ok=false if
	// the slot has never been written.
	Get(address uint64) (embedding []float32, ok bool, err error)
	// Set writes embedding to address, marking the slot occupied.
	Set(address uint64, embedding []float32) error
	// UsageStats reports slot occupancy and backend identity.
	UsageStats() UsageStats
	// Close releases any backing resources (file handles, mappings).
	Close() error
}

// UsageStats is the snapshot returned by Table.UsageStats, matching
// spec.md §4.A's UsageStats() operation.
type UsageStats struct {
	TotalSlots     uint64
	OccupiedSlots  uint64
	UsageRate      float64
	Backend        string
	SampleStride   uint64  // 1 for exact counts (RAM); >1 for sampled estimates (disk)
	CacheHitRate   float64 // disk backend only
	CacheSize      int     // disk backend only
	BloomFPRateEst float64 // estimated bloom-filter false-positive rate
}

func checkBounds(address uint64, size uint64) error {
	if address >= size {
		return fmt.Errorf("address %d out of range [0, %d): %w", address, size, corerr.ErrOutOfRange)
	}
	return nil
}

func checkDim(embedding []float32, dim int) error {
	if len(embedding) != dim {
		return fmt.Errorf("embedding has %d components, want %d: %w", len(embedding), dim, corerr.ErrDimensionMismatch)
	}
	return nil
}

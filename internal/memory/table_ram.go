package memory

import (
	"sync"
)

// RAMTable is the in-memory two-array form from spec.md §3: a flat
// embedding array plus an occupied-bit array, both sized to
// memorySize. Suited to smaller tables (spec.md: "<1 亿条" in the
// original, i.e. memory_size under a hundred million slots).
//
// Concurrency: a single RWMutex guards both arrays. Reads of a given
// slot never observe a torn vector because the write to vectors[addr]
// happens fully before occupied[addr] is set, and both are performed
// while holding the write lock — readers holding the read lock either
// see the slot before or after the whole write, never mid-write.
type RAMTable struct {
	mu       sync.RWMutex
	vectors  [][]float32
	occupied []bool
	dim      int
}

// NewRAMTable allocates a RAM-backed table of size slots, each holding
// a dim-component float32 embedding.
func NewRAMTable(size uint64, dim int) *RAMTable {
	return &RAMTable{
		vectors:  make([][]float32, size),
		occupied: make([]bool, size),
		dim:      dim,
	}
}

func (t *RAMTable) Get(address uint64) ([]float32, bool, error) {
	if err := checkBounds(address, uint64(len(t.occupied))); err != nil {
		return nil, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.occupied[address] {
		return nil, false, nil
	}
	out := make([]float32, t.dim)
	copy(out, t.vectors[address])
	return out, true, nil
}

func (t *RAMTable) Set(address uint64, embedding []float32) error {
	if err := checkBounds(address, uint64(len(t.occupied))); err != nil {
		return err
	}
	if err := checkDim(embedding, t.dim); err != nil {
		return err
	}
	stored := make([]float32, t.dim)
	copy(stored, embedding)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.vectors[address] = stored
	t.occupied[address] = true
	return nil
}

func (t *RAMTable) UsageStats() UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var occ uint64
	for _, o := range t.occupied {
		if o {
			occ++
		}
	}
	total := uint64(len(t.occupied))
	rate := 0.0
	if total > 0 {
		rate = float64(occ) / float64(total)
	}
	return UsageStats{
		TotalSlots:    total,
		OccupiedSlots: occ,
		UsageRate:     rate,
		Backend:       "ram",
		SampleStride:  1,
	}
}

func (t *RAMTable) Close() error { return nil }

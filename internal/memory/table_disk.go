package memory

import (
	"container/list"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sys/unix"
)

// DiskTable is the mmap-backed form from spec.md §6: a binary file of
// exactly size*(1+4*dim) bytes, one record per slot
// (1 occupancy byte + dim little-endian float32 components, no
// header), memory-mapped read-write. An in-memory LRU caches recently
// read slots to absorb repeat queries without touching the mapping.
//
// Grounded on kernel/threads/sab/hal_native.go's SharedMemoryProvider,
// which opens/creates/truncates a file and maps it with the raw mmap
// syscall; here golang.org/x/sys/unix.Mmap is used in its place for
// portability across the syscall/unix split.
type DiskTable struct {
	mu       sync.Mutex
	file     *os.File
	data     []byte
	size     uint64
	dim      int
	recSize  uint64

	cache     map[uint64]*list.Element
	cacheList *list.List
	cacheCap  int
	hits      uint64
	misses    uint64

	// presence is a probabilistic pre-filter: a negative test proves
	// the slot has never been written, letting Get skip the mmap touch
	// entirely on a cold miss. Seeded by scanning existing occupancy
	// bytes on open so a reopened table doesn't report previously
	// written slots as absent.
	presence      *bloom.BloomFilter
	presenceCount uint
}

type cacheEntry struct {
	address uint64
	vector  []float32
}

// NewDiskTable opens (creating and zeroing if absent or empty) a
// memory-mapped slot table at path sized for size slots of dim
// components each, with an LRU of cacheSize recently-read slots.
func NewDiskTable(path string, size uint64, dim int, cacheSize int) (*DiskTable, error) {
	recSize := uint64(1 + 4*dim)
	fileSize := int64(size * recSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open disk memory table %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat disk memory table %q: %w", path, err)
	}
	if info.Size() == 0 {
		if err := f.Truncate(fileSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate disk memory table %q: %w", path, err)
		}
	} else if info.Size() != fileSize {
		f.Close()
		return nil, fmt.Errorf("disk memory table %q has size %d, want %d", path, info.Size(), fileSize)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap disk memory table %q: %w", path, err)
	}

	if cacheSize <= 0 {
		cacheSize = 1
	}

	presence := bloom.NewWithEstimates(uint(size)+1, 0.01)
	var presenceCount uint
	for addr := uint64(0); addr < size; addr++ {
		if data[addr*recSize] != 0 {
			presence.Add(addressKey(addr))
			presenceCount++
		}
	}

	return &DiskTable{
		file:          f,
		data:          data,
		size:          size,
		dim:           dim,
		recSize:       recSize,
		cache:         make(map[uint64]*list.Element, cacheSize),
		cacheList:     list.New(),
		cacheCap:      cacheSize,
		presence:      presence,
		presenceCount: presenceCount,
	}, nil
}

func addressKey(address uint64) []byte {
	return []byte(strconv.FormatUint(address, 36))
}

func (t *DiskTable) Get(address uint64) ([]float32, bool, error) {
	if err := checkBounds(address, t.size); err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.cache[address]; ok {
		t.hits++
		t.cacheList.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		out := make([]float32, t.dim)
		copy(out, entry.vector)
		return out, true, nil
	}
	t.misses++

	if !t.presence.Test(addressKey(address)) {
		return nil, false, nil
	}

	offset := address * t.recSize
	occupied := t.data[offset] != 0
	if !occupied {
		return nil, false, nil
	}

	vec := decodeEmbedding(t.data[offset+1:offset+t.recSize], t.dim)
	t.promote(address, vec)

	out := make([]float32, t.dim)
	copy(out, vec)
	return out, true, nil
}

func (t *DiskTable) Set(address uint64, embedding []float32) error {
	if err := checkBounds(address, t.size); err != nil {
		return err
	}
	if err := checkDim(embedding, t.dim); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	offset := address * t.recSize
	// Write the embedding before flipping the occupancy byte: a
	// concurrent reader under the same mutex can never observe a
	// flipped-occupied slot with a stale or partially written vector.
	wasOccupied := t.data[offset] != 0
	encodeEmbedding(t.data[offset+1:offset+t.recSize], embedding)
	t.data[offset] = 1

	if !wasOccupied {
		t.presence.Add(addressKey(address))
		t.presenceCount++
	}

	t.promote(address, embedding)
	return nil
}

func (t *DiskTable) promote(address uint64, vector []float32) {
	stored := make([]float32, t.dim)
	copy(stored, vector)

	if el, ok := t.cache[address]; ok {
		el.Value.(*cacheEntry).vector = stored
		t.cacheList.MoveToFront(el)
		return
	}

	if t.cacheList.Len() >= t.cacheCap {
		oldest := t.cacheList.Back()
		if oldest != nil {
			t.cacheList.Remove(oldest)
			delete(t.cache, oldest.Value.(*cacheEntry).address)
		}
	}

	el := t.cacheList.PushFront(&cacheEntry{address: address, vector: stored})
	t.cache[address] = el
}

// UsageStats estimates occupancy by fixed-stride sampling rather than
// a full scan, documenting the stride used (spec.md §9 Open Question).
func (t *DiskTable) UsageStats() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	const sampleTarget = 10_000
	stride := t.size / sampleTarget
	if stride == 0 {
		stride = 1
	}

	var sampledOccupied uint64
	var samples uint64
	for addr := uint64(0); addr < t.size; addr += stride {
		offset := addr * t.recSize
		if t.data[offset] != 0 {
			sampledOccupied++
		}
		samples++
	}

	estimated := uint64(0)
	if samples > 0 {
		estimated = sampledOccupied * t.size / samples
	}

	rate := 0.0
	if t.size > 0 {
		rate = float64(estimated) / float64(t.size)
	}

	total := t.hits + t.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(t.hits) / float64(total)
	}

	return UsageStats{
		TotalSlots:     t.size,
		OccupiedSlots:  estimated,
		UsageRate:      rate,
		Backend:        "disk",
		SampleStride:   stride,
		CacheHitRate:   hitRate,
		CacheSize:      len(t.cache),
		BloomFPRateEst: bloom.EstimateFalsePositiveRate(t.presence.Cap(), t.presence.K(), t.presenceCount),
	}
}

func (t *DiskTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.data != nil {
		if err := unix.Munmap(t.data); err != nil {
			errs = append(errs, err)
		}
		t.data = nil
	}
	if err := t.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing disk memory table: %v", errs)
	}
	return nil
}

func encodeEmbedding(dst []byte, embedding []float32) {
	for i, v := range embedding {
		bits := math.Float32bits(v)
		o := i * 4
		dst[o] = byte(bits)
		dst[o+1] = byte(bits >> 8)
		dst[o+2] = byte(bits >> 16)
		dst[o+3] = byte(bits >> 24)
	}
}

func decodeEmbedding(src []byte, dim int) []float32 {
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		o := i * 4
		bits := uint32(src[o]) | uint32(src[o+1])<<8 | uint32(src[o+2])<<16 | uint32(src[o+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

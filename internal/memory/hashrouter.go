package memory

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/inference-core/coord-core/internal/corerr"
)

// HashRouter computes deterministic, uniformly-distributed slot
// addresses for n-gram strings over a fixed-size table.
//
// Grounded on the original DeterministicHashRouter: SHA-256 over the
// UTF-8 bytes of the n-gram, first 8 bytes read big-endian, modulo
// memorySize.
type HashRouter struct {
	memorySize uint64
}

// NewHashRouter constructs a router over a table of the given size.
func NewHashRouter(memorySize uint64) (*HashRouter, error) {
	if memorySize == 0 {
		return nil, fmt.Errorf("memory size must be > 0: %w", corerr.ErrInvalidInput)
	}
	return &HashRouter{memorySize: memorySize}, nil
}

// Hash maps an n-gram to a slot address in [0, memorySize).
func (r *HashRouter) Hash(ngram string) (uint64, error) {
	if ngram == "" {
		return 0, fmt.Errorf("ngram must not be empty: %w", corerr.ErrInvalidInput)
	}
	sum := sha256.Sum256([]byte(ngram))
	h := binary.BigEndian.Uint64(sum[:8])
	return h % r.memorySize, nil
}

// HashBatch hashes every ngram in order, short-circuiting on the first
// invalid (empty) entry.
func (r *HashRouter) HashBatch(ngrams []string) ([]uint64, error) {
	addrs := make([]uint64, 0, len(ngrams))
	for _, ng := range ngrams {
		addr, err := r.Hash(ng)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// DistributionReport summarizes how uniformly a sample of n-grams
// spreads across the address space, bucketed into 100 equal-width
// buckets. Supplemented from original_source's verify_distribution.
type DistributionReport struct {
	SampleSize       int
	UniqueAddresses  int
	CollisionRate    float64
	Uniformity       float64
	AvgPerBucket     float64
	StdDev           float64
}

// VerifyDistribution hashes sampleNgrams and reports bucket-level
// uniformity statistics. Useful for operators sizing memorySize; not
// required by any scheduler or memory-store invariant.
func (r *HashRouter) VerifyDistribution(sampleNgrams []string) (DistributionReport, error) {
	if len(sampleNgrams) == 0 {
		return DistributionReport{}, fmt.Errorf("sample must not be empty: %w", corerr.ErrInvalidInput)
	}

	addrs, err := r.HashBatch(sampleNgrams)
	if err != nil {
		return DistributionReport{}, err
	}

	const numBuckets = 100
	bucketSize := r.memorySize / numBuckets
	if bucketSize == 0 {
		bucketSize = 1
	}

	var buckets [numBuckets]int
	seen := make(map[uint64]struct{}, len(addrs))
	for _, a := range addrs {
		seen[a] = struct{}{}
		idx := a / bucketSize
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		buckets[idx]++
	}

	avg := float64(len(addrs)) / numBuckets
	var variance float64
	for _, c := range buckets {
		d := float64(c) - avg
		variance += d * d
	}
	variance /= numBuckets
	stdDev := math.Sqrt(variance)

	uniformity := 0.0
	if avg > 0 {
		uniformity = 1.0 - stdDev/avg
	}

	return DistributionReport{
		SampleSize:      len(addrs),
		UniqueAddresses: len(seen),
		CollisionRate:   1.0 - float64(len(seen))/float64(len(addrs)),
		Uniformity:      uniformity,
		AvgPerBucket:    avg,
		StdDev:          stdDev,
	}, nil
}


// Package memory implements the hashed memory store from spec.md §3:
// content-addressable embedding storage over a fixed-size slot table,
// reached through n-gram hashing rather than an index structure.
package memory

import (
	"fmt"
	"strings"

	"github.com/inference-core/coord-core/internal/corerr"
)

// Config selects and sizes a Store's backend.
type Config struct {
	MemorySize  uint64
	Dim         int
	NgramSize   int
	ContextSize int // not consulted: extraction and the query-cache key always use the last three context strings

	Backend      string // "ram" or "disk"
	DiskPath     string // required when Backend == "disk"
	DiskCacheLen int    // disk slot-read LRU size

	QueryCacheLen int
}

// DefaultConfig returns the RAM-backed defaults used throughout the
// test suite and the demo entrypoint.
func DefaultConfig() Config {
	return Config{
		MemorySize:    1 << 20,
		Dim:           256,
		NgramSize:     3,
		ContextSize:   3,
		Backend:       "ram",
		DiskCacheLen:  4096,
		QueryCacheLen: 4096,
	}
}

// Store is the hashed memory store: n-gram extraction feeding a
// HashRouter feeding a Table, with a QueryCache absorbing repeat
// lookups.
type Store struct {
	cfg    Config
	router *HashRouter
	table  Table
	cache  *QueryCache
}

// NewStore builds a Store from cfg, opening the configured backend.
func NewStore(cfg Config) (*Store, error) {
	if cfg.NgramSize <= 0 {
		return nil, fmt.Errorf("ngram size must be > 0: %w", corerr.ErrInvalidInput)
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dim must be > 0: %w", corerr.ErrInvalidInput)
	}

	router, err := NewHashRouter(cfg.MemorySize)
	if err != nil {
		return nil, err
	}

	var table Table
	switch cfg.Backend {
	case "", "ram":
		table = NewRAMTable(cfg.MemorySize, cfg.Dim)
	case "disk":
		if cfg.DiskPath == "" {
			return nil, fmt.Errorf("disk backend requires DiskPath: %w", corerr.ErrInvalidInput)
		}
		table, err = NewDiskTable(cfg.DiskPath, cfg.MemorySize, cfg.Dim, cfg.DiskCacheLen)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown memory backend %q: %w", cfg.Backend, corerr.ErrInvalidInput)
	}

	return &Store{
		cfg:    cfg,
		router: router,
		table:  table,
		cache:  NewQueryCache(cfg.QueryCacheLen),
	}, nil
}

// ExtractNgrams tokenizes text on whitespace, prepends the last three
// context strings' tokens, and emits contiguous
// windows of ngramSize tokens. Fewer tokens than ngramSize yields the
// single space-joined string as the only "ngram".
func ExtractNgrams(text string, context []string, ngramSize int) []string {
	recent := context
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var tokens []string
	for _, c := range recent {
		tokens = append(tokens, splitNonEmpty(c)...)
	}
	tokens = append(tokens, splitNonEmpty(text)...)

	if len(tokens) < ngramSize {
		if len(tokens) == 0 {
			return nil
		}
		return []string{strings.Join(tokens, " ")}
	}

	ngrams := make([]string, 0, len(tokens)-ngramSize+1)
	for i := 0; i+ngramSize <= len(tokens); i++ {
		ngrams = append(ngrams, strings.Join(tokens[i:i+ngramSize], " "))
	}
	return ngrams
}

func splitNonEmpty(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Store writes embedding into the slot addressed by every n-gram
// extracted from (text, context). Later writes to a shared address
// overwrite earlier ones.
func (s *Store) Store(text string, context []string, embedding []float32) error {
	if err := checkDim(embedding, s.cfg.Dim); err != nil {
		return err
	}
	ngrams := ExtractNgrams(text, context, s.cfg.NgramSize)
	if len(ngrams) == 0 {
		return fmt.Errorf("no ngrams extracted from empty input: %w", corerr.ErrInvalidInput)
	}
	addrs, err := s.router.HashBatch(ngrams)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := s.table.Set(addr, embedding); err != nil {
			return err
		}
	}
	return nil
}

// Query extracts n-grams from (text, context), looks up each address,
// and returns the component-wise mean of every slot that was
// occupied. found is false if no n-gram address was occupied.
func (s *Store) Query(text string, context []string) (vector []float32, found bool, err error) {
	key := CacheKey(text, context)
	if cached, ok := s.cache.Get(key); ok {
		return cached, true, nil
	}

	ngrams := ExtractNgrams(text, context, s.cfg.NgramSize)
	if len(ngrams) == 0 {
		return nil, false, fmt.Errorf("no ngrams extracted from empty input: %w", corerr.ErrInvalidInput)
	}
	addrs, err := s.router.HashBatch(ngrams)
	if err != nil {
		return nil, false, err
	}

	sum := make([]float32, s.cfg.Dim)
	var hits int
	for _, addr := range addrs {
		v, ok, err := s.table.Get(addr)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		for i, c := range v {
			sum[i] += c
		}
		hits++
	}
	if hits == 0 {
		return nil, false, nil
	}
	for i := range sum {
		sum[i] /= float32(hits)
	}

	s.cache.Put(key, sum)
	out := make([]float32, len(sum))
	copy(out, sum)
	return out, true, nil
}

// Stats aggregates table occupancy, query cache size, and query cache
// hit rate into one operator-facing snapshot.
type Stats struct {
	Table         UsageStats
	QueryCacheLen int
	QueryHitRate  float64
}

// Stats returns the current aggregate snapshot.
func (s *Store) Stats() Stats {
	return Stats{
		Table:         s.table.UsageStats(),
		QueryCacheLen: s.cache.Len(),
		QueryHitRate:  s.cache.HitRate(),
	}
}

// VerifyDistribution delegates to the underlying HashRouter, letting
// operators sanity-check address spread for a representative n-gram
// sample.
func (s *Store) VerifyDistribution(sampleNgrams []string) (DistributionReport, error) {
	return s.router.VerifyDistribution(sampleNgrams)
}

// Close releases the backing Table's resources.
func (s *Store) Close() error {
	return s.table.Close()
}

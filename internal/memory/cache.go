package memory

import (
	"container/list"
	"strings"
	"sync"
)

// QueryCache is a bounded LRU cache of recent Query results, keyed on
// the exact (text, context) pair a caller queried with. It sits in
// front of Store.Query so repeated lookups for the same prompt
// skip n-gram extraction, hashing, and the full fan-out of table
// reads.
type QueryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List

	hits   uint64
	misses uint64
}

type queryCacheEntry struct {
	key    string
	vector []float32
}

// NewQueryCache builds a cache holding up to capacity entries.
func NewQueryCache(capacity int) *QueryCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &QueryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// CacheKey composes the lookup key from query text and its preceding
// context strings, matching the context window Store.Query uses for
// n-gram extraction: only the last three context strings are included.
func CacheKey(text string, context []string) string {
	recent := context
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	var b strings.Builder
	b.WriteString(text)
	for _, c := range recent {
		b.WriteByte('|')
		b.WriteString(c)
	}
	return b.String()
}

// Get returns a copy of the cached vector for key, if present.
func (c *QueryCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	entry := el.Value.(*queryCacheEntry)
	out := make([]float32, len(entry.vector))
	copy(out, entry.vector)
	return out, true
}

// Put stores vector under key, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *QueryCache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]float32, len(vector))
	copy(stored, vector)

	if el, ok := c.items[key]; ok {
		el.Value.(*queryCacheEntry).vector = stored
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*queryCacheEntry).key)
		}
	}

	el := c.order.PushFront(&queryCacheEntry{key: key, vector: stored})
	c.items[key] = el
}

// HitRate returns the fraction of Get calls that found a cached entry.
func (c *QueryCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Len returns the number of entries currently cached.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

package optimizer

import (
	"container/list"
	"sync"
	"time"

	"github.com/soundprediction/retrievo/pkg/types"
)

// Eviction policies accepted by cache.strategy.
const (
	PolicyLRU    = "lru"
	PolicyLFU    = "lfu"
	PolicyTTL    = "ttl"
	PolicyHybrid = "hybrid"
)

type cacheEntry struct {
	key          string
	value        *types.QueryResponse
	insertedAt   time.Time
	lastAccessed time.Time
	accessCount  int64
	sizeBytes    int64
	elem         *list.Element
}

// Cache is a byte-bounded response cache whose eviction order follows the
// configured policy. Total bytes never exceed maxSize after a completed
// insert; an entry larger than maxSize is refused rather than evicting the
// whole cache for it.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	order    *list.List // front = most recently accessed
	curBytes int64

	policy  string
	maxSize int64
	ttl     time.Duration

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

func NewCache(policy string, maxSize int64, ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		policy:  policy,
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Configure replaces the policy, size ceiling and TTL, shrinking the cache
// immediately if the new ceiling is below current usage.
func (c *Cache) Configure(policy string, maxSize int64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
	c.maxSize = maxSize
	c.ttl = ttl
	for c.curBytes > c.maxSize && len(c.entries) > 0 {
		c.evictOne()
	}
}

// Get returns the live entry for key, or false on a miss. Expired entries
// count as misses and are removed on the spot.
func (c *Cache) Get(key string) (*types.QueryResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(e) {
		c.remove(e)
		c.misses++
		return nil, false
	}
	e.lastAccessed = c.now()
	e.accessCount++
	c.order.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Put stores value under key, evicting per policy until the byte ceiling
// holds. Oversized values are dropped silently: the caller already has the
// live result, a refused insert only costs a future miss.
func (c *Cache) Put(key string, value *types.QueryResponse) {
	size := responseSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxSize {
		return
	}
	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}

	now := c.now()
	e := &cacheEntry{
		key:          key,
		value:        value,
		insertedAt:   now,
		lastAccessed: now,
		accessCount:  1,
		sizeBytes:    size,
	}
	for c.curBytes+size > c.maxSize && len(c.entries) > 0 {
		c.evictOne()
	}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e
	c.curBytes += size
}

// Invalidate drops the entry for key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
	c.curBytes = 0
}

// Len reports the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes reports the accounted size of all live entries.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	HitRate   float64 `json:"hit_rate"`
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
		Bytes:     c.curBytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache) expired(e *cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.insertedAt) >= c.ttl
}

// evictOne removes the policy's victim. Callers hold c.mu.
func (c *Cache) evictOne() {
	var victim *cacheEntry
	switch c.policy {
	case PolicyLFU:
		victim = c.lfuVictim()
	case PolicyTTL:
		victim = c.ttlVictim()
	case PolicyHybrid:
		victim = c.hybridVictim()
	default: // lru
		if back := c.order.Back(); back != nil {
			victim = back.Value.(*cacheEntry)
		}
	}
	if victim != nil {
		c.remove(victim)
		c.evictions++
	}
}

// lfuVictim picks the least-accessed entry, oldest first on ties.
func (c *Cache) lfuVictim() *cacheEntry {
	var victim *cacheEntry
	for _, e := range c.entries {
		if victim == nil ||
			e.accessCount < victim.accessCount ||
			(e.accessCount == victim.accessCount && e.insertedAt.Before(victim.insertedAt)) {
			victim = e
		}
	}
	return victim
}

// ttlVictim prefers an already-expired entry, else the closest to expiry.
func (c *Cache) ttlVictim() *cacheEntry {
	var victim *cacheEntry
	for _, e := range c.entries {
		if c.expired(e) {
			return e
		}
		if victim == nil || e.insertedAt.Before(victim.insertedAt) {
			victim = e
		}
	}
	return victim
}

// hybridVictim balances recency and frequency: lowest access count wins,
// with last access breaking ties. Keeps hot-but-old entries that pure LRU
// would drop while still aging out one-shot queries.
func (c *Cache) hybridVictim() *cacheEntry {
	var victim *cacheEntry
	for _, e := range c.entries {
		if c.expired(e) {
			return e
		}
		if victim == nil ||
			e.accessCount < victim.accessCount ||
			(e.accessCount == victim.accessCount && e.lastAccessed.Before(victim.lastAccessed)) {
			victim = e
		}
	}
	return victim
}

func (c *Cache) remove(e *cacheEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
	c.curBytes -= e.sizeBytes
}

// responseSize approximates the in-memory footprint of a cached response.
// Exact accounting is not worth the bookkeeping; string payloads dominate.
func responseSize(r *types.QueryResponse) int64 {
	const entryOverhead = 96
	const recordOverhead = 48
	size := int64(entryOverhead)
	for i := range r.Results {
		size += recordOverhead
		size += int64(len(r.Results[i].ID))
		size += int64(len(r.Results[i].SourceEngine))
		size += int64(len(r.Results[i].Snippet))
	}
	return size
}

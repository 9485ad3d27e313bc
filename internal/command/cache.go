package command

import (
	"container/list"
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 256
)

// Cache maps command names to their resolved candidate lists.
//
// Every entry carries a refresh timestamp and is discarded once older than
// the TTL. The cache as a whole also tracks the time of its last wholesale
// clear: once that exceeds the TTL the next lookup clears everything, so
// entries never outlive the TTL even when never touched again. Distinct
// keys beyond the capacity are evicted in LRU order.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	capacity  int
	entries   map[string]*list.Element
	lru       *list.List // front = most recently used
	lastClear time.Time

	now func() time.Time
}

type cacheEntry struct {
	key        string
	candidates []Candidate
	refreshed  time.Time
}

// NewCache creates a candidate cache. Non-positive ttl or capacity fall
// back to the defaults.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c := &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
	c.lastClear = c.now()
	return c
}

// Get returns the cached candidates for a command name. A hit counts as an
// LRU touch. Stale entries are removed and reported as a miss.
func (c *Cache) Get(name string) ([]Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.clearIfExpiredLocked(now)

	el, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if now.Sub(entry.refreshed) > c.ttl {
		c.removeLocked(el)
		return nil, false
	}

	c.lru.MoveToFront(el)
	return entry.candidates, true
}

// Put stores the candidate list for a command name and evicts least
// recently used keys past capacity.
func (c *Cache) Put(name string, candidates []Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[name]; ok {
		entry := el.Value.(*cacheEntry)
		entry.candidates = candidates
		entry.refreshed = now
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&cacheEntry{key: name, candidates: candidates, refreshed: now})
	c.entries[name] = el
	c.trimLocked()
}

// Clear drops every entry and resets the wholesale-clear clock.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(c.now())
}

// ClearIfExpired drops every entry when the cache TTL has elapsed since the
// last wholesale clear. Returns true when a clear happened.
func (c *Cache) ClearIfExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearIfExpiredLocked(c.now())
}

// Trim evicts least recently used entries until the cache is within
// capacity.
func (c *Cache) Trim() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked()
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) clearIfExpiredLocked(now time.Time) bool {
	if now.Sub(c.lastClear) <= c.ttl {
		return false
	}
	c.clearLocked(now)
	return true
}

func (c *Cache) clearLocked(now time.Time) {
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.lastClear = now
}

func (c *Cache) trimLocked() {
	for len(c.entries) > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, entry.key)
}

package exchange

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/metrics"
)

// DefaultCapacity bounds the in-memory cache when no capacity is configured
const DefaultCapacity = 1000

// Key identifies an exchanged token. Both fields compare by exact string
// equality; no trimming or normalization is applied.
type Key struct {
	SubjectToken string
	Audience     string
}

// Cache stores exchanged tokens for a bounded time.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the token for key if present and not expired
	Get(ctx context.Context, key Key) (*oauth2.Token, bool)
	// Put stores token for ttl; a non-positive ttl stores nothing
	Put(ctx context.Context, key Key, token *oauth2.Token, ttl time.Duration)
	// Evict removes key if present
	Evict(ctx context.Context, key Key)
	// Len returns the number of stored entries
	Len() int
}

type cacheEntry struct {
	key        Key
	token      *oauth2.Token
	insertedAt time.Time
	expiresAt  time.Time
}

// MemoryCache is a bounded LRU with per-entry expiry. Expired entries are
// dropped lazily on Get and ahead of LRU eviction on Put.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[Key]*list.Element
	lru      *list.List
	now      func() time.Time
}

// NewMemoryCache creates an in-memory cache holding at most capacity entries
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[Key]*list.Element, capacity),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get implements Cache
func (c *MemoryCache) Get(_ context.Context, key Key) (*oauth2.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(el, "expired")
		return nil, false
	}
	c.lru.MoveToFront(el)
	return entry.token, true
}

// Put implements Cache. The latest write for a key wins.
func (c *MemoryCache) Put(_ context.Context, key Key, token *oauth2.Token, ttl time.Duration) {
	if token == nil || ttl <= 0 {
		return
	}

	now := c.now()
	entry := &cacheEntry{
		key:        key,
		token:      token,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value = entry
		c.lru.MoveToFront(el)
		return
	}

	if c.lru.Len() >= c.capacity {
		c.purgeExpired(now)
	}
	for c.lru.Len() >= c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.removeElement(back, "capacity")
	}

	c.items[key] = c.lru.PushFront(entry)
	metrics.ExchangeCacheEntries.Set(float64(c.lru.Len()))
}

// Evict implements Cache
func (c *MemoryCache) Evict(_ context.Context, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el, "invalidated")
	}
}

// Len implements Cache. Expired entries not yet purged are counted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// purgeExpired drops every expired entry. Caller holds mu.
func (c *MemoryCache) purgeExpired(now time.Time) {
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*cacheEntry).expiresAt) {
			c.removeElement(el, "expired")
		}
		el = prev
	}
}

// removeElement unlinks el. Caller holds mu.
func (c *MemoryCache) removeElement(el *list.Element, reason string) {
	entry := el.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.lru.Remove(el)
	metrics.ExchangeCacheEvictions.WithLabelValues(reason).Inc()
	metrics.ExchangeCacheEntries.Set(float64(c.lru.Len()))
}

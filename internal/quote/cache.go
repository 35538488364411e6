package quote

import (
	"sync"
	"time"
)

const (
	defaultPriceTTL   = 30 * time.Second
	defaultInfoTTL    = 5 * time.Minute
	defaultHistoryTTL = 10 * time.Minute
)

// CacheConfig tunes the cache tiers.
type CacheConfig struct {
	PriceTTL   time.Duration `mapstructure:"price_ttl"`
	InfoTTL    time.Duration `mapstructure:"info_ttl"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
	// MaxEntries caps each tier; 0 means unbounded. The key space is bounded
	// by actively tracked symbols, so the cap is a hardening measure only.
	MaxEntries int `mapstructure:"max_entries"`
}

func (c *CacheConfig) applyDefaults() {
	if c.PriceTTL <= 0 {
		c.PriceTTL = defaultPriceTTL
	}
	if c.InfoTTL <= 0 {
		c.InfoTTL = defaultInfoTTL
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = defaultHistoryTTL
	}
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// tierCache is one TTL-bounded key/value store. Entries expire lazily at read
// time; put unconditionally overwrites. An entry is only ever visible fully
// formed because mutation happens under the write lock.
type tierCache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	entries map[string]cacheEntry[V]
}

func newTierCache[V any](ttl time.Duration, maxSize int) *tierCache[V] {
	return &tierCache[V]{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry[V]),
	}
}

func (c *tierCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if time.Since(entry.storedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check: a fresher put may have landed since the read lock dropped.
		if cur, still := c.entries[key]; still && cur.storedAt.Equal(entry.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return entry.value, true
}

func (c *tierCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = cacheEntry[V]{value: value, storedAt: time.Now()}
}

func (c *tierCache[V]) evictOldestLocked() {
	var oldestKey string
	oldestAt := time.Now()
	for k, e := range c.entries {
		if e.storedAt.Before(oldestAt) {
			oldestAt = e.storedAt
			oldestKey = k
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *tierCache[V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

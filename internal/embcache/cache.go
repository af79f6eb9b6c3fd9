// Package embcache caches embedding vectors in front of the model server so
// repeated or near-identical texts do not trigger a second embedding call.
//
// Keys are derived from normalized text (trimmed, lowercased, internal
// whitespace collapsed), so "Blue Tile" and "  blue   tile " share an entry.
// Eviction is least-frequently-used with a TTL on top; a background sweep
// drops expired entries that are never read again.
//
// Concurrency: one coarse mutex over the whole cache. Request volume is low
// (single tenant) and every operation is a map access plus at most one O(n)
// eviction scan over ≤capacity entries, so finer granularity buys nothing.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Defaults used when Config fields are zero.
const (
	DefaultCapacity      = 100
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

type entry struct {
	vector     []float32
	insertedAt time.Time
	hitCount   int
}

// Config for the cache.
type Config struct {
	Capacity      int
	TTL           time.Duration
	SweepInterval time.Duration
}

// Cache is a thread-safe LFU+TTL embedding cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	capacity int
	ttl      time.Duration
	sweep    time.Duration

	hits   int64
	misses int64

	logger *slog.Logger
	now    func() time.Time // overridable in tests
}

// New creates a cache. Zero config fields fall back to defaults.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Cache{
		entries:  make(map[string]*entry, cfg.Capacity),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		sweep:    cfg.SweepInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Normalize trims, lowercases and collapses internal whitespace so that
// near-identical texts map to the same cache key.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func keyFor(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, or (nil, false) on a miss.
// An entry past its TTL counts as a miss and is removed (lazy expiry).
func (c *Cache) Get(text string) ([]float32, bool) {
	key := keyFor(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	e.hitCount++
	c.hits++
	return e.vector, true
}

// Set stores the vector for text. At capacity the entry with the lowest
// hitCount is evicted first; ties break toward the oldest insertedAt.
func (c *Cache) Set(text string, vector []float32) {
	key := keyFor(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		// Refresh in place; hit count survives, TTL restarts.
		e.vector = vector
		e.insertedAt = c.now()
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictLocked()
	}

	c.entries[key] = &entry{
		vector:     vector,
		insertedAt: c.now(),
	}
}

// evictLocked removes the least-frequently-used entry. Caller holds c.mu.
func (c *Cache) evictLocked() {
	var victim string
	var victimEntry *entry
	for k, e := range c.entries {
		if victimEntry == nil ||
			e.hitCount < victimEntry.hitCount ||
			(e.hitCount == victimEntry.hitCount && e.insertedAt.Before(victimEntry.insertedAt)) {
			victim = k
			victimEntry = e
		}
	}
	if victimEntry != nil {
		delete(c.entries, victim)
		c.logger.Debug("evicted cache entry", "hits", victimEntry.hitCount)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run sweeps expired entries every SweepInterval until ctx is canceled.
// Callers run it in a goroutine they track.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.removeExpired(); n > 0 {
				c.logger.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}

// removeExpired drops every entry past its TTL and returns the count.
func (c *Cache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// TopEntry is one row of Stats.
type TopEntry struct {
	Key  string `json:"key"`
	Hits int    `json:"hits"`
}

// Stats is an observability snapshot. It has no influence on eviction.
type Stats struct {
	Size    int        `json:"size"`
	Hits    int64      `json:"hits"`
	Misses  int64      `json:"misses"`
	HitRate float64    `json:"hit_rate"`
	Top     []TopEntry `json:"top"`
}

// Stats returns size, approximate hit rate and the top entries by hits.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:   len(c.entries),
		Hits:   c.hits,
		Misses: c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}

	for k, e := range c.entries {
		s.Top = append(s.Top, TopEntry{Key: k[:8], Hits: e.hitCount})
	}
	sort.Slice(s.Top, func(i, j int) bool { return s.Top[i].Hits > s.Top[j].Hits })
	if len(s.Top) > 5 {
		s.Top = s.Top[:5]
	}
	return s
}

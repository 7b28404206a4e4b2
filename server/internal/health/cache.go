package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/infradash/infradash/pkg/types"
)

// DefaultTTL is how long a health record is served from cache.
const DefaultTTL = 30 * time.Second

// Cache is a thread-safe in-memory health record store keyed by descriptor id.
// A record is served only while now - FetchedAt < TTL.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*types.HealthRecord
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewCache creates a Cache with the given TTL. A non-positive TTL means DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		data: make(map[string]*types.HealthRecord),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Put stores or replaces the record for id. Callers must not modify rec afterwards.
func (c *Cache) Put(id string, rec *types.HealthRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = rec
}

// Get returns the record for id if one exists and is still fresh.
func (c *Cache) Get(id string) (*types.HealthRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.data[id]
	if !ok || !c.fresh(rec, c.now()) {
		return nil, false
	}
	return rec, true
}

// Clear removes every record and returns how many were held.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.data)
	c.data = make(map[string]*types.HealthRecord)
	return n
}

// Len returns the number of records held, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Evict removes records that are no longer fresh at now and returns how many.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, rec := range c.data {
		if !c.fresh(rec, now) {
			delete(c.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired records every TTL (minimum 1 second) until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Evict(c.now()); n > 0 {
				slog.Debug("health: evicted expired records", "count", n)
			}
		}
	}
}

func (c *Cache) fresh(rec *types.HealthRecord, now time.Time) bool {
	return now.Sub(rec.FetchedAt) < c.ttl
}

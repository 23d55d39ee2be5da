package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

// MemoryCache is an in-memory GeocodeCache. Entries are lost on restart.
type MemoryCache struct {
	entries map[string]core.GeocodeCacheEntry
	mu      sync.RWMutex
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time
	cleanup *cleanupTask
}

// NewMemoryCache creates a new in-memory cache. A ttl of zero keeps entries forever.
func NewMemoryCache(logger *zap.Logger, ttl, cleanupFreq time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]core.GeocodeCacheEntry),
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
	}
	c.cleanup = startCleanupTask(ttl, cleanupFreq, logger, c.Cleanup)
	return c
}

// Lookup returns the entry for the exact address or core.ErrCacheMiss
func (c *MemoryCache) Lookup(_ context.Context, address string) (*core.GeocodeCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[address]
	if !ok || expired(entry.CachedAt, c.ttl, c.now()) {
		return nil, core.ErrCacheMiss
	}
	return &entry, nil
}

// Store upserts an entry
func (c *MemoryCache) Store(_ context.Context, entry *core.GeocodeCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *entry
	stored.RawResponse = append([]byte(nil), entry.RawResponse...)
	if stored.CachedAt.IsZero() {
		stored.CachedAt = c.now().UTC()
	}
	c.entries[entry.QueryAddress] = stored
	return nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if expired(entry.CachedAt, c.ttl, now) {
			delete(c.entries, key)
			removed++
		}
	}

	c.logger.Debug("Cleaned up expired geocode entries", zap.Int("expired_count", removed))
	return nil
}

// Stop stops the background cleanup task
func (c *MemoryCache) Stop() {
	c.cleanup.Stop()
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/store"
	"go.uber.org/zap"
)

// SQLiteCache keeps geocode answers in the geocoding_cache table of the shared store
type SQLiteCache struct {
	db      *sqlx.DB
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time
	cleanup *cleanupTask
}

// NewSQLiteCache creates a cache on an open store. The store owns the
// connection, so Stop leaves it open.
func NewSQLiteCache(s *store.Store, logger *zap.Logger, ttl, cleanupFreq time.Duration) *SQLiteCache {
	c := &SQLiteCache{
		db:     s.DB(),
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
	c.cleanup = startCleanupTask(ttl, cleanupFreq, logger, c.Cleanup)
	return c
}

// Lookup returns the entry for the exact address or core.ErrCacheMiss
func (c *SQLiteCache) Lookup(ctx context.Context, address string) (*core.GeocodeCacheEntry, error) {
	var entry core.GeocodeCacheEntry
	err := c.db.GetContext(ctx, &entry, `
		SELECT query_address, latitude, longitude, raw_response, cached_at
		FROM geocoding_cache
		WHERE query_address = ?`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to query geocode cache: %w", err)
	}

	if expired(entry.CachedAt, c.ttl, c.now()) {
		return nil, core.ErrCacheMiss
	}
	return &entry, nil
}

// Store upserts an entry. Concurrent stores for one address replace each other.
func (c *SQLiteCache) Store(ctx context.Context, entry *core.GeocodeCacheEntry) error {
	cachedAt := entry.CachedAt
	if cachedAt.IsZero() {
		cachedAt = c.now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO geocoding_cache (query_address, latitude, longitude, raw_response, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.QueryAddress, entry.Latitude, entry.Longitude, entry.RawResponse, cachedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store geocode cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *SQLiteCache) Cleanup(ctx context.Context) error {
	if c.ttl <= 0 {
		return nil
	}

	result, err := c.db.ExecContext(ctx, `
		DELETE FROM geocoding_cache
		WHERE cached_at < ?`, c.now().Add(-c.ttl).UTC())
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		c.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		c.logger.Debug("Cleaned up expired geocode entries", zap.Int64("expired_count", rowsAffected))
	}
	return nil
}

// Stop stops the background cleanup task
func (c *SQLiteCache) Stop() {
	c.cleanup.Stop()
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

// MySQLCache keeps geocode answers in a MySQL table, for deployments that
// share one cache between several assistants
type MySQLCache struct {
	db      *sqlx.DB
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time
	cleanup *cleanupTask
}

// NewMySQLCache connects, creates the table if needed and starts cleanup
func NewMySQLCache(dsn string, logger *zap.Logger, ttl, cleanupFreq time.Duration) (*MySQLCache, error) {
	normalized, err := normalizeMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS geocoding_cache (
			query_address VARCHAR(512) PRIMARY KEY,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			raw_response MEDIUMBLOB,
			cached_at DATETIME(6) NOT NULL,
			INDEX idx_cached_at (cached_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	c := &MySQLCache{
		db:     db,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
	c.cleanup = startCleanupTask(ttl, cleanupFreq, logger, c.Cleanup)
	return c, nil
}

// normalizeMySQLDSN makes DATETIME columns scan into time.Time in UTC
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Lookup returns the entry for the exact address or core.ErrCacheMiss
func (c *MySQLCache) Lookup(ctx context.Context, address string) (*core.GeocodeCacheEntry, error) {
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

// Store upserts an entry
func (c *MySQLCache) Store(ctx context.Context, entry *core.GeocodeCacheEntry) error {
	cachedAt := entry.CachedAt
	if cachedAt.IsZero() {
		cachedAt = c.now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO geocoding_cache (query_address, latitude, longitude, raw_response, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			latitude = VALUES(latitude),
			longitude = VALUES(longitude),
			raw_response = VALUES(raw_response),
			cached_at = VALUES(cached_at)
	`, entry.QueryAddress, entry.Latitude, entry.Longitude, entry.RawResponse, cachedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store geocode cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *MySQLCache) Cleanup(ctx context.Context) error {
	if c.ttl <= 0 {
		return nil
	}

	result, err := c.db.ExecContext(ctx, `
		DELETE FROM geocoding_cache
		WHERE cached_at < ?
	`, c.now().Add(-c.ttl).UTC())
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

// Stop stops the background cleanup task and closes the database connection
func (c *MySQLCache) Stop() {
	c.cleanup.Stop()
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close MySQL database", zap.Error(err))
	}
}

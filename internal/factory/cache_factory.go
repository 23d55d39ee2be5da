package factory

import (
	"fmt"

	"github.com/mikey/workauth-assistant/internal/adapters/cache"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/store"
	"go.uber.org/zap"
)

// CacheFactory creates geocode caches based on configuration
type CacheFactory struct {
	cfg    *config.Config
	store  *store.Store
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory. The sqlite backend shares the
// application store.
func NewCacheFactory(cfg *config.Config, s *store.Store, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		store:  s,
		logger: logger,
	}
}

// CreateGeocodeCache creates a geocode cache based on the configuration.
// Every backend returned also implements Stop().
func (f *CacheFactory) CreateGeocodeCache() (core.GeocodeCache, error) {
	cacheCfg := f.cfg.GetCache()
	if cacheCfg.TTL < 0 {
		return nil, fmt.Errorf("invalid cache ttl: %s", cacheCfg.TTL)
	}

	f.logger.Info("Creating geocode cache",
		zap.String("type", cacheCfg.Type),
		zap.Duration("ttl", cacheCfg.TTL))

	switch cacheCfg.Type {
	case "memory":
		return cache.NewMemoryCache(f.logger, cacheCfg.TTL, cacheCfg.CleanupFrequency), nil
	case "sqlite":
		if f.store == nil {
			return nil, fmt.Errorf("sqlite cache requires an open store")
		}
		return cache.NewSQLiteCache(f.store, f.logger, cacheCfg.TTL, cacheCfg.CleanupFrequency), nil
	case "mysql":
		c, err := cache.NewMySQLCache(cacheCfg.MySQLDSN, f.logger, cacheCfg.TTL, cacheCfg.CleanupFrequency)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheCfg.Type)
	}
}

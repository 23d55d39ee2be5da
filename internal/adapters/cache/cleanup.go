package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// cleanupTask periodically removes expired entries from a cache
type cleanupTask struct {
	stopCh chan struct{}
	once   sync.Once
}

// startCleanupTask runs cleanup every freq until Stop is called. Nothing is
// started when entries never expire.
func startCleanupTask(ttl, freq time.Duration, logger *zap.Logger, cleanup func(ctx context.Context) error) *cleanupTask {
	task := &cleanupTask{stopCh: make(chan struct{})}
	if ttl <= 0 || freq <= 0 {
		return task
	}

	go func() {
		ticker := time.NewTicker(freq)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := cleanup(context.Background()); err != nil {
					logger.Error("Failed to clean up geocode cache", zap.Error(err))
				}
			case <-task.stopCh:
				return
			}
		}
	}()
	return task
}

// Stop ends the background task. Safe to call more than once.
func (t *cleanupTask) Stop() {
	t.once.Do(func() {
		close(t.stopCh)
	})
}

func expired(cachedAt time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(cachedAt) > ttl
}

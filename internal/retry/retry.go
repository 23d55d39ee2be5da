package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy runs an operation up to Attempts times with a fixed Delay between
// attempts. There is no jitter and no backoff growth.
type Policy struct {
	Attempts int
	Delay    time.Duration
	logger   *zap.Logger
}

// New creates a retry policy. Attempts below one are treated as one.
func New(attempts int, delay time.Duration, logger *zap.Logger) Policy {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Policy{
		Attempts: attempts,
		Delay:    delay,
		logger:   logger,
	}
}

// Do invokes op until it succeeds or the policy is exhausted, returning the
// error of the last attempt unchanged. Operations signal "do not retry" by
// returning a nil error together with a sentinel value.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		logger.Warn("Operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", p.Delay),
			zap.Error(err))

		if err := sleep(ctx, p.Delay); err != nil {
			logger.Warn("Retry wait interrupted", zap.String("operation", name), zap.Error(err))
			return zero, lastErr
		}
	}

	logger.Error("Operation failed after all attempts",
		zap.String("operation", name),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package receipts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines exponential-backoff parameters for ledger submission.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig suits a best-effort external ledger: a few attempts,
// capped backoff, give up quietly.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

// retryWithBackoff runs fn up to cfg.MaxAttempts times with exponential
// backoff, honoring context cancellation between attempts.
func retryWithBackoff(
	ctx context.Context,
	cfg RetryConfig,
	logger *zap.Logger,
	operation string,
	fn func(context.Context) error,
) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(ctx); err != nil {
			lastErr = err

			backoff := cfg.BaseBackoff * time.Duration(1<<attempt)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}

			logger.Warn("Operation failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			if attempt < cfg.MaxAttempts-1 {
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		} else {
			return nil
		}
	}

	return lastErr
}

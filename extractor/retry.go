package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy governs retries of one unit of work (one wave against one
// chunk). Attempts are spaced by exponential backoff capped at
// MaxBackoff. Context cancellation always stops the policy; per-attempt
// timeouts belong to the wrapped function.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// Retryable reports whether an error is worth another attempt.
// Cancellation is terminal; timeouts and malformed responses are the
// backend-error class and retry.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Do runs fn until it succeeds, retries are exhausted, or the context
// is cancelled. op labels log lines.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.InitialBackoff * time.Duration(1<<(attempt-1))
			if p.MaxBackoff > 0 && delay > p.MaxBackoff {
				delay = p.MaxBackoff
			}
			slog.Warn("extractor: retrying unit",
				"op", op,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

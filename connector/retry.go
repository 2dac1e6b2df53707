package connector

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// BackoffPolicy configures WithRetries.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoffPolicy is used by connectors that don't override it.
var DefaultBackoffPolicy = BackoffPolicy{
	MaxAttempts: 4,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

// computeBackoff returns base*2^attempt capped at maxDelay, scaled by a
// ±25% jitter so concurrent retries against one upstream spread out
// instead of thundering in lockstep. attempt is zero-based.
func computeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	delay := policy.BaseDelay << attempt
	if delay <= 0 || delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}

// WithRetries invokes fn up to policy.MaxAttempts times, retrying only when
// the returned error unwraps to a *domain.Err whose Kind reports
// Retryable() true. A rate_limited error's RetryAfter (if present in
// Data["retryAfter"]) overrides the computed backoff, honoring the
// upstream's own guidance instead of guessing.
func WithRetries(ctx context.Context, policy BackoffPolicy, fn func(ctx context.Context, attempt int) (Result, error)) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		res, err := fn(ctx, attempt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var derr *domain.Err
		if !errors.As(err, &derr) || !derr.Kind.Retryable() {
			return Result{}, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := computeBackoff(policy, attempt)
		if derr.Kind == domain.ErrRateLimited {
			if ra, ok := derr.Data["retryAfter"].(time.Duration); ok && ra > 0 {
				delay = ra
				if policy.MaxDelay > 0 && delay > policy.MaxDelay {
					delay = policy.MaxDelay
				}
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Result{}, lastErr
}

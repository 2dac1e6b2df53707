package connector

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// BreakerClient wraps a Client with a per-connector circuit breaker so a
// struggling upstream stops receiving new calls for a cooldown window
// instead of every concurrent node piling on retries against it. Composed
// with, not a replacement for, the per-call WithRetries backoff.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps inner. name should be the connector slug, used as
// the breaker's identity in state-change callbacks.
func NewBreakerClient(inner Client, name string) *BreakerClient {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
	return &BreakerClient{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerClient) Slug() string                      { return b.inner.Slug() }
func (b *BreakerClient) Operations() []domain.OperationSpec { return b.inner.Operations() }

// Unwrap exposes the wrapped client so optional capabilities
// (DynamicOptionsProvider, Cancelable) stay discoverable through the
// decorator — see AsDynamicOptions and SupportsCancel in client.go.
func (b *BreakerClient) Unwrap() Client { return b.inner }

func (b *BreakerClient) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.TestConnection(ctx, conn)
	})
	return unwrapBreakerErr(err)
}

func (b *BreakerClient) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (Result, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Invoke(ctx, operation, input, conn)
	})
	if err != nil {
		return Result{}, unwrapBreakerErr(err)
	}
	return out.(Result), nil
}

// unwrapBreakerErr turns gobreaker's own sentinel errors into a
// *domain.Err so callers only ever type-switch on one error shape.
func unwrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.Err{Kind: domain.ErrServerError, Message: "circuit breaker open", Cause: err}
	}
	return err
}

package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/appscriptstudio/workflow-engine/domain"
)

type failingClient struct {
	slug string
	err  error
}

func (f failingClient) Slug() string                       { return f.slug }
func (f failingClient) Operations() []domain.OperationSpec { return nil }
func (f failingClient) TestConnection(ctx context.Context, conn *domain.Connection) error {
	return f.err
}
func (f failingClient) Invoke(ctx context.Context, op string, input map[string]any, conn *domain.Connection) (Result, error) {
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Output: map[string]any{"ok": true}}, nil
}

func TestBreakerClientPassesThroughSuccess(t *testing.T) {
	b := NewBreakerClient(failingClient{slug: "acme"}, "acme")
	if b.Slug() != "acme" {
		t.Fatalf("expected slug acme, got %q", b.Slug())
	}
	res, err := b.Invoke(context.Background(), "op", nil, &domain.Connection{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output["ok"] != true {
		t.Fatalf("unexpected output: %+v", res.Output)
	}
}

func TestBreakerClientTripsAfterRepeatedFailures(t *testing.T) {
	inner := failingClient{slug: "acme", err: &domain.Err{Kind: domain.ErrServerError, Message: "boom"}}
	b := NewBreakerClient(inner, "acme")

	// The breaker's ReadyToTrip requires >=5 requests at a >=60% failure
	// rate; drive it past that threshold with all-failing calls.
	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = b.Invoke(context.Background(), "op", nil, &domain.Connection{})
	}
	var derr *domain.Err
	if !errors.As(lastErr, &derr) {
		t.Fatalf("expected a *domain.Err, got %v", lastErr)
	}

	// The breaker is now open; a further call is rejected locally instead
	// of reaching the (still-failing) inner client.
	_, err := b.Invoke(context.Background(), "op", nil, &domain.Connection{})
	if !errors.As(err, &derr) || derr.Kind != domain.ErrServerError {
		t.Fatalf("expected open-breaker call to surface as server_error, got %v", err)
	}
}

type capableClient struct {
	failingClient
}

func (capableClient) DynamicOptions(ctx context.Context, field string, conn *domain.Connection) ([]DynamicOption, error) {
	return []DynamicOption{{Value: "C1", Label: "#general"}}, nil
}

func (capableClient) SupportsCancel() bool { return true }

// TestBreakerClientForwardsOptionalCapabilities: the breaker wrapper must
// not hide the inner client's DynamicOptionsProvider/Cancelable
// capabilities from callers that discover them via the unwrapping helpers.
func TestBreakerClientForwardsOptionalCapabilities(t *testing.T) {
	b := NewBreakerClient(capableClient{failingClient{slug: "acme"}}, "acme")

	p, ok := AsDynamicOptions(b)
	if !ok {
		t.Fatal("expected dynamic options capability through the breaker")
	}
	opts, err := p.DynamicOptions(context.Background(), "channel", &domain.Connection{})
	if err != nil || len(opts) != 1 || opts[0].Value != "C1" {
		t.Fatalf("unexpected options: %+v %v", opts, err)
	}
	if !SupportsCancel(b) {
		t.Fatal("expected cancel capability through the breaker")
	}

	plain := NewBreakerClient(failingClient{slug: "basic"}, "basic")
	if _, ok := AsDynamicOptions(plain); ok {
		t.Fatal("capability must not be fabricated for clients without it")
	}
	if SupportsCancel(plain) {
		t.Fatal("cancel capability must not be fabricated")
	}
}

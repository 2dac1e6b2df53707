package domain

import (
	"errors"
	"testing"
)

func TestErrKindRetryable(t *testing.T) {
	cases := map[ErrKind]bool{
		ErrNetwork:         true,
		ErrRateLimited:     true,
		ErrServerError:     true,
		ErrTimeout:         true,
		ErrBadInput:        false,
		ErrAuthInvalid:     false,
		ErrNotFound:        false,
		ErrSchemaViolation: false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestErrIsMatchesOnKind(t *testing.T) {
	wrapped := &Err{Kind: ErrRateLimited, Message: "too many requests", Cause: errors.New("429")}
	if !errors.Is(wrapped, &Err{Kind: ErrRateLimited}) {
		t.Fatal("expected errors.Is to match on Kind")
	}
	if errors.Is(wrapped, &Err{Kind: ErrNotFound}) {
		t.Fatal("expected errors.Is to not match a different Kind")
	}
}

func TestErrUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := &Err{Kind: ErrNetwork, Cause: cause}
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to reach the wrapped cause")
	}
}

func TestErrMissingFields(t *testing.T) {
	e := ErrMissingFields([]string{"to", "subject"})
	if e.Kind != ErrBadInput {
		t.Fatalf("expected ErrBadInput, got %s", e.Kind)
	}
	missing, ok := e.Data["missingFields"].([]string)
	if !ok || len(missing) != 2 {
		t.Fatalf("expected missingFields data, got %#v", e.Data)
	}
}

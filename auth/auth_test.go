package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

type countingRefresher struct {
	calls int32
	delay time.Duration
}

func (r *countingRefresher) Refresh(ctx context.Context, conn *domain.Connection) (RefreshedToken, error) {
	atomic.AddInt32(&r.calls, 1)
	time.Sleep(r.delay)
	return RefreshedToken{AccessToken: "fresh-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type noopPersister struct{ mu sync.Mutex }

func (p *noopPersister) OnTokenRefreshed(ctx context.Context, conn *domain.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return nil
}

func TestHeadersBearer(t *testing.T) {
	m := NewManager(nil, time.Minute)
	conn := &domain.Connection{Variant: domain.AuthBearer, Data: map[string]any{"accessToken": "tok-1"}}

	h, err := m.Headers(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Get("Authorization") != "Bearer tok-1" {
		t.Fatalf("unexpected Authorization header: %q", h.Get("Authorization"))
	}
}

func TestHeadersBasic(t *testing.T) {
	m := NewManager(nil, time.Minute)
	conn := &domain.Connection{Variant: domain.AuthBasic, Data: map[string]any{"username": "u", "password": "p"}}

	h, err := m.Headers(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Get("Authorization") == "" {
		t.Fatal("expected a Basic Authorization header")
	}
}

func TestRefreshIsCoalescedAcrossConcurrentCallers(t *testing.T) {
	refresher := &countingRefresher{delay: 20 * time.Millisecond}
	persister := &noopPersister{}
	m := NewManager(persister, time.Minute)
	m.RegisterRefresher("slack", refresher)

	expired := time.Now().Add(-time.Second)
	conn := &domain.Connection{
		ID:             "conn-1",
		ConnectorSlug:  "slack",
		Variant:        domain.AuthOAuth2,
		Data:           map[string]any{"accessToken": "stale", "clientId": "c", "clientSecret": "s", "refreshToken": "r"},
		TokenExpiresAt: &expired,
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Headers(context.Background(), conn)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d got error: %v", i, err)
		}
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", refresher.calls)
	}
	if conn.Data["accessToken"] != "fresh-token" {
		t.Fatalf("expected refreshed token installed, got %v", conn.Data["accessToken"])
	}
}

func TestHeadersSkipsRefreshWhenTokenFresh(t *testing.T) {
	refresher := &countingRefresher{}
	m := NewManager(nil, time.Minute)
	m.RegisterRefresher("slack", refresher)

	fresh := time.Now().Add(time.Hour)
	conn := &domain.Connection{
		ConnectorSlug:  "slack",
		Variant:        domain.AuthOAuth2,
		Data:           map[string]any{"accessToken": "still-good"},
		TokenExpiresAt: &fresh,
	}

	if _, err := m.Headers(context.Background(), conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresher.calls != 0 {
		t.Fatalf("expected no refresh call, got %d", refresher.calls)
	}
}

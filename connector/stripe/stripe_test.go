package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

func testConn() *domain.Connection {
	return &domain.Connection{
		ID:            "conn-stripe",
		ConnectorSlug: Slug,
		Variant:       domain.AuthBearer,
		Data:          map[string]any{"apiKey": "sk_test_demo"},
	}
}

func TestCreatePaymentIntentRefusesToFabricateIdempotencyKey(t *testing.T) {
	c := New()
	_, err := c.Invoke(context.Background(), "create_payment_intent", map[string]any{
		"amount":   float64(1999),
		"currency": "usd",
	}, testConn())
	derr, ok := err.(*domain.Err)
	if !ok || derr.Kind != domain.ErrBadInput {
		t.Fatalf("expected bad_input for missing idempotencyKey, got %v", err)
	}
}

func TestCreatePaymentIntentSendsFormBodyAndIdempotencyHeader(t *testing.T) {
	var gotKey, gotContentType, gotAmount string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotKey = r.Header.Get("Idempotency-Key")
		gotContentType = r.Header.Get("Content-Type")
		r.ParseForm()
		gotAmount = r.PostFormValue("amount")
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id": "pi_1", "status": "succeeded"}`))
	}))
	defer srv.Close()

	c := New()
	c.baseURL = srv.URL

	input := map[string]any{
		"amount":         float64(1999),
		"currency":       "usd",
		"idempotencyKey": "idem-abc",
	}

	// First attempt is rate limited; the outer retry re-invokes with the
	// same input, so the same key must arrive unchanged.
	policy := connector.BackoffPolicy{MaxAttempts: 2, BaseDelay: 1, MaxDelay: 1}
	res, err := connector.WithRetries(context.Background(), policy, func(ctx context.Context, attempt int) (connector.Result, error) {
		return c.Invoke(ctx, "create_payment_intent", input, testConn())
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after 429, got %d calls", calls)
	}
	if gotKey != "idem-abc" {
		t.Fatalf("idempotency key changed across retry: %q", gotKey)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("expected form encoding, got %q", gotContentType)
	}
	if gotAmount != "1999" {
		t.Fatalf("expected amount=1999 in form body, got %q", gotAmount)
	}
	if res.Output["id"] != "pi_1" {
		t.Fatalf("unexpected output: %+v", res.Output)
	}
}

func TestListChargesPagesByStartingAfter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data": [{"id": "ch_1"}, {"id": "ch_2"}], "has_more": true}`))
	}))
	defer srv.Close()

	c := New()
	c.baseURL = srv.URL

	res, err := c.Invoke(context.Background(), "list_charges", map[string]any{"limit": float64(2)}, testConn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output["nextCursor"] != "ch_2" {
		t.Fatalf("expected last object id as cursor, got %+v", res.Output)
	}

	if _, err := c.Invoke(context.Background(), "list_charges", map[string]any{"cursor": "ch_2"}, testConn()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "starting_after=ch_2" {
		t.Fatalf("expected starting_after cursor in query, got %q", gotQuery)
	}
}

func TestListChargesFinalPageOmitsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"id": "ch_9"}], "has_more": false}`))
	}))
	defer srv.Close()

	c := New()
	c.baseURL = srv.URL

	res, err := c.Invoke(context.Background(), "list_charges", nil, testConn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := res.Output["nextCursor"]; present {
		t.Fatalf("final page must omit nextCursor, got %+v", res.Output)
	}
}

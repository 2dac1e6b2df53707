package adp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appscriptstudio/workflow-engine/auth"
	"github.com/appscriptstudio/workflow-engine/domain"
)

func adpConn() *domain.Connection {
	return &domain.Connection{
		ID:            "conn-adp",
		OrgID:         "org-1",
		ConnectorSlug: Slug,
		Variant:       domain.AuthOAuth2,
		Data: map[string]any{
			"clientId":       "adp-client",
			"clientSecret":   "adp-secret",
			"applicationKey": "app-key-1",
		},
	}
}

// TestRefreshInstallsTenantContextHeaders: the token exchange
// returns an opaque context that must arrive as ADP-Context (plus the
// configured ADP-Application-Key) on every subsequent data call.
func TestRefreshInstallsTenantContextHeaders(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant_type %q", r.PostFormValue("grant_type"))
		}
		w.Write([]byte(`{"access_token": "adp-tok", "token_type": "Bearer", "expires_in": 3600, "adp-context": "ctx-opaque-1"}`))
	}))
	defer tokenSrv.Close()

	mgr := auth.NewManager(nil, time.Minute)
	mgr.RegisterRefresher(Slug, Refresher{TokenURL: tokenSrv.URL})

	conn := adpConn()
	h, err := mgr.Headers(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Get("Authorization") != "Bearer adp-tok" {
		t.Fatalf("expected refreshed bearer token, got %q", h.Get("Authorization"))
	}
	if h.Get("ADP-Context") != "ctx-opaque-1" {
		t.Fatalf("expected ADP-Context tenant header, got %q", h.Get("ADP-Context"))
	}
	if h.Get("ADP-Application-Key") != "app-key-1" {
		t.Fatalf("expected ADP-Application-Key header, got %q", h.Get("ADP-Application-Key"))
	}
}

// TestConcurrentCallersCoalesceToOneTokenExchange drives the real
// Refresher: ten concurrent data calls racing an expired token
// produce exactly one POST to the token endpoint.
func TestConcurrentCallersCoalesceToOneTokenExchange(t *testing.T) {
	var tokenCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"access_token": "adp-tok", "expires_in": 3600}`))
	}))
	defer tokenSrv.Close()

	mgr := auth.NewManager(nil, time.Minute)
	mgr.RegisterRefresher(Slug, Refresher{TokenURL: tokenSrv.URL})

	conn := adpConn()
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Headers(context.Background(), conn)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&tokenCalls); n != 1 {
		t.Fatalf("expected exactly one token exchange, got %d", n)
	}
}

func TestGetPayrollOutputReportsProcessingOn202(t *testing.T) {
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"payrollId": "pr-9"}`))
	}))
	defer apiSrv.Close()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "adp-tok", "expires_in": 3600}`))
	}))
	defer tokenSrv.Close()

	mgr := auth.NewManager(nil, time.Minute)
	mgr.RegisterRefresher(Slug, Refresher{TokenURL: tokenSrv.URL})

	c := New(mgr)
	c.baseURL = apiSrv.URL

	res, err := c.Invoke(context.Background(), "get_payroll_output", map[string]any{"payrollId": "pr-9"}, adpConn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output["processing"] != true {
		t.Fatalf("expected processing=true on 202, got %+v", res.Output)
	}
}

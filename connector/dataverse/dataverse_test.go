package dataverse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appscriptstudio/workflow-engine/domain"
)

func testConn() *domain.Connection {
	return &domain.Connection{
		ID:            "conn-dv",
		ConnectorSlug: Slug,
		Variant:       domain.AuthOAuth2,
		Data:          map[string]any{"accessToken": "eyJ-demo"},
		TenantHeaders: map[string]string{"X-Env-Id": "env-42"},
	}
}

func TestNewRequiresOrgURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected constructor error without orgUrl")
	}
	if _, err := New(Config{OrgURL: "contoso.crm.dynamics.com"}); err == nil {
		t.Fatal("expected constructor error for relative orgUrl")
	}
	c, err := New(Config{OrgURL: "https://contoso.crm.dynamics.com/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.orgURL != "https://contoso.crm.dynamics.com" {
		t.Fatalf("unexpected orgURL %q", c.orgURL)
	}
}

func TestListRecordsNormalizesODataNextLink(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.Header.Get("X-Env-Id") != "env-42" {
			t.Errorf("tenant header not attached")
		}
		w.Write([]byte(`{
			"value": [{"accountid": "a1"}, {"accountid": "a2"}],
			"@odata.nextLink": "https://contoso.crm.dynamics.com/api/data/v9.2/accounts?$skiptoken=%3Ccookie%20pagenumber%3D%222%22%3E"
		}`))
	}))
	defer srv.Close()

	c, _ := New(Config{OrgURL: srv.URL})
	res, err := c.Invoke(context.Background(), "list_records", map[string]any{"entitySet": "accounts", "select": "name"}, testConn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "%24select=name" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if res.Output["nextCursor"] != `<cookie pagenumber="2">` {
		t.Fatalf("expected decoded skiptoken cursor, got %+v", res.Output["nextCursor"])
	}
	records, ok := res.Output["records"].([]any)
	if !ok || len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", res.Output["records"])
	}
}

func TestListRecordsFinalPageOmitsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	c, _ := New(Config{OrgURL: srv.URL})
	res, err := c.Invoke(context.Background(), "list_records", map[string]any{"entitySet": "accounts"}, testConn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := res.Output["nextCursor"]; present {
		t.Fatalf("final page must omit nextCursor, got %+v", res.Output)
	}
}

func TestCreateRecordSurfacesEntityID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OData-EntityId", "https://contoso.crm.dynamics.com/api/data/v9.2/accounts(a3)")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := New(Config{OrgURL: srv.URL})
	res, err := c.Invoke(context.Background(), "create_record", map[string]any{
		"entitySet":  "accounts",
		"attributes": map[string]any{"name": "Contoso"},
	}, testConn())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output["recordUrl"] != "https://contoso.crm.dynamics.com/api/data/v9.2/accounts(a3)" {
		t.Fatalf("expected recordUrl from OData-EntityId, got %+v", res.Output)
	}
}

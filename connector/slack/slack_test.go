package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

func testConn(apiURL string) *domain.Connection {
	return &domain.Connection{
		ID:            "conn-slack",
		ConnectorSlug: Slug,
		Variant:       domain.AuthHeaderKey,
		Data:          map[string]any{"botToken": "xoxb-test", "apiUrl": apiURL},
	}
}

// TestDynamicOptionsFollowsPaginationCursor drives the channel pick-list
// across two pages of conversations.list, following Slack's own
// next_cursor to exhaustion.
func TestDynamicOptionsFollowsPaginationCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.list" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("cursor") == "" {
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"general"}],"response_metadata":{"next_cursor":"page2"}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"channels":[{"id":"C2","name":"workflows"}],"response_metadata":{"next_cursor":""}}`))
	}))
	defer srv.Close()

	c := New()
	opts, err := c.DynamicOptions(context.Background(), "channel", testConn(srv.URL+"/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("expected both pages' channels, got %+v", opts)
	}
	if opts[0].Value != "C1" || opts[0].Label != "#general" || opts[1].Value != "C2" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestDynamicOptionsRejectsUnknownField(t *testing.T) {
	c := New()
	_, err := c.DynamicOptions(context.Background(), "user", testConn(""))
	derr, ok := err.(*domain.Err)
	if !ok || derr.Kind != domain.ErrUnknownOperation {
		t.Fatalf("expected unknown_operation for unknown field, got %v", err)
	}
}

// TestDynamicOptionsDiscoverableThroughBreaker mirrors the production
// wiring, where every client is registered behind a BreakerClient: the
// capability must survive the decorator.
func TestDynamicOptionsDiscoverableThroughBreaker(t *testing.T) {
	wrapped := connector.NewBreakerClient(New(), Slug)
	if _, ok := connector.AsDynamicOptions(wrapped); !ok {
		t.Fatal("expected slack's dynamic options capability through the breaker")
	}
}

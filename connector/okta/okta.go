// Package okta implements an Okta connector on the shared
// connector.HTTPEnvelope, talking to the Users API with Okta's SSWS token
// scheme.
//
// Operation defaults follow Okta's documented per-operation behavior
// rather than a single connector-wide default: create_user activates the
// new user unless the caller passes activate=false, while
// deactivate_user suppresses the notification email unless the caller
// passes sendEmail=true.
package okta

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "okta"

// Config names the Okta org this client talks to. At least one of Domain
// (e.g. "dev-123456.okta.com") or BaseURL (a full https URL) must be set;
// BaseURL wins when both are present.
type Config struct {
	Domain  string
	BaseURL string
}

type Client struct {
	baseURL  string
	envelope *connector.HTTPEnvelope
}

// New normalizes cfg into the org base URL at construction and fails with
// a descriptive error when neither Domain nor BaseURL is configured.
func New(cfg Config) (*Client, error) {
	base, err := normalizeBaseURL(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{baseURL: base, envelope: connector.NewHTTPEnvelope(sswsHeaders)}, nil
}

func normalizeBaseURL(cfg Config) (string, error) {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("okta: baseUrl %q is not an absolute URL", cfg.BaseURL)
		}
		return strings.TrimRight(cfg.BaseURL, "/"), nil
	}
	if cfg.Domain == "" {
		return "", fmt.Errorf("okta: configuration needs either domain or baseUrl")
	}
	host := strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(cfg.Domain, "https://"), "http://"), "/")
	return "https://" + host, nil
}

func sswsHeaders(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	token, _ := conn.Data["apiToken"].(string)
	if token == "" {
		token, _ = conn.Data["accessToken"].(string)
	}
	if token == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "okta connection missing apiToken"}
	}
	h := http.Header{}
	h.Set("Authorization", "SSWS "+token)
	return h, nil
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "create_user", Kind: "action", RequiredFields: []string{"firstName", "lastName", "email", "login"}},
		{Name: "get_user", Kind: "action", RequiredFields: []string{"userId"}},
		{Name: "deactivate_user", Kind: "action", RequiredFields: []string{"userId"}},
		{Name: "list_users", Kind: "action"},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "GET", c.baseURL+"/api/v1/users/me", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "create_user":
		return c.createUser(ctx, input, conn)
	case "get_user":
		if err := connector.RequireFields(input, []string{"userId"}); err != nil {
			return connector.Result{}, err
		}
		id, _ := input["userId"].(string)
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", c.baseURL+"/api/v1/users/"+url.PathEscape(id), nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
	case "deactivate_user":
		return c.deactivateUser(ctx, input, conn)
	case "list_users":
		return c.listUsers(ctx, input, conn)
	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

func (c *Client) createUser(ctx context.Context, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if err := connector.RequireFields(input, []string{"firstName", "lastName", "email", "login"}); err != nil {
		return connector.Result{}, err
	}

	// activate defaults true on creation; the caller opts out explicitly.
	activate := true
	if v, ok := input["activate"].(bool); ok {
		activate = v
	}

	body := map[string]any{
		"profile": map[string]any{
			"firstName": input["firstName"],
			"lastName":  input["lastName"],
			"email":     input["email"],
			"login":     input["login"],
		},
	}
	endpoint := c.baseURL + "/api/v1/users?activate=" + strconv.FormatBool(activate)
	out, meta, err := c.envelope.DoMeta(ctx, conn, "POST", endpoint, body, nil)
	if err != nil {
		return connector.Result{}, err
	}
	return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
}

func (c *Client) deactivateUser(ctx context.Context, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if err := connector.RequireFields(input, []string{"userId"}); err != nil {
		return connector.Result{}, err
	}

	// Unlike create_user's activate flag, sendEmail defaults false here.
	sendEmail := false
	if v, ok := input["sendEmail"].(bool); ok {
		sendEmail = v
	}

	id, _ := input["userId"].(string)
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/lifecycle/deactivate?sendEmail=%s", c.baseURL, url.PathEscape(id), strconv.FormatBool(sendEmail))
	out, meta, err := c.envelope.DoMeta(ctx, conn, "POST", endpoint, nil, nil)
	if err != nil {
		return connector.Result{}, err
	}
	return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
}

// listUsers pages through /api/v1/users. Okta's continuation rides on the
// Link rel="next" response header; its "after" value is surfaced as
// nextCursor.
func (c *Client) listUsers(ctx context.Context, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	q := url.Values{}
	if limit, ok := input["limit"].(float64); ok && limit > 0 {
		q.Set("limit", strconv.Itoa(int(limit)))
	}
	if after, ok := input["cursor"].(string); ok && after != "" {
		q.Set("after", after)
	}
	endpoint := c.baseURL + "/api/v1/users"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	// The Users API returns a bare JSON array, which the envelope wraps
	// under "items".
	out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", endpoint, nil, nil)
	if err != nil {
		return connector.Result{}, err
	}

	output := map[string]any{"users": out["items"]}
	if cursor := connector.LinkHeaderNext(meta.Headers); cursor != "" {
		output[connector.NextCursorField] = cursor
	}
	return connector.Result{Output: output, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
}

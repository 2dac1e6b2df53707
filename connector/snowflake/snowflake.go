// Package snowflake implements a Snowflake SQL API connector on the shared
// connector.HTTPEnvelope. The account identifier is normalized at
// construction: Snowflake account locators use underscores that map to
// hyphens in the service hostname, and callers sometimes paste the full
// hostname instead of the bare identifier.
package snowflake

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "snowflake"

// Config addresses one Snowflake account.
type Config struct {
	Account string // e.g. xy12345.us-east-1, ACME-PROD, or a full hostname
}

type Client struct {
	baseURL  string
	envelope *connector.HTTPEnvelope
}

func New(cfg Config) (*Client, error) {
	account, err := normalizeAccount(cfg.Account)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:  "https://" + account + ".snowflakecomputing.com",
		envelope: connector.NewHTTPEnvelope(bearerHeaders),
	}, nil
}

// normalizeAccount lowercases the identifier, maps underscores to hyphens
// (the hostname form of an account locator), and strips a pasted
// ".snowflakecomputing.com" suffix or scheme.
func normalizeAccount(account string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("snowflake: account identifier is required")
	}
	a := strings.ToLower(strings.TrimSpace(account))
	a = strings.TrimPrefix(a, "https://")
	a = strings.TrimSuffix(strings.TrimRight(a, "/"), ".snowflakecomputing.com")
	a = strings.ReplaceAll(a, "_", "-")
	if a == "" || strings.ContainsAny(a, "/ ") {
		return "", fmt.Errorf("snowflake: account %q does not normalize to a hostname label", account)
	}
	return a, nil
}

func bearerHeaders(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	token, _ := conn.Data["accessToken"].(string)
	if token == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "snowflake connection missing accessToken"}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("X-Snowflake-Authorization-Token-Type", "OAUTH")
	return h, nil
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "execute_statement", Kind: "action", RequiredFields: []string{"statement"}},
		{Name: "get_statement_status", Kind: "action", RequiredFields: []string{"statementHandle"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "POST", c.baseURL+"/api/v2/statements", map[string]any{
		"statement": "SELECT 1",
		"timeout":   10,
	}, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "execute_statement":
		if err := connector.RequireFields(input, []string{"statement"}); err != nil {
			return connector.Result{}, err
		}
		body := map[string]any{"statement": input["statement"]}
		if wh, ok := input["warehouse"].(string); ok && wh != "" {
			body["warehouse"] = wh
		}
		if db, ok := input["database"].(string); ok && db != "" {
			body["database"] = db
		}
		out, meta, err := c.envelope.DoMeta(ctx, conn, "POST", c.baseURL+"/api/v2/statements", body, nil)
		if err != nil {
			return connector.Result{}, err
		}
		// 202 means the statement is still executing; the handle is what a
		// downstream get_statement_status node polls on.
		out["running"] = meta.StatusCode == http.StatusAccepted
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil

	case "get_statement_status":
		if err := connector.RequireFields(input, []string{"statementHandle"}); err != nil {
			return connector.Result{}, err
		}
		handle, _ := input["statementHandle"].(string)
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", c.baseURL+"/api/v2/statements/"+url.PathEscape(handle), nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		out["running"] = meta.StatusCode == http.StatusAccepted
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil

	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

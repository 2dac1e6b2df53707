// Package adp implements an ADP Workforce Now connector. The token
// exchange returns an opaque context the provider expects back on every
// subsequent call, so the refresher installs it as the
// ADP-Context/ADP-Application-Key tenant headers and the client routes all
// header assembly through auth.Manager rather than building its own.
package adp

import (
	"context"
	"net/http"
	"net/url"

	"github.com/appscriptstudio/workflow-engine/auth"
	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "adp"

const defaultBaseURL = "https://api.adp.com"

type Client struct {
	baseURL  string
	envelope *connector.HTTPEnvelope
}

// New builds the connector against mgr, whose Headers path performs the
// single-flight token refresh and carries the installed tenant headers on
// every call. A 401 from the API forces one reactive refresh and a single
// retry via the envelope's Reauth hook, catching tokens revoked or expired
// server-side before the proactive skew check would have noticed.
func New(mgr *auth.Manager) *Client {
	env := connector.NewHTTPEnvelope(mgr.Headers)
	env.Reauth = mgr.ForceRefresh
	return &Client{
		baseURL:  defaultBaseURL,
		envelope: env,
	}
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "list_workers", Kind: "action"},
		{Name: "get_worker", Kind: "action", RequiredFields: []string{"associateId"}},
		{Name: "get_payroll_output", Kind: "action", RequiredFields: []string{"payrollId"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "GET", c.baseURL+"/hr/v2/workers?$top=1", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "list_workers":
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", c.baseURL+"/hr/v2/workers", nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil

	case "get_worker":
		if err := connector.RequireFields(input, []string{"associateId"}); err != nil {
			return connector.Result{}, err
		}
		id, _ := input["associateId"].(string)
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", c.baseURL+"/hr/v2/workers/"+url.PathEscape(id), nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil

	case "get_payroll_output":
		if err := connector.RequireFields(input, []string{"payrollId"}); err != nil {
			return connector.Result{}, err
		}
		id, _ := input["payrollId"].(string)
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", c.baseURL+"/payroll/v1/payroll-output/"+url.PathEscape(id), nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		// A 202 means the payroll run has not finished materializing; the
		// caller's polling loop keys off this flag.
		out["processing"] = meta.StatusCode == http.StatusAccepted
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil

	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

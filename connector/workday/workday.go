// Package workday implements a Workday connector on the shared
// connector.HTTPEnvelope. Workday addresses every API under a tenant path
// segment, so both the service host and the tenant name are required at
// construction; there is no tenantless endpoint to guess.
package workday

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

const Slug = "workday"

// Config addresses one Workday tenant.
type Config struct {
	Host   string // e.g. wd2-impl-services1.workday.com
	Tenant string // e.g. acme_corp
}

type Client struct {
	baseURL  string
	envelope *connector.HTTPEnvelope
}

func New(cfg Config) (*Client, error) {
	if cfg.Host == "" || cfg.Tenant == "" {
		return nil, fmt.Errorf("workday: both host and tenant are required (got host=%q tenant=%q)", cfg.Host, cfg.Tenant)
	}
	host := strings.TrimRight(strings.TrimPrefix(cfg.Host, "https://"), "/")
	return &Client{
		baseURL:  fmt.Sprintf("https://%s/ccx/api/v1/%s", host, url.PathEscape(cfg.Tenant)),
		envelope: connector.NewHTTPEnvelope(bearerHeaders),
	}, nil
}

func bearerHeaders(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	token, _ := conn.Data["accessToken"].(string)
	if token == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "workday connection missing accessToken"}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (c *Client) Slug() string { return Slug }

// SupportsCancel opts into in-flight abort on cancellation: both
// operations are reads, so dropping the transport mid-flight cannot leave
// partial state upstream.
func (c *Client) SupportsCancel() bool { return true }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "list_workers", Kind: "action"},
		{Name: "get_worker", Kind: "action", RequiredFields: []string{"workerId"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "GET", c.baseURL+"/workers?limit=1", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "list_workers":
		return c.listWorkers(ctx, input, conn)
	case "get_worker":
		if err := connector.RequireFields(input, []string{"workerId"}); err != nil {
			return connector.Result{}, err
		}
		id, _ := input["workerId"].(string)
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", c.baseURL+"/workers/"+url.PathEscape(id), nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

// listWorkers pages /workers with offset/limit. Workday reports the result
// window as {total, data}; when offset+len(data) < total the next offset is
// surfaced as nextCursor.
func (c *Client) listWorkers(ctx context.Context, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	limit := 100
	if v, ok := input["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	offset := 0
	if cursor, ok := input["cursor"].(string); ok && cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return connector.Result{}, &domain.Err{Kind: domain.ErrBadInput, Message: fmt.Sprintf("cursor %q is not a workday offset", cursor)}
		}
		offset = n
	}

	endpoint := fmt.Sprintf("%s/workers?limit=%d&offset=%d", c.baseURL, limit, offset)
	out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", endpoint, nil, nil)
	if err != nil {
		return connector.Result{}, err
	}

	output := map[string]any{"workers": out["data"]}
	total, _ := out["total"].(float64)
	if data, ok := out["data"].([]any); ok && float64(offset+len(data)) < total {
		output[connector.NextCursorField] = strconv.Itoa(offset + len(data))
	}
	return connector.Result{Output: output, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
}

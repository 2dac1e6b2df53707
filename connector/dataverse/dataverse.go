// Package dataverse implements a Microsoft Dataverse connector on the
// shared connector.HTTPEnvelope. Dataverse is OData: list responses carry
// an @odata.nextLink whose $skiptoken is surfaced as nextCursor, and every
// environment is addressed by its own org URL, required at construction.
package dataverse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "dataverse"

const apiPath = "/api/data/v9.2/"

// Config addresses one Dataverse environment. OrgURL is required: there is
// no global Dataverse endpoint to fall back to.
type Config struct {
	OrgURL string // e.g. https://contoso.crm.dynamics.com
}

type Client struct {
	orgURL   string
	envelope *connector.HTTPEnvelope
}

func New(cfg Config) (*Client, error) {
	if cfg.OrgURL == "" {
		return nil, fmt.Errorf("dataverse: orgUrl is required (e.g. https://contoso.crm.dynamics.com)")
	}
	u, err := url.Parse(cfg.OrgURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dataverse: orgUrl %q is not an absolute URL", cfg.OrgURL)
	}
	return &Client{
		orgURL:   strings.TrimRight(cfg.OrgURL, "/"),
		envelope: connector.NewHTTPEnvelope(bearerHeaders),
	}, nil
}

// bearerHeaders attaches the connection's access token plus any tenant
// headers installed at token-exchange time.
func bearerHeaders(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	token, _ := conn.Data["accessToken"].(string)
	if token == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "dataverse connection missing accessToken"}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("OData-MaxVersion", "4.0")
	h.Set("OData-Version", "4.0")
	for k, v := range conn.TenantHeaders {
		h.Set(k, v)
	}
	return h, nil
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "list_records", Kind: "action", RequiredFields: []string{"entitySet"}},
		{Name: "get_record", Kind: "action", RequiredFields: []string{"entitySet", "recordId"}},
		{Name: "create_record", Kind: "action", RequiredFields: []string{"entitySet", "attributes"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "GET", c.orgURL+apiPath+"WhoAmI", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "list_records":
		return c.listRecords(ctx, input, conn)
	case "get_record":
		if err := connector.RequireFields(input, []string{"entitySet", "recordId"}); err != nil {
			return connector.Result{}, err
		}
		entity, _ := input["entitySet"].(string)
		id, _ := input["recordId"].(string)
		endpoint := fmt.Sprintf("%s%s%s(%s)", c.orgURL, apiPath, url.PathEscape(entity), url.PathEscape(id))
		out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", endpoint, nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
	case "create_record":
		if err := connector.RequireFields(input, []string{"entitySet", "attributes"}); err != nil {
			return connector.Result{}, err
		}
		entity, _ := input["entitySet"].(string)
		attrs, ok := input["attributes"].(map[string]any)
		if !ok {
			return connector.Result{}, &domain.Err{Kind: domain.ErrBadInput, Message: "attributes must be an object"}
		}
		out, meta, err := c.envelope.DoMeta(ctx, conn, "POST", c.orgURL+apiPath+url.PathEscape(entity), attrs, nil)
		if err != nil {
			return connector.Result{}, err
		}
		// Dataverse returns 204 with the new record's URL in OData-EntityId.
		if id := meta.Headers.Get("OData-EntityId"); id != "" {
			out["recordUrl"] = id
		}
		return connector.Result{Output: out, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

// listRecords pages an entity set. A caller-supplied cursor is passed back
// as $skiptoken; the response's @odata.nextLink is normalized into the
// next cursor, absent on the final page.
func (c *Client) listRecords(ctx context.Context, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if err := connector.RequireFields(input, []string{"entitySet"}); err != nil {
		return connector.Result{}, err
	}
	entity, _ := input["entitySet"].(string)

	q := url.Values{}
	if sel, ok := input["select"].(string); ok && sel != "" {
		q.Set("$select", sel)
	}
	if filter, ok := input["filter"].(string); ok && filter != "" {
		q.Set("$filter", filter)
	}
	if cursor, ok := input["cursor"].(string); ok && cursor != "" {
		q.Set("$skiptoken", cursor)
	}
	endpoint := c.orgURL + apiPath + url.PathEscape(entity)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	out, meta, err := c.envelope.DoMeta(ctx, conn, "GET", endpoint, nil, nil)
	if err != nil {
		return connector.Result{}, err
	}

	output := map[string]any{"records": out["value"]}
	if nextLink, _ := out["@odata.nextLink"].(string); nextLink != "" {
		output[connector.NextCursorField] = connector.ODataNextCursor(nextLink)
	}
	return connector.Result{Output: output, StatusCode: meta.StatusCode, Headers: meta.Headers, RateLimit: meta.RateLimit}, nil
}

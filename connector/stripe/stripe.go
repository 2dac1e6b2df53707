// Package stripe implements a Stripe connector on the shared
// connector.HTTPEnvelope. Stripe takes form-encoded request bodies and
// answers JSON; every value-bearing create operation requires a
// caller-supplied idempotency key, forwarded as the Idempotency-Key header
// unchanged on every retry.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "stripe"

const baseURL = "https://api.stripe.com/v1"

type Client struct {
	baseURL  string
	envelope *connector.HTTPEnvelope
}

func New() *Client {
	return &Client{baseURL: baseURL, envelope: connector.NewHTTPEnvelope(bearerHeaders)}
}

func bearerHeaders(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	key, _ := conn.Data["apiKey"].(string)
	if key == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "stripe connection missing apiKey"}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	return h, nil
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "create_payment_intent", Kind: "action", RequiredFields: []string{"amount", "currency", "idempotencyKey"}},
		{Name: "create_refund", Kind: "action", RequiredFields: []string{"chargeId", "idempotencyKey"}},
		{Name: "list_charges", Kind: "action"},
		{Name: "payment_succeeded", Kind: "trigger"},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "GET", c.baseURL+"/balance", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "create_payment_intent":
		if err := connector.RequireFields(input, []string{"amount", "currency"}); err != nil {
			return connector.Result{}, err
		}
		form := url.Values{}
		form.Set("amount", formatAmount(input["amount"]))
		form.Set("currency", fmt.Sprint(input["currency"]))
		if cust, ok := input["customerId"].(string); ok && cust != "" {
			form.Set("customer", cust)
		}
		return c.createWithIdempotency(ctx, conn, c.baseURL+"/payment_intents", form, input)

	case "create_refund":
		if err := connector.RequireFields(input, []string{"chargeId"}); err != nil {
			return connector.Result{}, err
		}
		form := url.Values{}
		form.Set("charge", fmt.Sprint(input["chargeId"]))
		if amt, ok := input["amount"]; ok {
			form.Set("amount", formatAmount(amt))
		}
		return c.createWithIdempotency(ctx, conn, c.baseURL+"/refunds", form, input)

	case "list_charges":
		return c.listCharges(ctx, input, conn)

	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

// createWithIdempotency issues a value-bearing POST. The idempotency key
// must come from the caller — the node's bound input carries it
// unchanged across retries, so a rate_limited retry can never double-charge.
func (c *Client) createWithIdempotency(ctx context.Context, conn *domain.Connection, endpoint string, form url.Values, input map[string]any) (connector.Result, error) {
	key, err := connector.RequireIdempotencyKey(input)
	if err != nil {
		return connector.Result{}, err
	}
	extra := http.Header{}
	extra.Set("Idempotency-Key", key)

	out, rl, err := c.envelope.DoForm(ctx, conn, "POST", endpoint, form, extra)
	if err != nil {
		return connector.Result{}, err
	}
	return connector.Result{Output: out, RateLimit: rl}, nil
}

// listCharges pages /charges with Stripe's starting_after cursor. has_more
// plus the last object's id becomes nextCursor; its absence means final
// page.
func (c *Client) listCharges(ctx context.Context, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	q := url.Values{}
	if limit, ok := input["limit"].(float64); ok && limit > 0 {
		q.Set("limit", strconv.Itoa(int(limit)))
	}
	if cursor, ok := input["cursor"].(string); ok && cursor != "" {
		q.Set("starting_after", cursor)
	}
	endpoint := c.baseURL + "/charges"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	out, rl, err := c.envelope.Do(ctx, conn, "GET", endpoint, nil, nil)
	if err != nil {
		return connector.Result{}, err
	}

	output := map[string]any{"charges": out["data"]}
	data, _ := out["data"].([]any)
	if hasMore, _ := out["has_more"].(bool); hasMore && len(data) > 0 {
		if last, ok := data[len(data)-1].(map[string]any); ok {
			if id, _ := last["id"].(string); id != "" {
				output[connector.NextCursorField] = id
			}
		}
	}
	return connector.Result{Output: output, RateLimit: rl}, nil
}

func formatAmount(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprint(v)
	}
}

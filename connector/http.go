package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// HeaderSource supplies the outbound auth headers for one request. Concrete
// connectors get one from auth.Manager.Headers(ctx, conn), or assemble
// their own closure directly when the variant needs no refresh; HTTPEnvelope
// itself has no opinion on auth variants.
type HeaderSource func(ctx context.Context, conn *domain.Connection) (http.Header, error)

// HTTPEnvelope is the shared request/response plumbing every HTTP-backed
// connector uses: assemble auth headers, merge caller headers, issue the
// request, parse rate-limit headers, and classify the response into a
// Result or a *domain.Err.
type HTTPEnvelope struct {
	HTTPClient   *http.Client
	Headers      HeaderSource
	RateLimitKey string // header name prefix, e.g. "X-RateLimit" or "RateLimit"

	// Reauth, when set, is invoked once after an upstream 401 to force a
	// token refresh before the request is retried a single time
	// (typically auth.Manager.ForceRefresh). Nil for connectors whose
	// credential cannot be refreshed, where a 401 is permanent.
	Reauth func(ctx context.Context, conn *domain.Connection) error
}

// NewHTTPEnvelope builds an envelope with a sane default client timeout.
func NewHTTPEnvelope(headers HeaderSource) *HTTPEnvelope {
	return &HTTPEnvelope{
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		Headers:      headers,
		RateLimitKey: "X-RateLimit",
	}
}

// Do issues method/url with jsonBody (nil for no body), merges extraHeaders
// on top of the connection's auth headers, and returns the parsed JSON
// response body plus any observed rate-limit state. Non-2xx responses are
// classified into a *domain.Err via ClassifyHTTPStatus.
func (e *HTTPEnvelope) Do(ctx context.Context, conn *domain.Connection, method, url string, jsonBody any, extraHeaders http.Header) (map[string]any, *domain.RateLimitState, error) {
	out, meta, err := e.DoMeta(ctx, conn, method, url, jsonBody, extraHeaders)
	return out, meta.RateLimit, err
}

// DoForm is Do for APIs that take application/x-www-form-urlencoded request
// bodies (Stripe, most OAuth token endpoints) while still responding with
// JSON.
func (e *HTTPEnvelope) DoForm(ctx context.Context, conn *domain.Connection, method, reqURL string, form url.Values, extraHeaders http.Header) (map[string]any, *domain.RateLimitState, error) {
	var body []byte
	if len(form) > 0 {
		body = []byte(form.Encode())
	}
	out, meta, err := e.do(ctx, conn, method, reqURL, body, "application/x-www-form-urlencoded", extraHeaders)
	return out, meta.RateLimit, err
}

// ResponseMeta carries the response envelope a connector needs beyond the
// decoded body: pagination lives in headers for some providers (Okta's
// Link header), and Result carries the upstream status code through.
type ResponseMeta struct {
	StatusCode int
	Headers    http.Header
	RateLimit  *domain.RateLimitState
}

// DoMeta is Do returning the full ResponseMeta alongside the decoded body,
// for connectors whose pagination or tenant state rides on response
// headers.
func (e *HTTPEnvelope) DoMeta(ctx context.Context, conn *domain.Connection, method, url string, jsonBody any, extraHeaders http.Header) (map[string]any, ResponseMeta, error) {
	var body []byte
	if jsonBody != nil {
		b, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, ResponseMeta{}, &domain.Err{Kind: domain.ErrBadInput, Message: "encode request body", Cause: err}
		}
		body = b
	}
	return e.do(ctx, conn, method, url, body, "application/json", extraHeaders)
}

// do issues the request once and, when Reauth is configured and the
// upstream answered 401, forces one token refresh and retries once before
// surfacing auth_invalid. The proactive skew check cannot see a token the
// provider revoked or expired server-side; the 401 is the only signal.
func (e *HTTPEnvelope) do(ctx context.Context, conn *domain.Connection, method, url string, body []byte, contentType string, extraHeaders http.Header) (map[string]any, ResponseMeta, error) {
	out, meta, err := e.doOnce(ctx, conn, method, url, body, contentType, extraHeaders)
	if err == nil || e.Reauth == nil || meta.StatusCode != http.StatusUnauthorized {
		return out, meta, err
	}
	if rerr := e.Reauth(ctx, conn); rerr != nil {
		// The refresh itself failed; the original 401 is the error the
		// caller classifies on.
		return out, meta, err
	}
	return e.doOnce(ctx, conn, method, url, body, contentType, extraHeaders)
}

func (e *HTTPEnvelope) doOnce(ctx context.Context, conn *domain.Connection, method, url string, body []byte, contentType string, extraHeaders http.Header) (map[string]any, ResponseMeta, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, ResponseMeta{}, &domain.Err{Kind: domain.ErrBadInput, Message: "build request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	authHeaders, err := e.Headers(ctx, conn)
	if err != nil {
		return nil, ResponseMeta{}, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "assemble auth headers", Cause: err}
	}
	for k, vs := range authHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if cid := CorrelationIDFromContext(ctx); cid != "" && req.Header.Get("X-Correlation-Id") == "" {
		req.Header.Set("X-Correlation-Id", cid)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ResponseMeta{}, &domain.Err{Kind: domain.ErrCancelled, Message: "request cancelled", Cause: ctx.Err()}
		}
		return nil, ResponseMeta{}, &domain.Err{Kind: domain.ErrNetwork, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	rl := ParseRateLimitHeaders(resp.Header, e.RateLimitKey)
	meta := ResponseMeta{StatusCode: resp.StatusCode, Headers: resp.Header, RateLimit: rl}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, meta, &domain.Err{Kind: domain.ErrNetwork, Message: "read response body", Cause: err}
	}

	if resp.StatusCode >= 300 {
		return nil, meta, ClassifyHTTPStatus(resp.StatusCode, raw, rl)
	}

	if len(raw) == 0 {
		return map[string]any{}, meta, nil
	}
	// Some list endpoints (Okta users, Jira groups) return a bare JSON
	// array; those are wrapped under "items" so every response decodes to
	// one shape.
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, meta, &domain.Err{Kind: domain.ErrServerError, Message: fmt.Sprintf("decode response: %v", err)}
	}
	switch v := decoded.(type) {
	case map[string]any:
		return v, meta, nil
	case []any:
		return map[string]any{"items": v}, meta, nil
	default:
		return map[string]any{"value": v}, meta, nil
	}
}

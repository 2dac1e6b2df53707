package connector

import (
	"fmt"
	"net/http"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// ClassifyHTTPStatus maps an HTTP response to a *domain.Err, translating
// upstream API errors into engine-level error kinds by status code.
func ClassifyHTTPStatus(status int, body []byte, rl *domain.RateLimitState) *domain.Err {
	msg := fmt.Sprintf("upstream returned %d", status)
	if len(body) > 0 && len(body) < 2048 {
		msg = string(body)
	}

	e := &domain.Err{StatusCode: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = domain.ErrAuthInvalid
	case status == http.StatusForbidden:
		e.Kind = domain.ErrForbidden
	case status == http.StatusNotFound:
		e.Kind = domain.ErrNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = domain.ErrRateLimited
		if rl != nil {
			e.Data = map[string]any{"retryAfter": rl.RetryAfter}
		}
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		e.Kind = domain.ErrBadInput
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = domain.ErrTimeout
	case status >= 400 && status < 500:
		e.Kind = domain.ErrBadInput
	case status >= 500:
		e.Kind = domain.ErrServerError
	default:
		e.Kind = domain.ErrServerError
	}
	return e
}

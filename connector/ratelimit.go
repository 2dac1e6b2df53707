package connector

import (
	"net/http"
	"strconv"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// ParseRateLimitHeaders extracts a domain.RateLimitState from response
// headers following the common "<prefix>-Limit/-Remaining/-Reset" and
// "Retry-After" conventions. Unrecognized or missing headers leave the
// corresponding field zero rather than erroring — rate limit reporting is
// best-effort, never a reason to fail a call that otherwise succeeded.
func ParseRateLimitHeaders(h http.Header, prefix string) *domain.RateLimitState {
	rl := &domain.RateLimitState{}
	seen := false

	if v := h.Get(prefix + "-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Limit = n
			seen = true
		}
	}
	if v := h.Get(prefix + "-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = n
			seen = true
		}
	}
	if v := h.Get(prefix + "-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			rl.ResetAt = time.Unix(n, 0)
			seen = true
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			rl.RetryAfter = time.Duration(secs) * time.Second
			seen = true
		} else if t, err := http.ParseTime(v); err == nil {
			rl.RetryAfter = time.Until(t)
			seen = true
		}
	}

	if !seen {
		return nil
	}
	return rl
}

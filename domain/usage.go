package domain

import "time"

// RateLimitState is the connector runtime's view of one connection's
// current rate-limit window, parsed from the upstream API's own headers
// (connector/ratelimit.go); its RetryAfter is carried into rate_limited
// errors (connector/errors.go). The scheduler's admission gate does not
// read it.
type RateLimitState struct {
	ConnectionID string    `json:"connectionId"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"resetAt"`
	RetryAfter   time.Duration `json:"retryAfter,omitempty"`
}

// Exhausted reports whether the window is known to have no remaining
// quota. A zero-value RateLimitState (never observed) is not exhausted.
func (r RateLimitState) Exhausted() bool {
	return !r.ResetAt.IsZero() && r.Remaining <= 0 && time.Now().Before(r.ResetAt)
}

// UsageCounter is the usage ledger's per-(org,user,period) accumulator.
// Period is a bucket key such as "2026-07" for a monthly counter or
// "2026-07-31T14" for an hourly one; the ledger is agnostic to its format.
type UsageCounter struct {
	OrgID               string `json:"orgId"`
	UserID              string `json:"userId,omitempty"`
	Period              string `json:"period"`
	APICalls            int64  `json:"apiCalls"`
	TokensUsed          int64  `json:"tokensUsed"`
	WorkflowRuns        int64  `json:"workflowRuns"`
	StorageBytes        int64  `json:"storageBytes"`
	EstimatedCostMicros int64  `json:"estimatedCostMicros"`
}

// DedupRecord is the dedup store's persisted mapping from a trigger event to
// the execution it produced, keyed by (triggerSlug, eventID).
type DedupRecord struct {
	TriggerSlug string    `json:"triggerSlug"`
	EventID     string    `json:"eventId"`
	ExecutionID string    `json:"executionId"`
	SeenAt      time.Time `json:"seenAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

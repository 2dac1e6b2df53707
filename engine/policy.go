package engine

import (
	"time"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

// DefaultRetryPolicy is used by nodes that declare no RetryPolicy of their
// own.
var DefaultRetryPolicy = domain.RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

// toBackoffPolicy adapts a domain.RetryPolicy (the workflow-authoring
// shape) to connector.BackoffPolicy (WithRetries' shape). A nil policy
// falls back to DefaultRetryPolicy.
func toBackoffPolicy(p *domain.RetryPolicy) connector.BackoffPolicy {
	if p == nil {
		p = &DefaultRetryPolicy
	}
	return connector.BackoffPolicy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
	}
}

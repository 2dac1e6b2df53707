// Package connector defines the contract every connector implementation
// satisfies, plus the shared HTTP plumbing (auth header assembly, retries,
// circuit breaking, rate-limit header parsing) that concrete connectors
// like anthropic, openai, slack, jira, and githubapp are built on top of.
package connector

import (
	"context"
	"net/http"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// Result is the outcome of one successful Invoke call. TokensUsed and
// CostUSD are populated by LLM-backed connectors for the usage ledger's
// token-blended accounting; other connectors leave them zero.
// StatusCode and Headers carry the upstream response envelope for callers
// that need it (e.g. webhook-style triggers echoing provider headers);
// SDK-backed connectors that never see the raw response leave them zero.
type Result struct {
	Output     map[string]any
	StatusCode int
	Headers    http.Header
	TokensUsed int
	CostUSD    float64
	RateLimit  *domain.RateLimitState
}

// Client is the contract every connector implementation satisfies:
// "invoke a named operation with arbitrary structured input."
type Client interface {
	// Slug identifies this connector, matching a ConnectorDescriptor.Slug.
	Slug() string

	// Operations lists the operations this client can Invoke. The
	// registry uses this to populate a ConnectorDescriptor's catalog
	// entry without hand-maintaining it twice.
	Operations() []domain.OperationSpec

	// Invoke runs one operation. conn supplies the credential material;
	// Invoke treats it as read-only, except that a client whose headers
	// come from auth.Manager.Headers may have a refreshed token, its expiry
	// and tenant headers installed on it. Implementations return a *domain.Err for
	// any failure so callers can classify it without type-switching on
	// library-specific error types.
	Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (Result, error)

	// TestConnection validates that conn's credentials are usable,
	// without running a real operation. Used by the UI's "test
	// connection" action (out of scope here); auth.Manager does not call
	// it.
	TestConnection(ctx context.Context, conn *domain.Connection) error
}

// DynamicOptionsProvider is an optional capability: connectors whose
// operation input schema includes a field populated from a live API call
// (e.g. "pick a Slack channel") implement this in addition to Client.
type DynamicOptionsProvider interface {
	DynamicOptions(ctx context.Context, field string, conn *domain.Connection) ([]DynamicOption, error)
}

// DynamicOption is one selectable value for a dynamic options field.
type DynamicOption struct {
	Value string
	Label string
}

// Cancelable is an optional capability a connector implements when an
// in-flight Invoke call can be usefully aborted on context cancellation.
// Absent this interface, the node executor lets the call run to
// completion even after ctx is cancelled — the default chosen for
// connectors whose upstream APIs treat a dropped TCP connection as
// "request still happened."
type Cancelable interface {
	SupportsCancel() bool
}

// unwrapper is implemented by decorators (BreakerClient) so optional
// capabilities on the wrapped client stay discoverable.
type unwrapper interface {
	Unwrap() Client
}

// AsDynamicOptions reports whether c provides dynamic options, looking
// through decorator wrappers like BreakerClient.
func AsDynamicOptions(c Client) (DynamicOptionsProvider, bool) {
	for c != nil {
		if p, ok := c.(DynamicOptionsProvider); ok {
			return p, true
		}
		u, ok := c.(unwrapper)
		if !ok {
			return nil, false
		}
		c = u.Unwrap()
	}
	return nil, false
}

// SupportsCancel reports whether c opts into having its in-flight calls
// aborted on context cancellation, looking through decorator wrappers the
// same way as AsDynamicOptions.
func SupportsCancel(c Client) bool {
	for c != nil {
		if cc, ok := c.(Cancelable); ok {
			return cc.SupportsCancel()
		}
		u, ok := c.(unwrapper)
		if !ok {
			return false
		}
		c = u.Unwrap()
	}
	return false
}

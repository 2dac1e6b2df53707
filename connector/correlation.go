package connector

import "context"

type correlationIDKey struct{}

// WithCorrelationID attaches a correlation id to ctx so HTTPEnvelope.Do can
// propagate it downstream as the X-Correlation-Id header without
// every concrete connector having to thread it through Invoke's parameters.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the id set by WithCorrelationID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

package connector

import "github.com/appscriptstudio/workflow-engine/domain"

// RequireIdempotencyKey enforces the rule for value-bearing create
// operations (payments, orders, refunds): the caller supplies the key, and
// the connector refuses to fabricate one. The same key travels unchanged on
// every retry of the operation, which is what makes a rate_limited retry
// safe against double-charging.
func RequireIdempotencyKey(input map[string]any) (string, error) {
	key, _ := input["idempotencyKey"].(string)
	if key == "" {
		return "", &domain.Err{
			Kind:    domain.ErrBadInput,
			Message: "operation creates a value-bearing object and requires a caller-supplied idempotencyKey",
			Data:    map[string]any{"missingFields": []string{"idempotencyKey"}},
		}
	}
	return key, nil
}

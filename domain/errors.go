// Package domain contains the shared data model for the workflow execution
// engine: organizations, connections, connector descriptors, workflow DAGs,
// executions, and the stable error-kind vocabulary every component agrees on.
package domain

import "errors"

// ErrKind is the stable, surface-level error vocabulary shared by the
// connector runtime, node executor, scheduler, and usage ledger. Kinds are
// intentionally coarse — enough for retry classification and user-visible
// messaging, not a replacement for the underlying error chain.
type ErrKind string

const (
	ErrBadInput           ErrKind = "bad_input"
	ErrAuthInvalid        ErrKind = "auth_invalid"
	ErrTokenRefreshFailed ErrKind = "token_refresh_failed"
	ErrForbidden          ErrKind = "forbidden"
	ErrNotFound           ErrKind = "not_found"
	ErrRateLimited        ErrKind = "rate_limited"
	ErrQuotaExceeded      ErrKind = "quota_exceeded"
	ErrSchemaViolation    ErrKind = "schema_violation"
	ErrConnectorSunset    ErrKind = "connector_sunset"
	ErrBetaNotEnabled     ErrKind = "beta_not_enabled"
	ErrUnknownOperation   ErrKind = "unknown_operation"
	ErrNetwork            ErrKind = "network"
	ErrTimeout            ErrKind = "timeout"
	ErrServerError        ErrKind = "server_error"
	ErrCancelled          ErrKind = "cancelled"
	ErrQueueTimeout       ErrKind = "queue_timeout"
	ErrDuplicateEvent     ErrKind = "duplicate_event"
)

// Retryable reports whether the Node Executor's outer retry loop
// should ever consider this kind transient. bad_input, auth_invalid,
// not_found, forbidden, and schema_violation are permanent by design.
func (k ErrKind) Retryable() bool {
	switch k {
	case ErrNetwork, ErrRateLimited, ErrServerError, ErrTokenRefreshFailed, ErrTimeout:
		return true
	default:
		return false
	}
}

// Err is the structured error type returned by connectors, the node
// executor, and the scheduler. It implements error and Unwrap so callers can
// use errors.As/errors.Is against both Err and the wrapped Cause.
type Err struct {
	Kind       ErrKind
	Message    string
	StatusCode int
	Data       map[string]any
	Cause      error
}

func (e *Err) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *Err) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Err{Kind: ErrNotFound}) to match on Kind alone.
func (e *Err) Is(target error) bool {
	var t *Err
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewErr constructs an Err with the given kind and message.
func NewErr(kind ErrKind, message string) *Err {
	return &Err{Kind: kind, Message: message}
}

// ErrMissingFields builds the bad_input error used by connector parameter
// validation: required-field enforcement occurs before any I/O.
func ErrMissingFields(fields []string) *Err {
	return &Err{
		Kind:    ErrBadInput,
		Message: "missing required fields",
		Data:    map[string]any{"missingFields": fields},
	}
}

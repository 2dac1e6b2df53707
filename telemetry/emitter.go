// Package telemetry provides the pluggable event emitter used throughout
// the engine, scheduler, and connector runtime in place of a conventional
// logging library. Every component that wants to report progress or
// lifecycle events takes an Emitter, never a *log.Logger directly.
package telemetry

import "time"

// EventType names the kind of lifecycle event being reported.
type EventType string

const (
	EventExecutionStarted  EventType = "execution_started"
	EventExecutionFinished EventType = "execution_finished"
	EventNodeStarted       EventType = "node_started"
	EventNodeRetrying      EventType = "node_retrying"
	EventNodeFinished      EventType = "node_finished"
	EventQueueAdmitted     EventType = "queue_admitted"
	EventQueueRejected     EventType = "queue_rejected"

	// EventConnectorDeprecated is the warning fired when a node invokes a
	// connector in the deprecated lifecycle stage. Deliberately distinct
	// from EventNodeStarted: the usage ledger counts apiCalls off node
	// starts, and a warning must never inflate that counter.
	EventConnectorDeprecated EventType = "connector_deprecated"
	EventTokenRefreshed    EventType = "token_refreshed"
	EventQuotaThreshold    EventType = "quota_threshold"
)

// Event is one emitted observation. Fields is free-form — callers attach
// whatever is relevant to the EventType (nodeId, attempt, err, etc).
type Event struct {
	Type        EventType
	Time        time.Time
	OrgID       string
	ExecutionID string
	NodeID      string
	Message     string
	Fields      map[string]any
}

// Emitter receives Events. Implementations must be safe for concurrent use:
// the engine emits from multiple node-executor goroutines at once.
type Emitter interface {
	Emit(Event)
}

// Multi fans a single Emit out to every emitter in the list. A nil entry is
// skipped, which lets callers build the list conditionally.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ev)
		}
	}
}

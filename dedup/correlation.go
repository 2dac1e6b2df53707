package dedup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// NewCorrelationID mints a fresh correlation id for a new Execution. Node
// invocations propagate it via the X-Correlation-Id header
// (connector.WithCorrelationID) so every downstream log line and upstream
// API call can be tied back to one trigger event.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Admitter is the trigger-ingestion gate: dedup is checked BEFORE admission,
// so no Execution is created for an event already seen within its
// TTL window.
type Admitter struct {
	Store Store
	Now   func() time.Time
}

func (a *Admitter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Admit claims (triggerSlug,eventId) for a would-be new execution id. When
// the claim is won (isNew true) the caller proceeds to submit candidateExecID
// to the Scheduler. When lost (isNew false), the returned record's
// ExecutionID is the one originally produced for this event; the caller
// returns that id to whoever ingested the trigger without starting a new run.
func (a *Admitter) Admit(ctx context.Context, triggerSlug, eventID, candidateExecID string, ttl time.Duration) (domain.DedupRecord, bool, error) {
	return a.Store.Record(ctx, triggerSlug, eventID, candidateExecID, ttl, a.now())
}

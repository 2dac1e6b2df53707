// Package dedup implements the dedup/correlation store: at-most-once
// admission for trigger events, keyed by (triggerSlug, eventId), backed by
// an in-memory map for single-process use or Redis for a shared deployment.
// Each claim is a TTL-bearing record carrying the executionId that event
// produced, so a duplicate resolves to the same execution instead of a
// bare presence check.
package dedup

import (
	"context"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// DefaultTTL is the record lifetime Record applies when called with a zero
// or negative ttl. OperationSpec.DedupTTL is not read anywhere, so callers
// pass a ttl themselves (the demo's ingest passes DefaultTTL for every
// trigger).
const DefaultTTL = 7 * 24 * time.Hour

// Store records (triggerSlug,eventId) -> executionId with a TTL. Seen
// followed by Record must compose into a single atomic claim: two
// concurrent callers racing on the same key must not both believe they are
// first.
type Store interface {
	// Seen returns the existing record for (triggerSlug,eventId), if any
	// and not yet expired.
	Seen(ctx context.Context, triggerSlug, eventID string) (domain.DedupRecord, bool, error)

	// Record atomically claims (triggerSlug,eventId) for executionId if no
	// unexpired record exists yet, returning the record that is now
	// canonical for that key (the caller's own record on a fresh claim, or
	// the pre-existing one if another caller won the race).
	Record(ctx context.Context, triggerSlug, eventID, executionID string, ttl time.Duration, now time.Time) (domain.DedupRecord, bool, error)
}

func key(triggerSlug, eventID string) string {
	return triggerSlug + ":" + eventID
}

func expired(r domain.DedupRecord, now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

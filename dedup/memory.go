package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// MemoryStore is an in-memory Store backed by a map of full records, so a
// duplicate submission can be told which execution already owns its event.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.DedupRecord
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.DedupRecord)}
}

func (s *MemoryStore) Seen(_ context.Context, triggerSlug, eventID string) (domain.DedupRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key(triggerSlug, eventID)]
	if !ok || expired(r, time.Now()) {
		return domain.DedupRecord{}, false, nil
	}
	return r, true, nil
}

func (s *MemoryStore) Record(_ context.Context, triggerSlug, eventID, executionID string, ttl time.Duration, now time.Time) (domain.DedupRecord, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(triggerSlug, eventID)
	if existing, ok := s.records[k]; ok && !expired(existing, now) {
		return existing, false, nil
	}

	rec := domain.DedupRecord{
		TriggerSlug: triggerSlug,
		EventID:     eventID,
		ExecutionID: executionID,
		SeenAt:      now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[k] = rec
	return rec, true, nil
}

package dedup

import (
	"context"
	"testing"
	"time"
)

func TestRecordFirstClaimWins(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	rec, isNew, err := s.Record(context.Background(), "slack.message", "evt-1", "exec-a", time.Hour, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Fatalf("expected first claim to win")
	}
	if rec.ExecutionID != "exec-a" {
		t.Fatalf("expected exec-a, got %s", rec.ExecutionID)
	}
}

// TestDuplicateResubmissionReturnsSameExecution implements the
// idempotent-resubmission law: same (triggerSlug,eventId) within TTL
// always returns the same executionId.
func TestDuplicateResubmissionReturnsSameExecution(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	first, isNew, err := s.Record(context.Background(), "slack.message", "evt-1", "exec-a", time.Hour, now)
	if err != nil || !isNew {
		t.Fatalf("expected first claim to succeed: %+v %v", first, err)
	}

	second, isNew, err := s.Record(context.Background(), "slack.message", "evt-1", "exec-b", time.Hour, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew {
		t.Fatalf("expected duplicate submission to lose the claim")
	}
	if second.ExecutionID != "exec-a" {
		t.Fatalf("expected duplicate to resolve to original executionId exec-a, got %s", second.ExecutionID)
	}
}

func TestRecordAfterTTLExpiryClaimsFresh(t *testing.T) {
	s := NewMemoryStore()
	start := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	if _, _, err := s.Record(context.Background(), "slack.message", "evt-1", "exec-a", time.Minute, start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := start.Add(2 * time.Minute)
	rec, isNew, err := s.Record(context.Background(), "slack.message", "evt-1", "exec-b", time.Minute, later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Fatalf("expected expired record to allow a fresh claim")
	}
	if rec.ExecutionID != "exec-b" {
		t.Fatalf("expected exec-b after TTL expiry, got %s", rec.ExecutionID)
	}
}

func TestSeenReportsExistingClaim(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.Record(context.Background(), "jira.issue", "evt-9", "exec-z", time.Hour, now)

	rec, ok, err := s.Seen(context.Background(), "jira.issue", "evt-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || rec.ExecutionID != "exec-z" {
		t.Fatalf("expected exec-z to be seen, got %+v ok=%v", rec, ok)
	}
}

func TestSeenReportsUnknownEventAsNotSeen(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.Seen(context.Background(), "jira.issue", "never-happened")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected unknown event to be unseen")
	}
}

func TestDefaultTTLAppliedWhenZero(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	rec, _, err := s.Record(context.Background(), "slack.message", "evt-1", "exec-a", 0, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("expected default TTL of %s applied, got expiry %s", DefaultTTL, rec.ExpiresAt)
	}
}

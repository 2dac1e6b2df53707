package dedup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// RedisStore is a Store backed by Redis, for deployments running more than
// one process against a shared dedup window. Atomicity comes from SETNX:
// the first caller to SET a key with NX wins the claim, matching the
// in-memory store's single-mutex guarantee without needing a distributed
// lock.
type RedisStore struct {
	Client *redis.Client
	Prefix string // key prefix, default "dedup:"
}

// NewRedisStore wraps client with the default key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, Prefix: "dedup:"}
}

func (s *RedisStore) prefix() string {
	if s.Prefix == "" {
		return "dedup:"
	}
	return s.Prefix
}

func (s *RedisStore) redisKey(triggerSlug, eventID string) string {
	return s.prefix() + key(triggerSlug, eventID)
}

func (s *RedisStore) Seen(ctx context.Context, triggerSlug, eventID string) (domain.DedupRecord, bool, error) {
	raw, err := s.Client.Get(ctx, s.redisKey(triggerSlug, eventID)).Bytes()
	if err == redis.Nil {
		return domain.DedupRecord{}, false, nil
	}
	if err != nil {
		return domain.DedupRecord{}, false, err
	}
	var rec domain.DedupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.DedupRecord{}, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Record(ctx context.Context, triggerSlug, eventID, executionID string, ttl time.Duration, now time.Time) (domain.DedupRecord, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	rec := domain.DedupRecord{
		TriggerSlug: triggerSlug,
		EventID:     eventID,
		ExecutionID: executionID,
		SeenAt:      now,
		ExpiresAt:   now.Add(ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.DedupRecord{}, false, err
	}

	k := s.redisKey(triggerSlug, eventID)
	claimed, err := s.Client.SetNX(ctx, k, raw, ttl).Result()
	if err != nil {
		return domain.DedupRecord{}, false, err
	}
	if claimed {
		return rec, true, nil
	}

	existing, seen, err := s.Seen(ctx, triggerSlug, eventID)
	if err != nil {
		return domain.DedupRecord{}, false, err
	}
	if !seen {
		// Lost the SETNX race against an entry that has since expired or
		// was never readable; treat as a fresh claim rather than erroring.
		return rec, true, nil
	}
	return existing, false, nil
}

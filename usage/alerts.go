package usage

import (
	"sync"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/telemetry"
)

// QuotaType names one of the ledger's metered dimensions, matching
// UsageCounter's field names.
type QuotaType string

const (
	QuotaAPICalls     QuotaType = "apiCalls"
	QuotaTokensUsed   QuotaType = "tokensUsed"
	QuotaWorkflowRuns QuotaType = "workflowRuns"
)

// AlertKind is the severity of a threshold crossing.
type AlertKind string

const (
	AlertApproachingLimit AlertKind = "approaching_limit"
	AlertLimitExceeded    AlertKind = "limit_exceeded"
)

// DefaultThresholdPct is the "approaching limit" trigger ratio.
const DefaultThresholdPct = 80.0

// DefaultBucketWindow coalesces duplicate alerts for the same
// (userId,quotaType) within this window to the latest.
const DefaultBucketWindow = time.Hour

// LimitsFunc resolves the per-quotaType limit for (orgID,userID). A missing
// or zero entry means "no limit configured" and is never alerted on.
type LimitsFunc func(orgID, userID string) map[QuotaType]int64

// AlertSweeper periodically compares ledger counters against configured
// limits and emits threshold-crossing events, one comparison per quotaType
// against caller-supplied limits.
type AlertSweeper struct {
	Emitter      telemetry.Emitter
	ThresholdPct float64
	BucketWindow time.Duration
	Now          func() time.Time

	mu   sync.Mutex
	seen map[string]AlertKind // (userId,quotaType,bucket) -> last alert kind emitted
}

// NewAlertSweeper builds a sweeper with the default threshold and bucket
// window.
func NewAlertSweeper(emitter telemetry.Emitter) *AlertSweeper {
	return &AlertSweeper{
		Emitter:      emitter,
		ThresholdPct: DefaultThresholdPct,
		BucketWindow: DefaultBucketWindow,
		seen:         make(map[string]AlertKind),
	}
}

func (s *AlertSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AlertSweeper) bucket(t time.Time) string {
	window := s.BucketWindow
	if window <= 0 {
		window = DefaultBucketWindow
	}
	return t.UTC().Truncate(window).Format(time.RFC3339)
}

// Sweep evaluates counters against limits and emits one event per quotaType
// that crosses a threshold, coalescing duplicates within the bucket window.
func (s *AlertSweeper) Sweep(counters []domain.UsageCounter, limits LimitsFunc) {
	now := s.now()
	for _, c := range counters {
		limit := limits(c.OrgID, c.UserID)
		s.evaluate(c, QuotaAPICalls, c.APICalls, limit[QuotaAPICalls], now)
		s.evaluate(c, QuotaTokensUsed, c.TokensUsed, limit[QuotaTokensUsed], now)
		s.evaluate(c, QuotaWorkflowRuns, c.WorkflowRuns, limit[QuotaWorkflowRuns], now)
	}
}

func (s *AlertSweeper) evaluate(c domain.UsageCounter, quotaType QuotaType, current, limit int64, now time.Time) {
	if limit <= 0 {
		return
	}

	pct := float64(current) / float64(limit) * 100
	var kind AlertKind
	switch {
	case current >= limit:
		kind = AlertLimitExceeded
	case pct >= s.thresholdPct():
		kind = AlertApproachingLimit
	default:
		return
	}

	// Duplicate alerts for the same (userId,quotaType,bucket) coalesce to
	// the latest: a repeat at the same severity is swallowed, but an
	// escalation (approaching -> exceeded) within the same bucket still
	// fires since it is new information, not a duplicate.
	bucketKey := c.UserID + "|" + string(quotaType) + "|" + s.bucket(now)

	s.mu.Lock()
	prior, already := s.seen[bucketKey]
	if already && prior == kind {
		s.mu.Unlock()
		return
	}
	s.seen[bucketKey] = kind
	s.mu.Unlock()

	if s.Emitter == nil {
		return
	}
	s.Emitter.Emit(telemetry.Event{
		Type:    telemetry.EventQuotaThreshold,
		Time:    now,
		OrgID:   c.OrgID,
		Message: string(kind),
		Fields: map[string]any{
			"userId":    c.UserID,
			"quotaType": string(quotaType),
			"current":   current,
			"limit":     limit,
			"kind":      string(kind),
		},
	})
}

func (s *AlertSweeper) thresholdPct() float64 {
	if s.ThresholdPct <= 0 {
		return DefaultThresholdPct
	}
	return s.ThresholdPct
}

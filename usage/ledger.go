package usage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/store"
	"github.com/appscriptstudio/workflow-engine/telemetry"
)

// DefaultPeriodFunc buckets by calendar month UTC, the default used
// when an Organization has no billing-anchor override.
func DefaultPeriodFunc(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Ledger is the usage and quota ledger. It implements telemetry.Emitter
// so it can be registered directly alongside the log/OTel emitters
// (telemetry.Multi), subscribing to admission and node lifecycle events
// the same way any other telemetry subscriber would.
type Ledger struct {
	Store      store.Store
	Tracker    *CostTracker
	PeriodFunc func(time.Time) string
	Now        func() time.Time

	mu       sync.Mutex
	counters map[string]*domain.UsageCounter

	apiCalls   *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	costMicros *prometheus.CounterVec
}

// NewLedger builds a Ledger backed by st. registerer may be nil, in which
// case prometheus.DefaultRegisterer is used.
func NewLedger(st store.Store, tracker *CostTracker, registerer prometheus.Registerer) *Ledger {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Ledger{
		Store:      st,
		Tracker:    tracker,
		PeriodFunc: DefaultPeriodFunc,
		counters:   make(map[string]*domain.UsageCounter),
		apiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "usage_api_calls_total",
			Help:      "Cumulative connector invocations recorded by the usage ledger",
		}, []string{"org_id", "user_id", "quota_type"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "usage_tokens_total",
			Help:      "Cumulative tokens consumed by LLM-backed connector invocations",
		}, []string{"org_id", "user_id", "quota_type"}),
		costMicros: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "usage_cost_micros_total",
			Help:      "Cumulative estimated cost in micros (1e-6 currency units)",
		}, []string{"org_id", "user_id", "quota_type"}),
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Ledger) period() func(time.Time) string {
	if l.PeriodFunc != nil {
		return l.PeriodFunc
	}
	return DefaultPeriodFunc
}

// Emit dispatches a telemetry.Event to the matching ingest handler.
// Unrecognized event types are ignored, letting the Ledger sit in a
// telemetry.Multi alongside emitters that care about other event kinds.
func (l *Ledger) Emit(ev telemetry.Event) {
	switch ev.Type {
	case telemetry.EventQueueAdmitted:
		l.OnUsageStarted(ev)
	case telemetry.EventNodeStarted:
		l.OnNodeStarted(ev)
	case telemetry.EventNodeFinished:
		l.OnNodeFinished(ev)
	}
}

// OnUsageStarted counts one workflow run at admission time: the scheduler
// emits EventQueueAdmitted only when a submission actually wins a
// concurrency slot, so rejected and queued-then-rejected submissions never
// increment the counter, while every admitted run counts exactly once even
// if it later fails or is cancelled.
func (l *Ledger) OnUsageStarted(ev telemetry.Event) {
	l.increment(ev.OrgID, "", func(c *domain.UsageCounter) {
		c.WorkflowRuns++
	})
}

// OnNodeStarted records one API call against the ledger. The ledger has no
// per-execution user identity to bucket on (the Execution's trigger carries
// no userId through to node-level events), so userId is left empty and
// counters accumulate at the organization level; callers that need
// per-user attribution can wrap Emit with their own userId lookup.
func (l *Ledger) OnNodeStarted(ev telemetry.Event) {
	l.increment(ev.OrgID, "", func(c *domain.UsageCounter) {
		c.APICalls++
	})
	l.apiCalls.WithLabelValues(ev.OrgID, "", "apiCalls").Inc()
}

// OnNodeFinished folds a node's token/cost outcome into the running
// counter. costUsd from connector.Result is converted to micros here so the
// ledger's own currency unit (estimatedCostMicros) never depends on a
// connector's floating-point rounding.
func (l *Ledger) OnNodeFinished(ev telemetry.Event) {
	tokensUsed, _ := ev.Fields["tokensUsed"].(int)
	costUSD, _ := ev.Fields["costUsd"].(float64)
	costMicros := int64(costUSD * 1_000_000)

	l.increment(ev.OrgID, "", func(c *domain.UsageCounter) {
		c.TokensUsed += int64(tokensUsed)
		c.EstimatedCostMicros += costMicros
	})
	if tokensUsed > 0 {
		l.tokens.WithLabelValues(ev.OrgID, "", "tokensUsed").Add(float64(tokensUsed))
	}
	if costMicros > 0 {
		l.costMicros.WithLabelValues(ev.OrgID, "", "estimatedCostMicros").Add(float64(costMicros))
	}
}

// increment applies mutate to the (orgID,userID,current-period) counter,
// creating it on first use, then persists the updated value. Mutation is
// single-writer serialized through l.mu, generalized here to
// per-(org,user,period) since that is the ledger's actual bucket key.
func (l *Ledger) increment(orgID, userID string, mutate func(*domain.UsageCounter)) {
	period := l.period()(l.now())
	key := counterKey(orgID, userID, period)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		c = l.load(key, orgID, userID, period)
		l.counters[key] = c
	}
	mutate(c)
	l.persist(key, c)
}

func (l *Ledger) load(key, orgID, userID, period string) *domain.UsageCounter {
	if l.Store == nil {
		return &domain.UsageCounter{OrgID: orgID, UserID: userID, Period: period}
	}
	raw, err := l.Store.Get(context.Background(), key)
	if err != nil {
		return &domain.UsageCounter{OrgID: orgID, UserID: userID, Period: period}
	}
	var c domain.UsageCounter
	if err := json.Unmarshal(raw, &c); err != nil {
		return &domain.UsageCounter{OrgID: orgID, UserID: userID, Period: period}
	}
	return &c
}

func (l *Ledger) persist(key string, c *domain.UsageCounter) {
	if l.Store == nil {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = l.Store.Put(context.Background(), key, raw)
}

// Counter returns a copy of the current (orgID,userID,period) counter, or a
// zero-value counter if nothing has been recorded yet.
func (l *Ledger) Counter(orgID, userID, period string) domain.UsageCounter {
	key := counterKey(orgID, userID, period)

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.counters[key]; ok {
		return *c
	}
	return *l.load(key, orgID, userID, period)
}

func counterKey(orgID, userID, period string) string {
	return "usage/counter:" + orgID + ":" + userID + ":" + period
}

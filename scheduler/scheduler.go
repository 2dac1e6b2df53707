// Package scheduler implements the execution scheduler and quota gate:
// per-organization admission under {maxConcurrent, maxPerMinute,
// maxPerMonth}, bounded FIFO queueing when only concurrency blocks, a
// worker pool dispatching admitted submissions to the Graph Runner, and
// durable-side-log recovery on restart.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/store"
	"github.com/appscriptstudio/workflow-engine/telemetry"
)

// DefaultInterruptWindow is how stale a side-log heartbeat may be before
// Init() treats a non-terminal Execution found on restart as interrupted.
const DefaultInterruptWindow = 2 * time.Minute

// DefaultQueueWaitTimeout bounds how long a concurrency-blocked submission
// waits in queue before failing with queue_timeout.
const DefaultQueueWaitTimeout = 10 * time.Minute

// TriggerEvent is the inbound payload a Submit call carries through to
// ExecuteFunc; the webhook ingestion layer (out of scope here) builds one
// per inbound request after the dedup check.
type TriggerEvent struct {
	EventID       string
	CorrelationID string
	Payload       map[string]any
}

// ExecuteFunc runs exec's workflow to a terminal status. Scheduler calls
// it once admission succeeds; the callback owns invoking the Graph Runner
// and persisting NodeExecutions. Scheduler only needs the terminal
// Execution back, to update its side-log and release the concurrency
// slot.
type ExecuteFunc func(ctx context.Context, exec domain.Execution, trigger TriggerEvent) (domain.Execution, error)

// LimitsResolver supplies an organization's current quota configuration.
// Implementations typically read through store.Store or a config cache.
type LimitsResolver func(orgID string) OrgLimits

type pendingSubmission struct {
	ctx    context.Context
	exec   domain.Execution
	trig   TriggerEvent
	result chan error
}

// Scheduler admits, queues, dispatches, and cancels Executions per
// organization.
type Scheduler struct {
	mu     sync.Mutex
	gates  map[string]*orgGate
	queues map[string]chan pendingSubmission
	pacers map[string]*rate.Limiter
	cancel map[string]context.CancelFunc

	limitsFor LimitsResolver
	exec      ExecuteFunc
	store     store.Store
	emitter   telemetry.Emitter

	interruptWindow  time.Duration
	queueWaitTimeout time.Duration
	now              func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. limitsFor resolves an org's current quota
// config; execFn runs an admitted Execution; st is the durable side-log
// (use store.NewMemoryStore() for tests/demo).
func New(limitsFor LimitsResolver, execFn ExecuteFunc, st store.Store, emitter telemetry.Emitter) *Scheduler {
	return &Scheduler{
		gates:            make(map[string]*orgGate),
		queues:           make(map[string]chan pendingSubmission),
		pacers:           make(map[string]*rate.Limiter),
		cancel:           make(map[string]context.CancelFunc),
		limitsFor:        limitsFor,
		exec:             execFn,
		store:            st,
		emitter:          emitter,
		interruptWindow:  DefaultInterruptWindow,
		queueWaitTimeout: DefaultQueueWaitTimeout,
		now:              time.Now,
		stopCh:           make(chan struct{}),
	}
}

func (s *Scheduler) sideLogKey(executionID string) string {
	return "scheduler/execution:" + executionID
}

// Init reconstructs per-org concurrent counts from non-terminal
// Executions found in the side-log: an Execution
// whose heartbeat is older than interruptWindow is marked
// failed("interrupted") and persisted; one with a recent heartbeat is
// assumed still running elsewhere and counted against its org's
// concurrency.
func (s *Scheduler) Init(ctx context.Context) error {
	items, _, err := s.store.List(ctx, "scheduler/execution:", "", 0)
	if err != nil {
		return fmt.Errorf("scheduler: list side-log: %w", err)
	}

	now := s.now()
	for _, kv := range items {
		var exec domain.Execution
		if err := json.Unmarshal(kv.Value, &exec); err != nil {
			continue
		}
		if exec.Status.Terminal() {
			continue
		}
		if now.Sub(exec.HeartbeatAt) > s.interruptWindow {
			exec.Status = domain.ExecFailed
			exec.ErrorSummary = "interrupted"
			finished := now
			exec.FinishedAt = &finished
			s.persist(ctx, exec)
			continue
		}
		s.gateFor(exec.OrgID).tryAdmit(now) // reconstruct the concurrency slot it already holds
	}
	return nil
}

func (s *Scheduler) gateFor(orgID string) *orgGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[orgID]
	if !ok {
		g = newOrgGate(s.limitsFor(orgID))
		s.gates[orgID] = g
		if g.limits.QueueDepth > 0 {
			s.queues[orgID] = make(chan pendingSubmission, g.limits.QueueDepth)
			rps := float64(g.limits.MaxPerMinute) / 60.0
			if rps <= 0 {
				rps = 1
			}
			s.pacers[orgID] = rate.NewLimiter(rate.Limit(rps), 1)
			s.wg.Add(1)
			go s.pump(orgID)
		}
	}
	return g
}

// Submit admits, or queues, one new Execution for orgID's workflowID.
// It returns the new executionId, a *QuotaError when rate/budget is
// exhausted (never queued) or concurrency blocks and the org's queue is
// absent or full, or a *domain.Err of kind queue_timeout when a queued
// submission waits longer than the queue wait timeout.
func (s *Scheduler) Submit(ctx context.Context, orgID, workflowID string, trig TriggerEvent) (string, error) {
	return s.SubmitWithID(ctx, uuid.NewString(), orgID, workflowID, trig)
}

// SubmitWithID is Submit for callers that must choose the execution id
// before admission, namely trigger ingestion performing its dedup check
// first. The dedup store's claimed candidate id becomes the
// Execution's id only if admission actually succeeds; a quota rejection
// here leaves the dedup claim in place, so the caller must not reuse
// executionID for a different event.
func (s *Scheduler) SubmitWithID(ctx context.Context, executionID, orgID, workflowID string, trig TriggerEvent) (string, error) {
	gate := s.gateFor(orgID)
	now := s.now()

	exec := domain.Execution{
		ID:             executionID,
		OrgID:          orgID,
		WorkflowID:     workflowID,
		Status:         domain.ExecQueued,
		IdempotencyKey: trig.EventID,
		TriggerEventID: trig.EventID,
		CorrelationID:  trig.CorrelationID,
		StartedAt:      now,
		HeartbeatAt:    now,
	}

	switch gate.tryAdmit(now) {
	case rejectedRate:
		return "", &QuotaError{Kind: RateExceeded, OrgID: orgID}
	case rejectedBudget:
		return "", &QuotaError{Kind: BudgetExceeded, OrgID: orgID}
	case admitted:
		s.emit(telemetry.EventQueueAdmitted, exec)
		s.persist(ctx, exec)
		s.dispatch(ctx, gate, exec, trig)
		return executionID, nil
	}

	// Concurrency-only block: queue instead of rejecting, but only when
	// the org has a configured queue depth. With no queue
	// configured there is nowhere to hold the submission, so it is
	// rejected the same as a rate/budget failure.
	q, hasQueue := s.queues[orgID]
	if !hasQueue {
		return "", &QuotaError{Kind: ConcurrentExceeded, OrgID: orgID}
	}
	// Queued is not admitted: the EventQueueAdmitted usage signal fires
	// only once the pump actually wins a concurrency slot for this
	// submission, so a queued-then-rejected submission never counts.
	sub := pendingSubmission{ctx: ctx, exec: exec, trig: trig, result: make(chan error, 1)}
	select {
	case q <- sub:
		s.persist(ctx, exec)
	default:
		return "", &QuotaError{Kind: ConcurrentExceeded, OrgID: orgID}
	}

	select {
	case err := <-sub.result:
		if err != nil {
			return "", err
		}
		return executionID, nil
	case <-time.After(s.queueWaitTimeout):
		return "", &domain.Err{Kind: domain.ErrQueueTimeout, Message: "admission queue wait timeout"}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// pump is the per-org dispatch loop: it pulls queued submissions and
// waits, pacing itself with the org's rate limiter, until concurrency
// admits them.
func (s *Scheduler) pump(orgID string) {
	defer s.wg.Done()
	gate := s.gateFor(orgID)
	q := s.queues[orgID]
	pacer := s.pacers[orgID]

	for {
		select {
		case <-s.stopCh:
			return
		case sub := <-q:
			s.admitQueued(orgID, sub, gate, pacer)
		}
	}
}

// admitQueued re-attempts admission for one queued submission until it is
// admitted, its rate/budget gate now rejects it, its context is done, or
// the scheduler is shutting down.
func (s *Scheduler) admitQueued(orgID string, sub pendingSubmission, gate *orgGate, pacer *rate.Limiter) {
	for {
		if err := pacer.Wait(sub.ctx); err != nil {
			sub.result <- err
			return
		}
		switch gate.tryAdmit(s.now()) {
		case admitted:
			sub.result <- nil
			s.emit(telemetry.EventQueueAdmitted, sub.exec)
			s.dispatch(sub.ctx, gate, sub.exec, sub.trig)
			return
		// The window/budget can tighten between the original Submit call
		// and now; surface the failure rather than spin forever.
		case rejectedRate:
			sub.result <- &QuotaError{Kind: RateExceeded, OrgID: orgID}
			return
		case rejectedBudget:
			sub.result <- &QuotaError{Kind: BudgetExceeded, OrgID: orgID}
			return
		default:
			// still blocked on concurrency; brief backoff then retry
			select {
			case <-time.After(50 * time.Millisecond):
			case <-sub.ctx.Done():
				sub.result <- sub.ctx.Err()
				return
			case <-s.stopCh:
				return
			}
		}
	}
}

// dispatch runs exec via ExecuteFunc in its own goroutine, releasing the
// org's concurrency slot and updating the side-log on completion.
func (s *Scheduler) dispatch(ctx context.Context, gate *orgGate, exec domain.Execution, trig TriggerEvent) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel[exec.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer gate.release()
		defer func() {
			s.mu.Lock()
			delete(s.cancel, exec.ID)
			s.mu.Unlock()
		}()
		defer cancel()

		exec.Status = domain.ExecRunning
		exec.HeartbeatAt = s.now()
		s.persist(ctx, exec)

		final, err := s.exec(runCtx, exec, trig)
		if err != nil {
			final = exec
			final.Status = domain.ExecFailed
			final.ErrorSummary = err.Error()
		}
		finished := s.now()
		final.FinishedAt = &finished
		final.HeartbeatAt = finished
		s.persist(ctx, final)
		s.emit(telemetry.EventExecutionFinished, final)
	}()
}

// Cancel sets the cancellation signal for executionID, observed by the
// Graph Runner at its next node boundary. In-flight HTTP calls
// are allowed to complete per the module's chosen default.
func (s *Scheduler) Cancel(executionID string) error {
	s.mu.Lock()
	cancel, ok := s.cancel[executionID]
	s.mu.Unlock()
	if !ok {
		return &domain.Err{Kind: domain.ErrNotFound, Message: "no running execution " + executionID}
	}
	cancel()
	return nil
}

// Status reads back executionID's side-log record.
func (s *Scheduler) Status(ctx context.Context, executionID string) (domain.Execution, error) {
	raw, err := s.store.Get(ctx, s.sideLogKey(executionID))
	if err != nil {
		return domain.Execution{}, &domain.Err{Kind: domain.ErrNotFound, Message: "execution not found", Cause: err}
	}
	var exec domain.Execution
	if err := json.Unmarshal(raw, &exec); err != nil {
		return domain.Execution{}, err
	}
	return exec, nil
}

// Shutdown stops all per-org pumps and waits up to deadline for
// in-flight executions to finish.
func (s *Scheduler) Shutdown(deadline time.Duration) error {
	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("scheduler: shutdown deadline exceeded")
	}
}

func (s *Scheduler) persist(ctx context.Context, exec domain.Execution) {
	b, err := json.Marshal(exec)
	if err != nil {
		return
	}
	_ = s.store.Put(ctx, s.sideLogKey(exec.ID), b)
}

func (s *Scheduler) emit(t telemetry.EventType, exec domain.Execution) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(telemetry.Event{Type: t, Time: s.now(), OrgID: exec.OrgID, ExecutionID: exec.ID})
}

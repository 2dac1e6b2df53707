package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/registry"
	"github.com/appscriptstudio/workflow-engine/telemetry"
)

func newTestExecutor(client *fakeClient, reg *registry.Registry) *NodeExecutor {
	disp := connector.NewDispatcher()
	disp.Register(client)
	return &NodeExecutor{
		Dispatcher:  disp,
		Registry:    reg,
		Connections: fakeConnections{},
		Emitter:     telemetry.NullEmitter{},
	}
}

// TestRetryOn429ThenSuccess: the first attempt returns rate_limited with
// a Retry-After hint, the second succeeds; NodeExecution.Attempt lands on
// 2 and the elapsed backoff honors the hint.
func TestRetryOn429ThenSuccess(t *testing.T) {
	var calls int32
	client := &fakeClient{slug: "svc", outcome: map[string]func() (connector.Result, error){
		"op": func() (connector.Result, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return connector.Result{}, &domain.Err{
					Kind:    domain.ErrRateLimited,
					Message: "slow down",
					Data:    map[string]any{"retryAfter": 50 * time.Millisecond},
				}
			}
			return connector.Result{Output: map[string]any{"ok": true}}, nil
		},
	}}

	reg := registry.New()
	reg.Register(domain.ConnectorDescriptor{Slug: "svc", LifecycleStage: domain.StageStable})
	exec := newTestExecutor(client, reg)

	node := domain.Node{
		ID: "n1", ConnectorSlug: "svc", Operation: "op",
		RetryPolicy: &domain.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second},
	}

	start := time.Now()
	rec := exec.Execute(context.Background(), domain.Execution{ID: "e1", OrgID: "org"}, node, nil)
	elapsed := time.Since(start)

	if rec.Status != domain.NodeSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", rec.Status, rec.ErrorSummary)
	}
	if rec.Attempt != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.Attempt)
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected backoff to honor Retry-After hint, elapsed %v", elapsed)
	}
}

// TestPermanentFailureDoesNotRetry: bad_input is permanent, so the
// connector is invoked exactly once no matter the retry policy.
func TestPermanentFailureDoesNotRetry(t *testing.T) {
	var calls int32
	client := &fakeClient{slug: "svc", outcome: map[string]func() (connector.Result, error){
		"op": func() (connector.Result, error) {
			atomic.AddInt32(&calls, 1)
			return connector.Result{}, &domain.Err{Kind: domain.ErrBadInput, Message: "missing field"}
		},
	}}

	reg := registry.New()
	reg.Register(domain.ConnectorDescriptor{Slug: "svc", LifecycleStage: domain.StageStable})
	exec := newTestExecutor(client, reg)

	node := domain.Node{
		ID: "n1", ConnectorSlug: "svc", Operation: "op",
		RetryPolicy: &domain.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second},
	}
	rec := exec.Execute(context.Background(), domain.Execution{ID: "e1", OrgID: "org"}, node, nil)

	if rec.Status != domain.NodeFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if rec.Error == nil || rec.Error.Kind != domain.ErrBadInput {
		t.Fatalf("expected bad_input, got %+v", rec.Error)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one invocation, got %d", n)
	}
}

// TestRetriesNeverExceedMaxAttempts: the connector is invoked exactly
// maxAttempts times, never more.
func TestRetriesNeverExceedMaxAttempts(t *testing.T) {
	var calls int32
	client := &fakeClient{slug: "svc", outcome: map[string]func() (connector.Result, error){
		"op": func() (connector.Result, error) {
			atomic.AddInt32(&calls, 1)
			return connector.Result{}, &domain.Err{Kind: domain.ErrServerError, Message: "boom"}
		},
	}}

	reg := registry.New()
	reg.Register(domain.ConnectorDescriptor{Slug: "svc", LifecycleStage: domain.StageStable})
	exec := newTestExecutor(client, reg)

	node := domain.Node{
		ID: "n1", ConnectorSlug: "svc", Operation: "op",
		RetryPolicy: &domain.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	rec := exec.Execute(context.Background(), domain.Execution{ID: "e1", OrgID: "org"}, node, nil)

	if rec.Status != domain.NodeFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected exactly maxAttempts invocations, got %d", n)
	}
	if rec.Attempt != 3 {
		t.Fatalf("expected Attempt=3, got %d", rec.Attempt)
	}
}

// TestBetaConnectorRequiresOptIn: a beta-stage connector fails with
// beta_not_enabled unless the org's opt-in reports true.
func TestBetaConnectorRequiresOptIn(t *testing.T) {
	client := &fakeClient{slug: "newthing"}
	reg := registry.New()
	reg.Register(domain.ConnectorDescriptor{Slug: "newthing", LifecycleStage: domain.StageBeta})

	exec := newTestExecutor(client, reg)
	node := domain.Node{ID: "n1", ConnectorSlug: "newthing", Operation: "op"}

	rec := exec.Execute(context.Background(), domain.Execution{ID: "e1", OrgID: "org"}, node, nil)
	if rec.Status != domain.NodeFailed || rec.Error == nil || rec.Error.Kind != domain.ErrBetaNotEnabled {
		t.Fatalf("expected beta_not_enabled failure, got %+v", rec.Error)
	}

	exec.Beta = allowAllBeta{}
	rec = exec.Execute(context.Background(), domain.Execution{ID: "e2", OrgID: "org"}, node, nil)
	if rec.Status != domain.NodeSucceeded {
		t.Fatalf("expected success once opted in, got %s (%s)", rec.Status, rec.ErrorSummary)
	}
}

type allowAllBeta struct{}

func (allowAllBeta) BetaEnabled(orgID, connectorSlug string) bool { return true }

func TestDefaultRetryPolicyApplied(t *testing.T) {
	p := toBackoffPolicy(nil)
	if p.MaxAttempts != DefaultRetryPolicy.MaxAttempts || p.BaseDelay != DefaultRetryPolicy.BaseDelay || p.MaxDelay != DefaultRetryPolicy.MaxDelay {
		t.Fatalf("nil policy should fall back to DefaultRetryPolicy, got %+v", p)
	}
	custom := &domain.RetryPolicy{MaxAttempts: 7, BaseDelay: time.Second, MaxDelay: time.Minute}
	p = toBackoffPolicy(custom)
	if p.MaxAttempts != 7 {
		t.Fatalf("custom policy not carried through, got %+v", p)
	}
}

// recordingEmitter captures every event for assertion, counting by type.
type recordingEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingEmitter) Emit(ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) countByType(t telemetry.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// TestDeprecatedConnectorWarnsWithoutDoubleCountingStart: invoking a
// deprecated connector fires the deprecation warning as its own event
// type, so exactly one node_started reaches subscribers like the usage
// ledger, which counts apiCalls off it.
func TestDeprecatedConnectorWarnsWithoutDoubleCountingStart(t *testing.T) {
	client := &fakeClient{slug: "oldthing"}
	reg := registry.New()
	reg.Register(domain.ConnectorDescriptor{Slug: "oldthing", LifecycleStage: domain.StageDeprecated})

	rec := &recordingEmitter{}
	exec := newTestExecutor(client, reg)
	exec.Emitter = rec

	node := domain.Node{ID: "n1", ConnectorSlug: "oldthing", Operation: "op"}
	result := exec.Execute(context.Background(), domain.Execution{ID: "e1", OrgID: "org"}, node, nil)
	if result.Status != domain.NodeSucceeded {
		t.Fatalf("expected deprecated connector to still execute, got %s (%s)", result.Status, result.ErrorSummary)
	}

	if n := rec.countByType(telemetry.EventConnectorDeprecated); n != 1 {
		t.Fatalf("expected 1 deprecation warning, got %d", n)
	}
	if n := rec.countByType(telemetry.EventNodeStarted); n != 1 {
		t.Fatalf("expected exactly 1 node_started, got %d", n)
	}
}

// ctxFakeClient exposes the invoke context so cancellation-propagation
// behavior can be asserted, opting into Cancelable per test.
type ctxFakeClient struct {
	slug       string
	cancelable bool
	invoke     func(ctx context.Context) (connector.Result, error)
}

func (c *ctxFakeClient) Slug() string                       { return c.slug }
func (c *ctxFakeClient) Operations() []domain.OperationSpec { return nil }
func (c *ctxFakeClient) SupportsCancel() bool               { return c.cancelable }
func (c *ctxFakeClient) TestConnection(ctx context.Context, conn *domain.Connection) error {
	return nil
}
func (c *ctxFakeClient) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	return c.invoke(ctx)
}

func newCtxTestExecutor(client *ctxFakeClient) *NodeExecutor {
	reg := registry.New()
	reg.Register(domain.ConnectorDescriptor{Slug: client.slug, LifecycleStage: domain.StageStable})
	disp := connector.NewDispatcher()
	disp.Register(client)
	return &NodeExecutor{
		Dispatcher:  disp,
		Registry:    reg,
		Connections: fakeConnections{},
		Emitter:     telemetry.NullEmitter{},
	}
}

// TestCancellationDetachedForNonCancelableConnector: cancelling the run
// mid-invoke must not abort a connector that has not opted into cancel —
// the in-flight call runs to completion and still succeeds.
func TestCancellationDetachedForNonCancelableConnector(t *testing.T) {
	client := &ctxFakeClient{slug: "svc", invoke: func(ctx context.Context) (connector.Result, error) {
		select {
		case <-ctx.Done():
			return connector.Result{}, &domain.Err{Kind: domain.ErrCancelled, Message: "aborted", Cause: ctx.Err()}
		case <-time.After(60 * time.Millisecond):
			return connector.Result{Output: map[string]any{"ok": true}}, nil
		}
	}}
	exec := newCtxTestExecutor(client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	rec := exec.Execute(ctx, domain.Execution{ID: "e1", OrgID: "org"}, domain.Node{ID: "n1", ConnectorSlug: "svc", Operation: "op"}, nil)
	if rec.Status != domain.NodeSucceeded {
		t.Fatalf("expected in-flight call to complete despite cancellation, got %s (%s)", rec.Status, rec.ErrorSummary)
	}
}

// TestCancellationAbortsCancelableConnector: a connector reporting
// SupportsCancel true observes the cancellation and aborts in flight.
func TestCancellationAbortsCancelableConnector(t *testing.T) {
	client := &ctxFakeClient{slug: "svc", cancelable: true, invoke: func(ctx context.Context) (connector.Result, error) {
		select {
		case <-ctx.Done():
			return connector.Result{}, &domain.Err{Kind: domain.ErrCancelled, Message: "aborted", Cause: ctx.Err()}
		case <-time.After(60 * time.Millisecond):
			return connector.Result{Output: map[string]any{"ok": true}}, nil
		}
	}}
	exec := newCtxTestExecutor(client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	rec := exec.Execute(ctx, domain.Execution{ID: "e1", OrgID: "org"}, domain.Node{ID: "n1", ConnectorSlug: "svc", Operation: "op"}, nil)
	if rec.Status != domain.NodeFailed || rec.Error == nil || rec.Error.Kind != domain.ErrCancelled {
		t.Fatalf("expected cancelled failure for cancel-capable connector, got %s (%+v)", rec.Status, rec.Error)
	}
}

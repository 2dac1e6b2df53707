package engine

import (
	"context"
	"errors"
	"time"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/registry"
	"github.com/appscriptstudio/workflow-engine/telemetry"
)

// ConnectionResolver looks up the Connection a node's connectorSlug+orgId
// resolve to at run time. Callers typically back this with store.Store.
type ConnectionResolver interface {
	Resolve(ctx context.Context, orgID, connectorSlug string) (*domain.Connection, error)
}

// BetaOptIns reports whether orgID has opted an organization into a beta
// connector.
type BetaOptIns interface {
	BetaEnabled(orgID, connectorSlug string) bool
}

// NodeExecutor runs a single node: it takes the node's inputs already
// bound by the Runner (BindInput), checks registry visibility, looks up
// the org's Connection, and invokes
// the Connector Client's operation dispatch.
type NodeExecutor struct {
	Dispatcher  *connector.Dispatcher
	Registry    *registry.Registry
	Connections ConnectionResolver
	Beta        BetaOptIns
	Emitter     telemetry.Emitter
	Now         func() time.Time // overridable for tests; defaults to time.Now
}

func (e *NodeExecutor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Execute runs one node to completion (including its own retry loop) and
// returns the terminal NodeExecution record. It never panics on a
// connector error — every failure is captured in the returned record's
// Error/ErrorSummary fields.
func (e *NodeExecutor) Execute(ctx context.Context, exec domain.Execution, node domain.Node, input map[string]any) domain.NodeExecution {
	started := e.now()
	rec := domain.NodeExecution{
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		Status:      domain.NodeRunning,
		Input:       input,
		StartedAt:   started,
	}

	betaEnabled := e.Beta != nil && e.Beta.BetaEnabled(exec.OrgID, node.ConnectorSlug)
	if err := e.Registry.CheckExecutable(node.ConnectorSlug, betaEnabled, started); err != nil {
		return e.fail(rec, err)
	}
	if e.Registry.IsDeprecated(node.ConnectorSlug) {
		e.emit(telemetry.EventConnectorDeprecated, exec, node.ID, "connector is deprecated", map[string]any{"connector": node.ConnectorSlug})
	}

	conn, err := e.Connections.Resolve(ctx, exec.OrgID, node.ConnectorSlug)
	if err != nil {
		return e.fail(rec, err)
	}

	client, err := e.Dispatcher.Resolve(node.ConnectorSlug)
	if err != nil {
		return e.fail(rec, err)
	}

	ctx = connector.WithCorrelationID(ctx, exec.CorrelationID)
	policy := toBackoffPolicy(node.RetryPolicy)

	// Cancellation is cooperative at node and retry boundaries; the
	// in-flight call itself is aborted only for connectors that opt in via
	// the Cancelable capability. Everyone else runs against a context that
	// keeps the execution deadline but not the cancel signal, so a
	// cancelled run cannot tear down a half-issued side effect.
	abortInFlight := connector.SupportsCancel(client)

	e.emit(telemetry.EventNodeStarted, exec, node.ID, "", map[string]any{"connector": node.ConnectorSlug, "operation": node.Operation})

	attempts := 0
	res, invokeErr := connector.WithRetries(ctx, policy, func(ctx context.Context, attempt int) (connector.Result, error) {
		attempts = attempt + 1
		if attempt > 0 {
			e.emit(telemetry.EventNodeRetrying, exec, node.ID, "", map[string]any{"attempt": attempts})
		}
		invokeCtx := ctx
		if !abortInFlight {
			invokeCtx = context.WithoutCancel(ctx)
			if deadline, ok := ctx.Deadline(); ok {
				var cancel context.CancelFunc
				invokeCtx, cancel = context.WithDeadline(invokeCtx, deadline)
				defer cancel()
			}
		}
		return client.Invoke(invokeCtx, node.Operation, input, conn)
	})
	rec.Attempt = attempts

	if invokeErr != nil {
		return e.fail(rec, invokeErr)
	}

	finished := e.now()
	rec.Status = domain.NodeSucceeded
	rec.Output = res.Output
	rec.TokensUsed = res.TokensUsed
	rec.CostUSD = res.CostUSD
	rec.FinishedAt = &finished

	e.emit(telemetry.EventNodeFinished, exec, node.ID, "", map[string]any{
		"attempt":     rec.Attempt,
		"durationMs":  finished.Sub(started).Milliseconds(),
		"tokensUsed":  rec.TokensUsed,
		"costUsd":     rec.CostUSD,
	})
	return rec
}

func (e *NodeExecutor) fail(rec domain.NodeExecution, err error) domain.NodeExecution {
	finished := e.now()
	rec.Status = domain.NodeFailed
	rec.FinishedAt = &finished

	var derr *domain.Err
	if errors.As(err, &derr) {
		rec.Error = derr
		rec.ErrorSummary = derr.Error()
	} else {
		rec.Error = &domain.Err{Kind: domain.ErrServerError, Message: err.Error(), Cause: err}
		rec.ErrorSummary = err.Error()
	}

	e.emit(telemetry.EventNodeFinished, domain.Execution{ID: rec.ExecutionID}, rec.NodeID, rec.ErrorSummary, map[string]any{
		"attempt": rec.Attempt,
		"kind":    string(rec.Error.Kind),
	})
	return rec
}

func (e *NodeExecutor) emit(t telemetry.EventType, exec domain.Execution, nodeID, msg string, fields map[string]any) {
	if e.Emitter == nil {
		return
	}
	e.Emitter.Emit(telemetry.Event{
		Type:        t,
		Time:        e.now(),
		OrgID:       exec.OrgID,
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Message:     msg,
		Fields:      fields,
	})
}

// Package engine implements the graph runner and node executor:
// topological wavefront scheduling over a workflow DAG, input binding,
// per-node retries, and partial-failure propagation. Each wave runs every
// currently-ready node over a bounded worker pool; each node keeps its own
// addressable output map rather than merging into one shared state
// (domain.NodeExecution doc comment).
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/store"
	"github.com/appscriptstudio/workflow-engine/telemetry"
)

// DefaultExecutionTimeout is the per-execution wall-clock budget applied
// when a workflow declares none.
const DefaultExecutionTimeout = 5 * time.Minute

// Runner executes one Execution's workflow DAG to completion.
type Runner struct {
	Executor *NodeExecutor
	Emitter  telemetry.Emitter

	// MaxConcurrency bounds how many ready nodes run in parallel within a
	// single wave. Zero means "the DAG's max antichain" — every ready
	// node in a wave runs at once.
	MaxConcurrency int

	// Timeout overrides DefaultExecutionTimeout for this runner's calls.
	Timeout time.Duration

	// Store, when set, backs checkpoint/resume: Run saves a Checkpoint
	// after every completed wave and resumes from one on entry if the
	// execution id already has one (e.g. a process restart mid-run). A
	// nil Store makes Run behave exactly as before: every run starts
	// fresh and nothing is persisted beyond the caller's own records.
	Store store.Store

	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run drives exec's workflow to a terminal status, returning the updated
// Execution and every NodeExecution produced. The caller is responsible
// for persisting both; Run itself persists only its own Checkpoints, and
// only when r.Store is set.
func (r *Runner) Run(ctx context.Context, exec domain.Execution, wf domain.Workflow) (domain.Execution, []domain.NodeExecution, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, err := buildDAG(wf)
	if err != nil {
		return r.terminal(exec, domain.ExecFailed, &domain.Err{Kind: domain.ErrSchemaViolation, Message: err.Error()}), nil, nil
	}

	outputs := make(map[string]map[string]any)
	done := make(map[string]bool)
	skipped := make(map[string]bool)
	var records []domain.NodeExecution
	var rootCause *domain.Err
	cancelled := false
	var recordedIOs []RecordedIO
	stepID := 0
	resumed := false

	if r.Store != nil {
		if cp, found, cerr := LoadCheckpoint(ctx, r.Store, exec.ID); cerr == nil && found {
			for id, v := range cp.Done {
				done[id] = v
			}
			for id, v := range cp.Skipped {
				skipped[id] = v
			}
			for id, out := range cp.Outputs {
				outputs[id] = out
			}
			for _, rec := range cp.RecordedIOs {
				if verifyReplayHash(rec) == nil {
					recordedIOs = append(recordedIOs, rec)
				}
			}
			if cp.RootCauseKind != "" {
				rootCause = &domain.Err{Kind: domain.ErrKind(cp.RootCauseKind), Message: cp.RootCauseMessage}
			}
			stepID = cp.StepID
			resumed = true
		}
	}

	triggerSlug := ""
	if roots := g.roots(); len(roots) > 0 {
		if n, ok := g.nodes[roots[0]]; ok {
			triggerSlug = n.ConnectorSlug + "." + n.Operation
		}
	}
	idempotencyKey := computeIdempotencyKey(wf.ID, triggerSlug, exec.TriggerEventID)

	exec.Status = domain.ExecRunning
	exec.StartedAt = r.now()
	if resumed {
		r.emitExecution(telemetry.EventExecutionStarted, exec, "resumed from checkpoint")
	} else {
		r.emitExecution(telemetry.EventExecutionStarted, exec, "")
	}

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		wave := g.ready(done, skipped)
		if len(wave) == 0 {
			break
		}

		results := r.runWave(ctx, exec, g, wave, outputs, recordedIOs)
		for _, wr := range results {
			rec := wr.rec
			records = append(records, rec)
			switch rec.Status {
			case domain.NodeSucceeded:
				done[rec.NodeID] = true
				outputs[rec.NodeID] = rec.Output
				if wr.idempotent {
					if io, ioerr := recordIO(rec.NodeID, rec.Attempt, rec.Output); ioerr == nil {
						recordedIOs = upsertRecordedIO(recordedIOs, io)
					}
				}
			case domain.NodeFailed:
				done[rec.NodeID] = true // terminal, but not "succeeded" for readiness purposes below
				if rootCause == nil {
					rootCause = rec.Error
				}
				for _, desc := range g.descendants(rec.NodeID) {
					if !skipped[desc] && !done[desc] {
						skipped[desc] = true
						records = append(records, r.skipRecord(exec, desc))
					}
				}
			}
		}

		stepID++
		if r.Store != nil {
			cp := Checkpoint{
				ExecutionID:    exec.ID,
				StepID:         stepID,
				Done:           done,
				Skipped:        skipped,
				Outputs:        outputs,
				RecordedIOs:    recordedIOs,
				IdempotencyKey: idempotencyKey,
				Timestamp:      r.now(),
			}
			if rootCause != nil {
				cp.RootCauseKind = string(rootCause.Kind)
				cp.RootCauseMessage = rootCause.Message
			}
			_ = SaveCheckpoint(ctx, r.Store, cp)
		}
	}

	if cancelled {
		for id := range g.nodes {
			if !done[id] && !skipped[id] {
				skipped[id] = true
				rec := r.skipRecord(exec, id)
				rec.ErrorSummary = "cancelled"
				records = append(records, rec)
			}
		}
		exec.Counters = tallyNodes(len(g.nodes), done, skipped, outputs)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			exec = r.terminal(exec, domain.ExecTimedOut, &domain.Err{Kind: domain.ErrTimeout, Message: "execution exceeded its timeout"})
		} else {
			exec = r.terminal(exec, domain.ExecCancelled, &domain.Err{Kind: domain.ErrCancelled, Message: "execution cancelled"})
		}
		r.emitExecution(telemetry.EventExecutionFinished, exec, string(exec.Status))
		if r.Store != nil {
			_ = DeleteCheckpoint(context.Background(), r.Store, exec.ID)
		}
		return exec, records, nil
	}

	exec.Counters = tallyNodes(len(g.nodes), done, skipped, outputs)

	succeededAny := false
	for _, rec := range records {
		if rec.Status == domain.NodeSucceeded {
			succeededAny = true
			break
		}
	}

	if rootCause != nil {
		exec = r.terminal(exec, domain.ExecFailed, rootCause)
	} else if succeededAny {
		exec = r.terminal(exec, domain.ExecSucceeded, nil)
	} else {
		// No node ever ran (e.g. an empty workflow) — nothing succeeded,
		// nothing failed; treat as succeeded-trivially rather than
		// fabricating a failure with no cause.
		exec = r.terminal(exec, domain.ExecSucceeded, nil)
	}
	r.emitExecution(telemetry.EventExecutionFinished, exec, string(exec.Status))
	if r.Store != nil {
		_ = DeleteCheckpoint(context.Background(), r.Store, exec.ID)
	}
	return exec, records, nil
}

// Resume continues exec from whatever checkpoint r.Store holds for it, or
// starts fresh if none exists. It is the explicit entry point a process
// restart uses; Run itself already resumes transparently when r.Store is
// set, so Resume is a thin naming convenience over the same behavior.
func (r *Runner) Resume(ctx context.Context, exec domain.Execution, wf domain.Workflow) (domain.Execution, []domain.NodeExecution, error) {
	return r.Run(ctx, exec, wf)
}

// waveResult pairs a node's outcome with whether it carried an idempotency
// key, so Run knows which successes to fold into the checkpoint's replay
// log (engine/replay.go).
type waveResult struct {
	rec        domain.NodeExecution
	idempotent bool
}

func (r *Runner) runWave(ctx context.Context, exec domain.Execution, g *dag, wave []string, outputs map[string]map[string]any, recordedIOs []RecordedIO) []waveResult {
	limit := r.MaxConcurrency
	if limit <= 0 || limit > len(wave) {
		limit = len(wave)
	}
	sem := make(chan struct{}, limit)
	results := make([]waveResult, len(wave))

	var wg sync.WaitGroup
	for i, id := range wave {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			node := g.nodes[id]
			input, err := BindInput(node, outputs)
			if err != nil {
				rec := domain.NodeExecution{ExecutionID: exec.ID, NodeID: id, StartedAt: r.now()}
				results[i] = waveResult{rec: r.Executor.fail(rec, err)}
				return
			}

			idemKey, _ := input["idempotencyKey"].(string)
			if idemKey != "" {
				if recorded, found := lookupRecordedIO(recordedIOs, id, 0); found {
					now := r.now()
					results[i] = waveResult{
						idempotent: true,
						rec: domain.NodeExecution{
							ExecutionID: exec.ID,
							NodeID:      id,
							Status:      domain.NodeSucceeded,
							Input:       input,
							Output:      recorded.Output,
							StartedAt:   now,
							FinishedAt:  &now,
						},
					}
					return
				}
			}

			rec := r.Executor.Execute(ctx, exec, node, input)
			results[i] = waveResult{rec: rec, idempotent: idemKey != "" && rec.Status == domain.NodeSucceeded}
		}(i, id)
	}
	wg.Wait()
	return results
}

// tallyNodes derives the Execution's node counters from
// the run's terminal bookkeeping. A node in done with an outputs entry
// succeeded; one without failed — this distinction survives a
// checkpoint-resume, where the per-run records slice does not.
func tallyNodes(total int, done, skipped map[string]bool, outputs map[string]map[string]any) domain.NodeCounters {
	c := domain.NodeCounters{Total: total, Skipped: len(skipped)}
	for id := range done {
		if _, ok := outputs[id]; ok {
			c.Completed++
		} else {
			c.Failed++
		}
	}
	return c
}

func (r *Runner) skipRecord(exec domain.Execution, nodeID string) domain.NodeExecution {
	now := r.now()
	return domain.NodeExecution{
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Status:      domain.NodeSkipped,
		StartedAt:   now,
		FinishedAt:  &now,
	}
}

func (r *Runner) terminal(exec domain.Execution, status domain.ExecutionStatus, cause *domain.Err) domain.Execution {
	finished := r.now()
	exec.Status = status
	exec.FinishedAt = &finished
	exec.Error = cause
	if cause != nil {
		exec.ErrorSummary = cause.Error()
	}
	return exec
}

func (r *Runner) emitExecution(t telemetry.EventType, exec domain.Execution, msg string) {
	if r.Emitter == nil {
		return
	}
	r.Emitter.Emit(telemetry.Event{
		Type:        t,
		Time:        r.now(),
		OrgID:       exec.OrgID,
		ExecutionID: exec.ID,
		Message:     msg,
	})
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/appscriptstudio/workflow-engine/store"
)

// Checkpoint is a durable snapshot of one Execution's Graph Runner state,
// written after every completed wave: which nodes are done or skipped,
// their recorded outputs, and the idempotency-keyed I/O recordings a
// resumed run can replay from instead of re-issuing a side effect
// (engine/replay.go). Resuming a Checkpoint lets the Runner pick up a
// partially-completed Execution after a process restart instead of only
// the Scheduler's coarser "mark interrupted" fallback (scheduler.Init).
type Checkpoint struct {
	ExecutionID    string                    `json:"executionId"`
	StepID         int                       `json:"stepId"`
	Done           map[string]bool           `json:"done"`
	Skipped        map[string]bool           `json:"skipped"`
	Outputs        map[string]map[string]any `json:"outputs"`
	RecordedIOs    []RecordedIO              `json:"recordedIOs,omitempty"`
	IdempotencyKey string                    `json:"idempotencyKey"`
	Timestamp      time.Time                 `json:"timestamp"`

	// RootCauseKind/RootCauseMessage preserve a failed node's error across
	// a mid-run crash: a resumed run must still terminate failed with the
	// original cause, not report success because the failing node is
	// already in Done.
	RootCauseKind    string `json:"rootCauseKind,omitempty"`
	RootCauseMessage string `json:"rootCauseMessage,omitempty"`
}

func checkpointKey(executionID string) string {
	return "execution:" + executionID + ":checkpoint"
}

// SaveCheckpoint persists cp, overwriting any earlier checkpoint for the
// same execution. A nil st is a no-op — checkpointing is optional
// infrastructure a Runner degrades gracefully without.
func SaveCheckpoint(ctx context.Context, st store.Store, cp Checkpoint) error {
	if st == nil {
		return nil
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return st.Put(ctx, checkpointKey(cp.ExecutionID), b)
}

// LoadCheckpoint reads back executionID's most recent checkpoint. found is
// false (with a nil error) when none exists yet.
func LoadCheckpoint(ctx context.Context, st store.Store, executionID string) (cp Checkpoint, found bool, err error) {
	if st == nil {
		return Checkpoint{}, false, nil
	}
	raw, err := st.Get(ctx, checkpointKey(executionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// DeleteCheckpoint removes executionID's checkpoint. The Runner calls this
// once an Execution reaches a terminal status: resumable state is only
// meaningful for a run still in progress.
func DeleteCheckpoint(ctx context.Context, st store.Store, executionID string) error {
	if st == nil {
		return nil
	}
	return st.Delete(ctx, checkpointKey(executionID))
}

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrReplayMismatch is returned when a recorded I/O's output hash no
// longer matches the output it is compared against, signaling that a
// checkpoint was tampered with or truncated rather than produced by this
// Runner.
var ErrReplayMismatch = errors.New("engine: replay mismatch: recorded output hash does not match")

// RecordedIO captures one idempotency-keyed node invocation's output so a
// crash-retry of the same node can re-apply the recorded result instead of
// re-issuing the side effect: an operation with an idempotency key,
// retried after a crash, never produces more than one side-effecting
// outcome. Indexed by (NodeID,
// Attempt) within one Checkpoint.
type RecordedIO struct {
	NodeID  string         `json:"nodeId"`
	Attempt int            `json:"attempt"`
	Output  map[string]any `json:"output"`
	Hash    string         `json:"hash"`
}

func hashOutput(output map[string]any) (string, error) {
	b, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// recordIO builds the RecordedIO for one successful, idempotency-keyed
// node invocation.
func recordIO(nodeID string, attempt int, output map[string]any) (RecordedIO, error) {
	hash, err := hashOutput(output)
	if err != nil {
		return RecordedIO{}, err
	}
	return RecordedIO{NodeID: nodeID, Attempt: attempt, Output: output, Hash: hash}, nil
}

// lookupRecordedIO finds a prior recording for (nodeID, attempt) among
// recordings, used by the Runner to decide whether a node on a resumed
// Execution can be satisfied from the checkpoint instead of re-invoked.
func lookupRecordedIO(recordings []RecordedIO, nodeID string, attempt int) (RecordedIO, bool) {
	for _, rec := range recordings {
		if rec.NodeID == nodeID && rec.Attempt == attempt {
			return rec, true
		}
	}
	return RecordedIO{}, false
}

// verifyReplayHash confirms recorded's stored Hash still matches its own
// Output, used when a checkpoint is loaded back from the store: a
// recording that fails this check is dropped rather than trusted, so a
// corrupted or hand-edited checkpoint falls back to live re-execution
// instead of replaying a value that no longer matches its hash.
func verifyReplayHash(recorded RecordedIO) error {
	hash, err := hashOutput(recorded.Output)
	if err != nil {
		return err
	}
	if hash != recorded.Hash {
		return fmt.Errorf("%w: node %s attempt %d", ErrReplayMismatch, recorded.NodeID, recorded.Attempt)
	}
	return nil
}

// upsertRecordedIO replaces the existing (NodeID, Attempt) entry in list,
// if any, or appends io — keeping one entry per (nodeID, attempt) across
// waves instead of accumulating duplicates when a replay hit re-records
// the same result.
func upsertRecordedIO(list []RecordedIO, io RecordedIO) []RecordedIO {
	for i, existing := range list {
		if existing.NodeID == io.NodeID && existing.Attempt == io.Attempt {
			list[i] = io
			return list
		}
	}
	return append(list, io)
}

package engine

import (
	"context"
	"testing"

	"github.com/appscriptstudio/workflow-engine/store"
)

func TestCheckpointRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	cp := Checkpoint{
		ExecutionID: "exec-1",
		StepID:      3,
		Done:        map[string]bool{"t": true, "a": true},
		Skipped:     map[string]bool{"b": true},
		Outputs: map[string]map[string]any{
			"t": {"event": "evt-1"},
			"a": {"result": float64(42)},
		},
		IdempotencyKey: "key-1",
	}
	if err := SaveCheckpoint(ctx, st, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := LoadCheckpoint(ctx, st, "exec-1")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.StepID != 3 || !got.Done["a"] || !got.Skipped["b"] {
		t.Fatalf("unexpected checkpoint %+v", got)
	}
	if got.Outputs["a"]["result"] != float64(42) {
		t.Fatalf("outputs not preserved: %+v", got.Outputs)
	}

	if err := DeleteCheckpoint(ctx, st, "exec-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := LoadCheckpoint(ctx, st, "exec-1"); found {
		t.Fatal("expected checkpoint gone after delete")
	}
}

func TestLoadCheckpointAbsent(t *testing.T) {
	st := store.NewMemoryStore()
	_, found, err := LoadCheckpoint(context.Background(), st, "never-saved")
	if err != nil {
		t.Fatalf("absent checkpoint must not error: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	ctx := context.Background()
	if err := SaveCheckpoint(ctx, nil, Checkpoint{ExecutionID: "e"}); err != nil {
		t.Fatalf("nil store save: %v", err)
	}
	if _, found, err := LoadCheckpoint(ctx, nil, "e"); err != nil || found {
		t.Fatalf("nil store load: found=%v err=%v", found, err)
	}
	if err := DeleteCheckpoint(ctx, nil, "e"); err != nil {
		t.Fatalf("nil store delete: %v", err)
	}
}

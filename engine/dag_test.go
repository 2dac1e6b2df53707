package engine

import (
	"testing"

	"github.com/appscriptstudio/workflow-engine/domain"
)

func wf(nodes []string, edges [][2]string) domain.Workflow {
	w := domain.Workflow{ID: "wf-1"}
	for _, n := range nodes {
		w.Nodes = append(w.Nodes, domain.Node{ID: n})
	}
	for _, e := range edges {
		w.Edges = append(w.Edges, domain.Edge{From: e[0], To: e[1]})
	}
	return w
}

func TestBuildDAGDetectsCycle(t *testing.T) {
	w := wf([]string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	if _, err := buildDAG(w); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestBuildDAGRejectsDuplicateNodeIDs(t *testing.T) {
	w := domain.Workflow{ID: "wf-1", Nodes: []domain.Node{{ID: "a"}, {ID: "a"}}}
	if _, err := buildDAG(w); err == nil {
		t.Fatal("expected duplicate-node-id error")
	}
}

func TestReadyWavefront(t *testing.T) {
	// T -> A -> B, T -> C
	w := wf([]string{"t", "a", "b", "c"}, [][2]string{{"t", "a"}, {"a", "b"}, {"t", "c"}})
	g, err := buildDAG(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := map[string]bool{}
	skipped := map[string]bool{}
	first := g.ready(done, skipped)
	if len(first) != 1 || first[0] != "t" {
		t.Fatalf("expected only root %q ready, got %v", "t", first)
	}

	done["t"] = true
	second := g.ready(done, skipped)
	gotSet := map[string]bool{}
	for _, id := range second {
		gotSet[id] = true
	}
	if !gotSet["a"] || !gotSet["c"] || len(second) != 2 {
		t.Fatalf("expected a and c ready after t, got %v", second)
	}
}

func TestDescendantsCascade(t *testing.T) {
	w := wf([]string{"t", "a", "b", "c"}, [][2]string{{"t", "a"}, {"a", "b"}, {"t", "c"}})
	g, err := buildDAG(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	desc := g.descendants("a")
	if len(desc) != 1 || desc[0] != "b" {
		t.Fatalf("expected only b descending from a, got %v", desc)
	}
	if len(g.descendants("c")) != 0 {
		t.Fatalf("expected c to have no descendants")
	}
}

package engine

import (
	"testing"

	"github.com/appscriptstudio/workflow-engine/domain"
)

func TestBindInputWholeValueReference(t *testing.T) {
	node := domain.Node{ID: "b", Input: map[string]any{
		"issueKey": "{{nodes.a.output.key}}",
	}}
	outputs := map[string]map[string]any{
		"a": {"key": "PROJ-123"},
	}

	bound, err := BindInput(node, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bound["issueKey"] != "PROJ-123" {
		t.Fatalf("expected PROJ-123, got %v", bound["issueKey"])
	}
}

func TestBindInputInterpolatesWithinString(t *testing.T) {
	node := domain.Node{ID: "b", Input: map[string]any{
		"message": "created {{nodes.a.output.key}} successfully",
	}}
	outputs := map[string]map[string]any{
		"a": {"key": "PROJ-123"},
	}

	bound, err := BindInput(node, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bound["message"] != "created PROJ-123 successfully" {
		t.Fatalf("unexpected interpolation: %v", bound["message"])
	}
}

func TestBindInputMissingUpstreamFailsWithBadInput(t *testing.T) {
	node := domain.Node{ID: "b", Input: map[string]any{
		"issueKey": "{{nodes.a.output.key}}",
	}}

	_, err := BindInput(node, map[string]map[string]any{})
	var derr *domain.Err
	if err == nil {
		t.Fatal("expected bad_input error for unresolved template")
	}
	if e, ok := err.(*domain.Err); ok {
		derr = e
	}
	if derr == nil || derr.Kind != domain.ErrBadInput {
		t.Fatalf("expected bad_input, got %v", err)
	}
}

func TestBindInputNestedStructures(t *testing.T) {
	node := domain.Node{ID: "b", Input: map[string]any{
		"payload": map[string]any{
			"title": "{{nodes.a.output.title}}",
			"tags":  []any{"{{nodes.a.output.tag}}", "static"},
		},
	}}
	outputs := map[string]map[string]any{
		"a": {"title": "Bug report", "tag": "urgent"},
	}

	bound, err := BindInput(node, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := bound["payload"].(map[string]any)
	if payload["title"] != "Bug report" {
		t.Fatalf("unexpected title: %v", payload["title"])
	}
	tags := payload["tags"].([]any)
	if tags[0] != "urgent" || tags[1] != "static" {
		t.Fatalf("unexpected tags: %v", tags)
	}
}

func TestBindInputPassesThroughLiterals(t *testing.T) {
	node := domain.Node{ID: "b", Input: map[string]any{"count": 5, "enabled": true}}
	bound, err := BindInput(node, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bound["count"] != 5 || bound["enabled"] != true {
		t.Fatalf("unexpected passthrough: %+v", bound)
	}
}

package usage

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/appscriptstudio/workflow-engine/domain"
)

func TestBuildExportComputesSummary(t *testing.T) {
	counters := []domain.UsageCounter{
		{UserID: "u1", APICalls: 10, TokensUsed: 100, WorkflowRuns: 2, EstimatedCostMicros: 500},
		{UserID: "u2", APICalls: 5, TokensUsed: 0, WorkflowRuns: 1, EstimatedCostMicros: 0},
	}
	identities := map[string]Identity{"u1": {Email: "u1@example.com", PlanCode: "pro", PlanName: "Pro"}}

	export := BuildExport(counters, identities)
	if export.Summary.RowCount != 2 {
		t.Fatalf("expected 2 rows, got %d", export.Summary.RowCount)
	}
	if export.Summary.APICalls != 15 {
		t.Fatalf("expected 15 total api calls, got %d", export.Summary.APICalls)
	}
	if export.Rows[0].Email != "u1@example.com" {
		t.Fatalf("expected identity joined onto row, got %+v", export.Rows[0])
	}
}

func TestCSVAndJSONExportAreRowEquivalent(t *testing.T) {
	counters := []domain.UsageCounter{
		{UserID: "u1", APICalls: 10, TokensUsed: 100, WorkflowRuns: 2, EstimatedCostMicros: 500},
	}
	export := BuildExport(counters, nil)

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, export); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "10") || !strings.Contains(lines[1], "500") {
		t.Fatalf("expected row data in CSV, got %q", lines[1])
	}

	var jsonBuf bytes.Buffer
	if err := WriteJSON(&jsonBuf, export); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded Export
	if err := json.Unmarshal(jsonBuf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Rows[0].APICalls != export.Rows[0].APICalls {
		t.Fatalf("expected JSON round-trip to match CSV source rows")
	}
}

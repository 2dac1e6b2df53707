package usage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// ExportRow is one line of a usage export, joining a UsageCounter with the
// user-identity fields that the ledger itself does not track.
type ExportRow struct {
	UserID              string `json:"userId"`
	Email               string `json:"email"`
	PlanCode            string `json:"planCode"`
	PlanName            string `json:"planName"`
	APICalls            int64  `json:"apiCalls"`
	TokensUsed          int64  `json:"tokensUsed"`
	WorkflowRuns        int64  `json:"workflowRuns"`
	StorageBytes        int64  `json:"storageBytes"`
	EstimatedCostMicros int64  `json:"estimatedCostMicros"`
}

// ExportSummary totals an export's rows.
type ExportSummary struct {
	RowCount            int   `json:"rowCount"`
	APICalls            int64 `json:"apiCalls"`
	TokensUsed          int64 `json:"tokensUsed"`
	WorkflowRuns        int64 `json:"workflowRuns"`
	StorageBytes        int64 `json:"storageBytes"`
	EstimatedCostMicros int64 `json:"estimatedCostMicros"`
}

// Export pairs rows with their computed summary.
type Export struct {
	Rows    []ExportRow   `json:"rows"`
	Summary ExportSummary `json:"summary"`
}

// Identity resolves the user-facing fields an ExportRow carries but a
// UsageCounter does not. Callers back this with their own user directory.
type Identity struct {
	Email    string
	PlanCode string
	PlanName string
}

// BuildExport joins counters with identities into rows plus a summary.
// Counters with no matching identity still export with empty identity
// fields rather than being dropped, since a usage record should never
// silently disappear from a billing export.
func BuildExport(counters []domain.UsageCounter, identities map[string]Identity) Export {
	rows := make([]ExportRow, 0, len(counters))
	var sum ExportSummary
	for _, c := range counters {
		id := identities[c.UserID]
		row := ExportRow{
			UserID:              c.UserID,
			Email:               id.Email,
			PlanCode:            id.PlanCode,
			PlanName:            id.PlanName,
			APICalls:            c.APICalls,
			TokensUsed:          c.TokensUsed,
			WorkflowRuns:        c.WorkflowRuns,
			StorageBytes:        c.StorageBytes,
			EstimatedCostMicros: c.EstimatedCostMicros,
		}
		rows = append(rows, row)
		sum.APICalls += row.APICalls
		sum.TokensUsed += row.TokensUsed
		sum.WorkflowRuns += row.WorkflowRuns
		sum.StorageBytes += row.StorageBytes
		sum.EstimatedCostMicros += row.EstimatedCostMicros
	}
	sum.RowCount = len(rows)
	return Export{Rows: rows, Summary: sum}
}

var csvHeader = []string{
	"userId", "email", "planCode", "planName",
	"apiCalls", "tokensUsed", "workflowRuns", "storageBytes", "estimatedCostMicros",
}

// WriteCSV writes e's rows as CSV, header first. CSV and WriteJSON are
// bit-equivalent on the underlying rows: every field that appears in
// one appears in the other, same values, same order.
func WriteCSV(w io.Writer, e Export) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range e.Rows {
		record := []string{
			r.UserID, r.Email, r.PlanCode, r.PlanName,
			fmt.Sprintf("%d", r.APICalls),
			fmt.Sprintf("%d", r.TokensUsed),
			fmt.Sprintf("%d", r.WorkflowRuns),
			fmt.Sprintf("%d", r.StorageBytes),
			fmt.Sprintf("%d", r.EstimatedCostMicros),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes e as a single JSON object {"rows":[...],"summary":{...}}.
func WriteJSON(w io.Writer, e Export) error {
	enc := json.NewEncoder(w)
	return enc.Encode(e)
}

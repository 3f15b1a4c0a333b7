// Package export renders finished runs for consumption outside the
// process: an indented JSON report, a GraphML document for graph tools,
// and an XLSX workbook for analyst review.
package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/repair"
)

// AttemptSummary is the report view of one extraction attempt: outcome
// and merge effect without the full prompt and response text.
type AttemptSummary struct {
	Seq       int               `json:"seq"`
	Kind      string            `json:"kind"`
	GapIDs    []string          `json:"gap_ids,omitempty"`
	Outcome   repair.Outcome    `json:"outcome"`
	Detail    string            `json:"detail,omitempty"`
	Merged    graph.MergeReport `json:"merged"`
	ElapsedMs int64             `json:"elapsed_ms"`
}

// DuplicateCandidate is a ranked near-duplicate entity suggestion,
// attached when the run was persisted with embeddings enabled.
type DuplicateCandidate struct {
	A       string   `json:"a"`
	B       string   `json:"b"`
	Score   float64  `json:"score"`
	Methods []string `json:"methods,omitempty"`
}

// Report is the JSON summary of a finished (or interrupted) run.
type Report struct {
	RunID       string               `json:"run_id,omitempty"`
	Source      string               `json:"source,omitempty"`
	State       repair.State         `json:"state"`
	BudgetUsed  int                  `json:"budget_used"`
	Checks      int                  `json:"checks"`
	Entities    int                  `json:"entities"`
	Connections int                  `json:"connections"`
	Pending     int                  `json:"pending_connections"`
	Components  graph.ComponentStats `json:"components"`
	Gaps        []graph.Gap          `json:"gaps"`
	Attempts    []AttemptSummary     `json:"attempts"`
	Duplicates  []DuplicateCandidate `json:"duplicate_candidates,omitempty"`
	Graph       graph.Snapshot       `json:"graph"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// BuildReport assembles the run report from the repair result and the
// graph it produced.
func BuildReport(runID, source string, res *repair.Result, g *graph.Store) Report {
	snap := g.Snapshot()
	pending := 0
	for _, c := range snap.Connections {
		if c.Pending {
			pending++
		}
	}

	return Report{
		RunID:       runID,
		Source:      source,
		State:       res.State,
		BudgetUsed:  res.BudgetUsed,
		Checks:      res.Checks,
		Entities:    len(snap.Entities),
		Connections: len(snap.Connections),
		Pending:     pending,
		Components:  graph.Stats(g),
		Gaps:        res.Gaps,
		Attempts:    summarizeAttempts(res.Attempts),
		Graph:       snap,
		GeneratedAt: time.Now().UTC(),
	}
}

func summarizeAttempts(attempts []repair.Attempt) []AttemptSummary {
	out := make([]AttemptSummary, len(attempts))
	for i, a := range attempts {
		out[i] = AttemptSummary{
			Seq:       a.Seq,
			Kind:      a.Kind,
			GapIDs:    a.GapIDs,
			Outcome:   a.Outcome,
			Detail:    a.Detail,
			Merged:    a.Merged,
			ElapsedMs: a.ElapsedMs,
		}
	}
	return out
}

// WriteJSON renders the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

package eval

import (
	"context"
	"log/slog"
	"time"

	"github.com/brunobiangulo/graphmend"
	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/repair"
)

// Evaluator runs a dataset through an engine and scores each extracted
// graph against the expectation.
type Evaluator struct {
	engine graphmend.Engine
}

// New creates an evaluator around an engine.
func New(engine graphmend.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// Report holds the results of one evaluation run. Entity and
// connection scores are micro-averaged: counts are summed across cases
// before the ratios are taken, so large cases weigh more.
type Report struct {
	Dataset     string        `json:"dataset"`
	Cases       int           `json:"cases"`
	Converged   int           `json:"converged"`
	Failed      int           `json:"failed"`
	Entities    Score         `json:"entities"`
	Connections Score         `json:"connections"`
	BudgetUsed  int           `json:"budget_used"`
	Results     []CaseResult  `json:"results"`
	RunTime     time.Duration `json:"run_time"`
}

// CaseResult holds the scored outcome of a single case.
type CaseResult struct {
	Name           string       `json:"name"`
	State          repair.State `json:"state,omitempty"`
	BudgetUsed     int          `json:"budget_used"`
	UnresolvedGaps int          `json:"unresolved_gaps"`
	Entities       Score        `json:"entities"`
	Connections    Score        `json:"connections"`
	Error          string       `json:"error,omitempty"`
	ElapsedMs      int64        `json:"elapsed_ms"`
}

// Run extracts every case in the dataset and scores the results. A
// case whose run ends in error is still scored on whatever partial
// graph came back; only a case with no report at all counts as failed.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	report := &Report{Dataset: ds.Name, Cases: len(ds.Cases)}
	start := time.Now()

	for _, c := range ds.Cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var opts []graphmend.RunOption
		if c.Budget != nil {
			opts = append(opts, graphmend.WithBudget(*c.Budget))
		}

		caseStart := time.Now()
		rep, err := e.engine.Extract(ctx, c.Text, opts...)

		result := CaseResult{
			Name:      c.Name,
			ElapsedMs: time.Since(caseStart).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
		}

		if rep == nil {
			report.Failed++
			report.Results = append(report.Results, result)
			slog.Warn("eval: case failed", "case", c.Name, "error", err)
			continue
		}

		result.State = rep.State
		result.BudgetUsed = rep.BudgetUsed
		result.UnresolvedGaps = unresolvedGaps(rep.Gaps)
		result.Entities = scoreEntities(rep.Graph, c.Entities)
		result.Connections = scoreConnections(rep.Graph, c.Connections)

		if rep.State == repair.StateConverged {
			report.Converged++
		}
		report.BudgetUsed += rep.BudgetUsed
		report.Entities = addCounts(report.Entities, result.Entities)
		report.Connections = addCounts(report.Connections, result.Connections)
		report.Results = append(report.Results, result)

		slog.Info("eval: case done",
			"case", c.Name, "state", rep.State,
			"entity_f1", result.Entities.F1,
			"connection_f1", result.Connections.F1,
			"elapsed", time.Since(caseStart).Round(time.Millisecond))
	}

	report.Entities = newScore(report.Entities.Matched, report.Entities.Got, report.Entities.Expected)
	report.Connections = newScore(report.Connections.Matched, report.Connections.Got, report.Connections.Expected)
	report.RunTime = time.Since(start)

	slog.Info("eval: run complete",
		"dataset", ds.Name, "cases", report.Cases,
		"converged", report.Converged, "failed", report.Failed,
		"entity_f1", report.Entities.F1,
		"connection_f1", report.Connections.F1,
		"run_time", report.RunTime.Round(time.Millisecond))
	return report, nil
}

func unresolvedGaps(gaps []graph.Gap) int {
	n := 0
	for _, g := range gaps {
		if g.Status != graph.GapResolved {
			n++
		}
	}
	return n
}

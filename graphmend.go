// Package graphmend extracts a knowledge graph from unstructured text
// with a language model and repairs it in a bounded loop: initial
// extraction, consistency check, gap-scoped re-queries until the graph
// converges or the retry budget runs out. Whatever cannot be fixed is
// labeled unresolved rather than dropped.
package graphmend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/graphmend/export"
	"github.com/brunobiangulo/graphmend/extract"
	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/llm"
	"github.com/brunobiangulo/graphmend/parser"
	"github.com/brunobiangulo/graphmend/repair"
	"github.com/brunobiangulo/graphmend/store"
)

// Engine is the main entry point for the extraction-repair pipeline.
type Engine interface {
	// Extract runs the full pipeline over raw text and returns the run
	// report. The report is non-nil even when the run ends in error:
	// halted and aborted runs still carry the partial graph and every
	// gap with its reason.
	Extract(ctx context.Context, text string, opts ...RunOption) (*export.Report, error)

	// ExtractFile loads a document (txt, md, pdf, docx, xlsx) and runs
	// Extract over its text.
	ExtractFile(ctx context.Context, path string, opts ...RunOption) (*export.Report, error)

	// Resume continues repair on a persisted run with a fresh budget.
	// Only budget-exhausted and aborted runs can resume; gaps whose
	// condition still holds are re-detected and re-targeted.
	Resume(ctx context.Context, runID string, opts ...RunOption) (*export.Report, error)

	// RunReport rebuilds the report for a persisted run.
	RunReport(ctx context.Context, runID string) (*export.Report, error)

	// ListRuns returns summaries of persisted runs, newest first.
	ListRuns(ctx context.Context) ([]store.RunSummary, error)

	// SearchEntities runs a full-text query over persisted entities.
	SearchEntities(ctx context.Context, query string, limit int) ([]store.EntityHit, error)

	// DeleteRun removes a persisted run and all its data.
	DeleteRun(ctx context.Context, runID string) error

	// Store returns the underlying run store for diagnostic access.
	// Nil when persistence is disabled.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// RunOption tunes a single pipeline run.
type RunOption func(*runOptions)

type runOptions struct {
	budget int
	policy graph.Policy
	source string
}

// WithBudget overrides the repair budget for this run.
func WithBudget(n int) RunOption {
	return func(o *runOptions) { o.budget = n }
}

// WithPolicy overrides the checker policy for this run.
func WithPolicy(p graph.Policy) RunOption {
	return func(o *runOptions) { o.policy = p }
}

// WithSource labels the run for reports and listings, e.g. "stdin",
// "http", or an uploaded file's original name. When unset, file runs
// are labeled with their path and raw-text runs with "text".
func WithSource(label string) RunOption {
	return func(o *runOptions) { o.source = label }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg        Config
	store      *store.Store
	completion llm.Provider
	embedding  llm.Provider
	extractor  *extract.Extractor
}

// New creates an engine from configuration. Zero-value config fields
// get working defaults, so Config{} builds an engine talking to a local
// LM Studio server with persistence off.
func New(cfg Config) (Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	completion, err := llm.NewProvider(providerConfig(cfg.Completion))
	if err != nil {
		return nil, fmt.Errorf("creating completion provider: %w", err)
	}

	var embedding llm.Provider
	if cfg.Embedding.Provider != "" {
		embedding, err = llm.NewProvider(providerConfig(cfg.Embedding))
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	var s *store.Store
	if cfg.Persist {
		s, err = store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	x := extract.New(completion, extract.Options{
		Temperature: cfg.Extraction.Temperature,
		MaxTokens:   cfg.Extraction.MaxTokens,
	})

	return &engine{
		cfg:        cfg,
		store:      s,
		completion: completion,
		embedding:  embedding,
		extractor:  x,
	}, nil
}

func providerConfig(c LLMConfig) llm.Config {
	return llm.Config{
		Provider: c.Provider,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
		APIKey:   c.APIKey,
		Timeout:  time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// runInput carries one run's source text and, for file runs, its
// origin. Text is persisted with the run so Resume never rereads the
// file.
type runInput struct {
	Text string
	Path string
	Hash string
}

func (e *engine) Extract(ctx context.Context, text string, opts ...RunOption) (*export.Report, error) {
	return e.run(ctx, runInput{Text: text}, opts)
}

func (e *engine) ExtractFile(ctx context.Context, path string, opts ...RunOption) (*export.Report, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	text, err := parser.Load(absPath)
	if errors.Is(err, parser.ErrUnsupportedFormat) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(absPath))
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", absPath, err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	return e.run(ctx, runInput{Text: text, Path: absPath, Hash: hash}, opts)
}

// run executes one pipeline run over fresh state: its own graph store
// and controller, so concurrent runs share nothing mutable.
func (e *engine) run(ctx context.Context, in runInput, opts []RunOption) (*export.Report, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyInput
	}

	o := e.runOptions(opts)
	runID := uuid.NewString()
	source := o.source
	if source == "" {
		source = in.Path
	}
	if source == "" {
		source = "text"
	}

	slog.Info("engine: run starting",
		"run_id", runID, "source", source,
		"chars", len(in.Text), "budget", o.budget)

	g := graph.NewStore()
	ctl := repair.New(e.extractor, g, o.policy, e.repairConfig(o))
	res, runErr := ctl.Run(ctx, in.Text)

	return e.finish(ctx, runID, source, in, o.budget, g, res, runErr)
}

func (e *engine) Resume(ctx context.Context, runID string, opts ...RunOption) (*export.Report, error) {
	if e.store == nil {
		return nil, ErrPersistenceDisabled
	}

	rec, err := e.store.LoadRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	switch repair.State(rec.State) {
	case repair.StateBudgetExhausted, repair.StateAborted:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, rec.State)
	}

	o := e.runOptions(opts)
	slog.Info("engine: resuming run",
		"run_id", runID, "state", rec.State,
		"known_gaps", len(rec.Gaps), "budget", o.budget)

	g := graph.FromSnapshot(rec.Snapshot)
	ctl := repair.New(e.extractor, g, o.policy, e.repairConfig(o))
	ctl.Restore(rec.Gaps, rec.Memory, rec.LastSeq)

	res, runErr := ctl.Resume(ctx, rec.SourceText)

	// Fold the earlier legs into the result so the persisted record and
	// the report stay cumulative: every attempt ever made, total budget
	// granted and spent.
	res.Attempts = append(rec.Attempts, res.Attempts...)
	res.BudgetUsed += rec.BudgetUsed
	res.Checks += rec.Checks

	source := o.source
	if source == "" {
		source = rec.SourcePath
	}
	if source == "" {
		source = "text"
	}
	in := runInput{Text: rec.SourceText, Path: rec.SourcePath, Hash: rec.SourceHash}
	return e.finish(ctx, runID, source, in, rec.Budget+o.budget, g, res, runErr)
}

// finish persists the run when a store is configured, indexes entity
// embeddings, gathers duplicate candidates, and builds the report. The
// run's own error wins over a save error; a save failure after a clean
// run is returned alongside the report.
func (e *engine) finish(ctx context.Context, runID, source string, in runInput, budget int, g *graph.Store, res *repair.Result, runErr error) (*export.Report, error) {
	var saveErr error
	if e.store != nil {
		// The run may have been cancelled; its partial state still
		// needs to reach the store so it can be resumed.
		sctx := context.WithoutCancel(ctx)
		saveErr = e.store.SaveRun(sctx, store.RunRecord{
			ID:         runID,
			SourcePath: source,
			SourceHash: in.Hash,
			SourceText: in.Text,
			State:      string(res.State),
			Budget:     budget,
			BudgetUsed: res.BudgetUsed,
			Checks:     res.Checks,
			LastSeq:    lastSeq(res.Attempts),
			Snapshot:   g.Snapshot(),
			Gaps:       res.Gaps,
			Attempts:   res.Attempts,
			Memory:     res.Memory,
		})
		if saveErr == nil {
			e.indexEntityEmbeddings(sctx, runID, g)
		}
	}

	rep := export.BuildReport(runID, source, res, g)
	if e.store != nil && saveErr == nil {
		rep.Duplicates = e.duplicateCandidates(context.WithoutCancel(ctx), runID)
	}

	if runErr != nil {
		if saveErr != nil {
			slog.Warn("engine: saving run state failed",
				"run_id", runID, "error", saveErr)
		}
		return &rep, runErr
	}
	if saveErr != nil {
		return &rep, fmt.Errorf("saving run: %w", saveErr)
	}
	return &rep, nil
}

func (e *engine) RunReport(ctx context.Context, runID string) (*export.Report, error) {
	if e.store == nil {
		return nil, ErrPersistenceDisabled
	}

	rec, err := e.store.LoadRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	g := graph.FromSnapshot(rec.Snapshot)
	res := &repair.Result{
		State:      repair.State(rec.State),
		Gaps:       rec.Gaps,
		Attempts:   rec.Attempts,
		Memory:     rec.Memory,
		BudgetUsed: rec.BudgetUsed,
		Checks:     rec.Checks,
	}
	source := rec.SourcePath
	if source == "" {
		source = "text"
	}

	rep := export.BuildReport(rec.ID, source, res, g)
	rep.Duplicates = e.duplicateCandidates(ctx, runID)
	return &rep, nil
}

func (e *engine) ListRuns(ctx context.Context) ([]store.RunSummary, error) {
	if e.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return e.store.ListRuns(ctx)
}

func (e *engine) SearchEntities(ctx context.Context, query string, limit int) ([]store.EntityHit, error) {
	if e.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return e.store.SearchEntities(ctx, query, limit)
}

func (e *engine) DeleteRun(ctx context.Context, runID string) error {
	if e.store == nil {
		return ErrPersistenceDisabled
	}
	err := e.store.DeleteRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return err
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func (e *engine) runOptions(opts []RunOption) runOptions {
	o := runOptions{
		budget: e.cfg.Repair.Budget,
		policy: e.cfg.Policy,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.budget < 0 {
		o.budget = 0
	}
	return o
}

func (e *engine) repairConfig(o runOptions) repair.Config {
	return repair.Config{
		Budget:         o.budget,
		BatchSize:      e.cfg.Repair.BatchSize,
		MemoryBudget:   e.cfg.Repair.MemoryBudget,
		MaxPromptChars: e.cfg.Extraction.MaxPromptChars,
		EnrichThin:     e.cfg.Extraction.EnrichThin,
	}
}

const (
	embedBatchSize         = 64
	maxDuplicateCandidates = 10
)

// indexEntityEmbeddings embeds entity names and stores the vectors for
// duplicate-candidate KNN. Failures are logged and skipped: candidates
// degrade to text search alone, the run itself is unaffected.
func (e *engine) indexEntityEmbeddings(ctx context.Context, runID string, g *graph.Store) {
	if e.embedding == nil {
		return
	}
	ents := g.Entities()
	if len(ents) == 0 {
		return
	}

	names := make([]string, len(ents))
	for i, ent := range ents {
		names[i] = ent.Name
	}

	for i := 0; i < len(names); i += embedBatchSize {
		end := min(i+embedBatchSize, len(names))
		batch := names[i:end]

		vecs, err := e.embedding.Embed(ctx, batch)
		if err != nil {
			slog.Warn("engine: embedding batch failed",
				"run_id", runID, "batch_start", i, "error", err)
			continue
		}
		if err := e.store.IndexEmbeddings(ctx, runID, batch, vecs); err != nil {
			slog.Warn("engine: indexing embeddings failed",
				"run_id", runID, "error", err)
		}
	}
}

func (e *engine) duplicateCandidates(ctx context.Context, runID string) []export.DuplicateCandidate {
	pairs, err := e.store.DuplicateCandidates(ctx, runID, maxDuplicateCandidates)
	if err != nil {
		slog.Warn("engine: duplicate candidates failed",
			"run_id", runID, "error", err)
		return nil
	}
	if len(pairs) == 0 {
		return nil
	}

	out := make([]export.DuplicateCandidate, len(pairs))
	for i, p := range pairs {
		out[i] = export.DuplicateCandidate{A: p.A, B: p.B, Score: p.Score, Methods: p.Methods}
	}
	return out
}

func lastSeq(attempts []repair.Attempt) int {
	if len(attempts) == 0 {
		return 0
	}
	return attempts[len(attempts)-1].Seq
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

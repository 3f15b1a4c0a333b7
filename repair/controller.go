// Package repair drives the extraction-repair loop: initial extraction,
// consistency check, gap-scoped repair passes, and the bookkeeping that
// labels whatever could not be fixed. The loop is bounded by an explicit
// retry budget; the terminal result always carries the full graph state,
// every gap ever detected, and a log of every model attempt.
package repair

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/brunobiangulo/graphmend/chunker"
	"github.com/brunobiangulo/graphmend/extract"
	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/llm"
)

// State is the terminal state of a run.
type State string

const (
	// StateConverged means the checker reported zero open gaps.
	StateConverged State = "converged"
	// StateBudgetExhausted means open gaps remained when the repair
	// budget ran out; those gaps are labeled unresolved-exhausted.
	StateBudgetExhausted State = "budget-exhausted"
	// StateHalted means a graph invariant was violated and the run
	// stopped rather than commit conflicting data.
	StateHalted State = "halted"
	// StateAborted means the run was cancelled mid-flight. Merges
	// already committed remain valid.
	StateAborted State = "aborted"
)

// Outcome classifies a single extraction attempt.
type Outcome string

const (
	OutcomeMerged       Outcome = "merged"
	OutcomeNoNewInfo    Outcome = "no-new-info"
	OutcomeNoAnswer     Outcome = "no-answer"
	OutcomeParseFailed  Outcome = "parse-failed"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeGatewayError Outcome = "gateway-error"
	OutcomeCanceled     Outcome = "canceled"
	OutcomeViolation    Outcome = "invariant-violation"
)

// Attempt kinds.
const (
	KindInitial = "initial"
	KindRepair  = "repair"
	KindEnrich  = "enrich"
)

// Attempt records one extraction call: what was asked, what came back,
// and what happened to it. Attempts are kept for diagnostics and replay.
type Attempt struct {
	Seq       int               `json:"seq"`
	Kind      string            `json:"kind"`
	GapIDs    []string          `json:"gap_ids,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Response  string            `json:"response,omitempty"`
	Outcome   Outcome           `json:"outcome"`
	Detail    string            `json:"detail,omitempty"`
	Merged    graph.MergeReport `json:"merged"`
	ElapsedMs int64             `json:"elapsed_ms"`
}

// Config bounds a run.
type Config struct {
	// Budget is the maximum number of repair extraction calls.
	Budget int
	// BatchSize caps how many open gaps one repair call targets.
	BatchSize int
	// MemoryBudget bounds session memory in bytes; zero disables it.
	MemoryBudget int
	// MaxPromptChars splits oversized source text for initial passes.
	MaxPromptChars int
	// EnrichThin runs one extra pass for attribute-less entities after
	// the gap loop converges.
	EnrichThin bool
}

// Result is what every run ends with, regardless of how it ended: the
// terminal state, every gap with its final status, the attempt log, and
// the session memory for persistence.
type Result struct {
	State      State       `json:"state"`
	Gaps       []graph.Gap `json:"gaps"`
	Attempts   []Attempt   `json:"attempts"`
	Memory     []Exchange  `json:"memory,omitempty"`
	BudgetUsed int         `json:"budget_used"`
	Checks     int         `json:"checks"`
}

// OpenGaps returns gaps still open, which is only possible for aborted
// runs; converged and exhausted runs leave none open.
func (r *Result) OpenGaps() []graph.Gap {
	return r.gapsWithStatus(graph.GapOpen)
}

// UnresolvedGaps returns gaps labeled unresolved-exhausted.
func (r *Result) UnresolvedGaps() []graph.Gap {
	return r.gapsWithStatus(graph.GapExhausted)
}

func (r *Result) gapsWithStatus(status graph.GapStatus) []graph.Gap {
	var out []graph.Gap
	for _, g := range r.Gaps {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out
}

// Controller owns one run's loop state. It is not safe for concurrent
// use; each run gets its own controller, store, and session.
type Controller struct {
	x      *extract.Extractor
	store  *graph.Store
	policy graph.Policy
	cfg    Config

	session    *Session
	ledger     *ledger
	attempts   []Attempt
	seq        int
	budgetUsed int
	checks     int
	fb         *extract.Feedback
	enriched   bool
}

// New builds a controller around an extractor and the store it merges
// into. Zero-value config fields get working defaults.
func New(x *extract.Extractor, store *graph.Store, policy graph.Policy, cfg Config) *Controller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.Budget < 0 {
		cfg.Budget = 0
	}
	return &Controller{
		x:       x,
		store:   store,
		policy:  policy,
		cfg:     cfg,
		session: NewSession(cfg.MemoryBudget),
		ledger:  newLedger(),
	}
}

// Restore primes the controller with state from an earlier run so
// Resume can continue repair without re-running initial extraction.
// Gap identities, session memory, and attempt numbering carry over; the
// repair budget starts fresh.
func (c *Controller) Restore(gaps []graph.Gap, memory []Exchange, lastSeq int) {
	for _, g := range gaps {
		c.ledger.admit(g)
	}
	c.session = RestoreSession(c.cfg.MemoryBudget, memory)
	c.seq = lastSeq
}

// Run executes the full state machine over one source text: initial
// extraction (chunked when the text exceeds the prompt budget), then
// check/repair rounds until convergence, budget exhaustion, violation,
// or cancellation. The returned Result is never nil; the error is
// non-nil only for invariant violations and cancellation.
func (c *Controller) Run(ctx context.Context, source string) (*Result, error) {
	pieces := chunker.Split(source, c.cfg.MaxPromptChars)
	slog.Info("repair: run starting",
		"source_chars", len(source),
		"source_tokens", chunker.EstimateTokens(source),
		"chunks", len(pieces),
		"budget", c.cfg.Budget,
		"batch_size", c.cfg.BatchSize)

	for _, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return c.finish(StateAborted), err
		}
		if res, err := c.initialPass(ctx, piece); res != nil {
			return res, err
		}
	}
	return c.loop(ctx, source)
}

// Resume continues the check/repair loop on a restored controller.
func (c *Controller) Resume(ctx context.Context, source string) (*Result, error) {
	slog.Info("repair: resuming run",
		"known_gaps", len(c.ledger.all()),
		"budget", c.cfg.Budget)
	return c.loop(ctx, source)
}

// initialPass extracts one chunk, retrying with self-correction
// feedback while the repair budget allows. A chunk whose extraction
// never succeeds is abandoned; the checker will surface what is missing.
// The non-nil Result short-circuits the run (violation or cancellation).
func (c *Controller) initialPass(ctx context.Context, piece string) (*Result, error) {
	for {
		att, err := c.attempt(ctx, KindInitial, nil, func() (graph.Fragment, extract.Trace, error) {
			return c.x.Initial(ctx, piece, c.session.Messages(), c.fb)
		})
		if err != nil {
			return c.finish(StateHalted), err
		}
		switch att.Outcome {
		case OutcomeMerged, OutcomeNoNewInfo, OutcomeNoAnswer:
			c.fb = nil
			return nil, nil
		case OutcomeCanceled:
			return c.finish(StateAborted), ctx.Err()
		}
		if c.budgetUsed >= c.cfg.Budget {
			slog.Warn("repair: abandoning chunk, extraction failing and budget spent",
				"outcome", att.Outcome)
			c.fb = nil
			return nil, nil
		}
		c.budgetUsed++
	}
}

// loop is the CHECK / REPAIRING cycle.
func (c *Controller) loop(ctx context.Context, source string) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(StateAborted), err
		}

		c.checks++
		detected := graph.Check(c.store, c.policy)
		open := c.ledger.reconcile(detected)
		slog.Info("repair: check complete",
			"check", c.checks,
			"detected", len(detected),
			"open", len(open),
			"budget_used", c.budgetUsed)

		if len(open) == 0 {
			res, again, err := c.maybeEnrich(ctx, source)
			if res != nil {
				return res, err
			}
			if again {
				continue
			}
			return c.finish(StateConverged), nil
		}

		if c.budgetUsed >= c.cfg.Budget {
			c.ledger.exhaustOpen()
			return c.finish(StateBudgetExhausted), nil
		}

		batch := open
		if len(batch) > c.cfg.BatchSize {
			batch = batch[:c.cfg.BatchSize]
		}
		c.budgetUsed++
		att, err := c.attempt(ctx, KindRepair, batch, func() (graph.Fragment, extract.Trace, error) {
			return c.x.Repair(ctx, batch, source, c.session.Messages(), c.fb)
		})
		if err != nil {
			return c.finish(StateHalted), err
		}
		if att.Outcome == OutcomeCanceled {
			return c.finish(StateAborted), ctx.Err()
		}
	}
}

// maybeEnrich runs the one optional enrichment pass for thin entities
// after the gap loop finds nothing open. A non-nil result ends the run;
// again=true asks the loop to re-check, since enrichment merges data
// the checker has not seen yet.
func (c *Controller) maybeEnrich(ctx context.Context, source string) (res *Result, again bool, err error) {
	if !c.cfg.EnrichThin || c.enriched {
		return nil, false, nil
	}
	c.enriched = true
	names := thinNames(c.store)
	if len(names) == 0 {
		return nil, false, nil
	}
	slog.Info("repair: enriching thin entities", "count", len(names))
	att, err := c.attempt(ctx, KindEnrich, nil, func() (graph.Fragment, extract.Trace, error) {
		return c.x.Enrich(ctx, names, source, c.session.Messages())
	})
	if err != nil {
		return c.finish(StateHalted), false, err
	}
	if att.Outcome == OutcomeCanceled {
		return c.finish(StateAborted), false, ctx.Err()
	}
	return nil, true, nil
}

// attempt performs one extraction call, merges any fragment, classifies
// the outcome, and appends the record. The returned error is non-nil
// only for graph invariant violations.
func (c *Controller) attempt(ctx context.Context, kind string, gaps []graph.Gap, call func() (graph.Fragment, extract.Trace, error)) (Attempt, error) {
	start := time.Now()
	frag, trace, err := call()

	c.seq++
	att := Attempt{
		Seq:      c.seq,
		Kind:     kind,
		Prompt:   trace.Prompt,
		Response: trace.Response,
	}
	for _, g := range gaps {
		att.GapIDs = append(att.GapIDs, g.ID)
	}

	switch {
	case err == nil:
		report, merr := c.store.Merge(frag, passForKind(kind))
		if merr != nil {
			att.Outcome = OutcomeViolation
			att.Detail = merr.Error()
			c.record(&att, start)
			return att, merr
		}
		att.Merged = report
		if report.Changed() {
			att.Outcome = OutcomeMerged
		} else {
			att.Outcome = OutcomeNoNewInfo
		}
		c.session.Append(trace.Prompt, trace.Response)
		c.fb = nil

	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		att.Outcome = OutcomeCanceled
		att.Detail = err.Error()

	case errors.Is(err, extract.ErrEmpty):
		att.Outcome = OutcomeNoAnswer
		att.Detail = "model returned an empty result"
		c.fb = nil

	case errors.Is(err, extract.ErrParse):
		if noAnswer(trace.Response) {
			att.Outcome = OutcomeNoAnswer
			att.Detail = "model reported nothing to add"
			c.fb = nil
		} else {
			att.Outcome = OutcomeParseFailed
			att.Detail = err.Error()
			c.fb = &extract.Feedback{Previous: trace.Response, Diagnostic: err.Error()}
		}

	case errors.Is(err, llm.ErrMalformedResponse):
		att.Outcome = OutcomeMalformed
		att.Detail = err.Error()
		c.fb = &extract.Feedback{
			Previous:   "(the backend returned a response that could not be decoded)",
			Diagnostic: err.Error(),
		}

	default:
		// ErrUnavailable, ErrTimeout, and anything else from the
		// gateway. Transient as far as the loop is concerned; the
		// budget bounds how often it is worth retrying.
		att.Outcome = OutcomeGatewayError
		att.Detail = err.Error()
	}

	c.record(&att, start)
	return att, nil
}

func (c *Controller) record(att *Attempt, start time.Time) {
	att.ElapsedMs = time.Since(start).Milliseconds()
	c.attempts = append(c.attempts, *att)

	args := []any{
		"seq", att.Seq,
		"kind", att.Kind,
		"outcome", string(att.Outcome),
		"entities_added", att.Merged.EntitiesAdded,
		"connections_added", att.Merged.ConnectionsAdded,
		"elapsed", time.Duration(att.ElapsedMs) * time.Millisecond,
	}
	switch att.Outcome {
	case OutcomeParseFailed, OutcomeMalformed, OutcomeGatewayError, OutcomeViolation:
		slog.Warn("repair: attempt finished", args...)
	default:
		slog.Info("repair: attempt finished", args...)
	}
}

func (c *Controller) finish(state State) *Result {
	res := &Result{
		State:      state,
		Gaps:       c.ledger.all(),
		Attempts:   c.attempts,
		Memory:     c.session.Exchanges(),
		BudgetUsed: c.budgetUsed,
		Checks:     c.checks,
	}
	slog.Info("repair: run finished",
		"state", string(state),
		"gaps", len(res.Gaps),
		"unresolved", len(res.UnresolvedGaps()),
		"attempts", len(res.Attempts),
		"budget_used", res.BudgetUsed,
		"entities", c.store.EntityCount(),
		"connections", c.store.ConnectionCount())
	return res
}

func passForKind(kind string) string {
	switch kind {
	case KindRepair:
		return graph.PassRepair
	case KindEnrich:
		return graph.PassEnrich
	default:
		return graph.PassInitial
	}
}

const maxEnrichEntities = 12

// thinNames lists entities with no attributes, capped so the enrich
// prompt stays focused.
func thinNames(s *graph.Store) []string {
	var names []string
	for _, e := range s.Entities() {
		if e.Thin() {
			names = append(names, e.ID)
			if len(names) == maxEnrichEntities {
				break
			}
		}
	}
	return names
}

// noAnswerMarkers are hedge phrases a model uses to decline instead of
// emitting the empty object the prompt asks for.
var noAnswerMarkers = []string{
	"no new information",
	"nothing to add",
	"not enough information",
	"insufficient information",
	"cannot determine",
	"no entities",
	"not mentioned",
	"does not mention",
	"unable to find",
	"it's unclear",
	"i'm not sure",
}

func noAnswer(response string) bool {
	lower := strings.ToLower(response)
	for _, m := range noAnswerMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ledger tracks every gap ever detected across checks, keyed by the
// gap's structural identity so re-detections map to the same record.
type ledger struct {
	gaps  map[string]*graph.Gap
	order []string
}

func newLedger() *ledger {
	return &ledger{gaps: make(map[string]*graph.Gap)}
}

// admit registers a gap, keeping an existing ID or assigning a fresh
// one. Used for restoring persisted gaps.
func (l *ledger) admit(g graph.Gap) {
	key := g.Key()
	if _, ok := l.gaps[key]; ok {
		return
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	stored := g
	l.gaps[key] = &stored
	l.order = append(l.order, key)
}

// reconcile aligns the ledger with the checker's current findings and
// returns the open gaps in checker priority order. Gaps no longer
// detected become resolved; gaps detected again are (re)opened, keeping
// their identity.
func (l *ledger) reconcile(detected []graph.Gap) []graph.Gap {
	seen := make(map[string]bool, len(detected))
	open := make([]graph.Gap, 0, len(detected))

	for _, d := range detected {
		key := d.Key()
		seen[key] = true
		g, ok := l.gaps[key]
		if !ok {
			d.ID = uuid.NewString()
			d.Status = graph.GapOpen
			stored := d
			l.gaps[key] = &stored
			l.order = append(l.order, key)
			g = &stored
		} else {
			g.Status = graph.GapOpen
			g.Reason = d.Reason
			g.Similarity = d.Similarity
		}
		open = append(open, *g)
	}

	for key, g := range l.gaps {
		if !seen[key] && g.Status != graph.GapResolved {
			g.Status = graph.GapResolved
		}
	}
	return open
}

// exhaustOpen relabels all open gaps as unresolved-exhausted. Called
// once when the budget runs out with gaps remaining.
func (l *ledger) exhaustOpen() {
	for _, g := range l.gaps {
		if g.Status == graph.GapOpen {
			g.Status = graph.GapExhausted
		}
	}
}

// all returns every tracked gap in admission order.
func (l *ledger) all() []graph.Gap {
	out := make([]graph.Gap, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, *l.gaps[key])
	}
	return out
}

package repair

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/graphmend/extract"
	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/llm"
)

// scriptedProvider plays back a fixed sequence of completions so the
// controller, extractor, and parser are exercised together. Calls past
// the end of the script get an honest empty answer.
type scriptedProvider struct {
	steps    []scriptStep
	calls    int
	requests []llm.CompleteRequest
	cancel   context.CancelFunc
}

type scriptStep struct {
	text string
	err  error
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompleteRequest) (*llm.CompleteResponse, error) {
	p.requests = append(p.requests, req)
	if p.calls >= len(p.steps) {
		return &llm.CompleteResponse{Text: `{"entities": [], "connections": []}`}, nil
	}
	step := p.steps[p.calls]
	p.calls++
	if step.err != nil {
		if p.cancel != nil {
			p.cancel()
		}
		return nil, step.err
	}
	return &llm.CompleteResponse{Text: step.text}, nil
}

func (p *scriptedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

const fullGraphJSON = `{"entities": [{"name": "alice", "type": "person"}, {"name": "acme", "type": "organization"}, {"name": "denver", "type": "location"}], "connections": [{"source": "alice", "target": "acme", "relation": "works_at", "weight": 0.9}, {"source": "acme", "target": "denver", "relation": "located_in", "weight": 0.9}]}`

const partialGraphJSON = `{"entities": [{"name": "alice", "type": "person"}, {"name": "acme", "type": "organization"}], "connections": [{"source": "alice", "target": "acme", "relation": "works_at", "weight": 0.9}]}`

const locatedInRepairJSON = `{"entities": [{"name": "denver", "type": "location"}], "connections": [{"source": "acme", "target": "denver", "relation": "located_in", "weight": 0.8}]}`

func orgPolicy() graph.Policy {
	return graph.Policy{
		RequiredRelations:  map[string][]string{graph.EntityOrg: {graph.RelLocatedIn}},
		DuplicateThreshold: 0.5,
	}
}

func newTestController(p *scriptedProvider, policy graph.Policy, cfg Config) (*Controller, *graph.Store) {
	if cfg.MemoryBudget == 0 {
		cfg.MemoryBudget = 16384
	}
	store := graph.NewStore()
	x := extract.New(p, extract.Options{})
	return New(x, store, policy, cfg), store
}

func outcomes(attempts []Attempt) []Outcome {
	out := make([]Outcome, len(attempts))
	for i, a := range attempts {
		out[i] = a.Outcome
	}
	return out
}

func assertOutcomes(t *testing.T, attempts []Attempt, want ...Outcome) {
	t.Helper()
	got := outcomes(attempts)
	if len(got) != len(want) {
		t.Fatalf("attempt outcomes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt outcomes = %v, want %v", got, want)
		}
	}
}

func TestRunConvergesAfterCleanInitialExtraction(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{text: fullGraphJSON}}}
	c, store := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s, want converged", res.State)
	}
	if len(res.Gaps) != 0 {
		t.Fatalf("gaps = %+v, want none", res.Gaps)
	}
	if res.BudgetUsed != 0 {
		t.Errorf("budget used = %d, want 0", res.BudgetUsed)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
	if store.EntityCount() != 3 || store.ConnectionCount() != 2 {
		t.Errorf("store has %d entities, %d connections", store.EntityCount(), store.ConnectionCount())
	}
	assertOutcomes(t, res.Attempts, OutcomeMerged)
}

func TestRunExhaustsBudgetWhenModelHasNoAnswer(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{text: "I'm not sure where Acme is located."},
		{text: "The text does not mention a location."},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 2})

	res, err := c.Run(context.Background(), "Alice works at Acme.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateBudgetExhausted {
		t.Fatalf("state = %s, want budget-exhausted", res.State)
	}
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 1 initial + 2 repair", p.calls)
	}
	if res.BudgetUsed != 2 {
		t.Errorf("budget used = %d, want 2", res.BudgetUsed)
	}

	unresolved := res.UnresolvedGaps()
	if len(unresolved) != 1 {
		t.Fatalf("unresolved = %+v, want one gap", unresolved)
	}
	g := unresolved[0]
	if g.Kind != graph.GapOrphan || g.EntityID != "acme" || g.MissingRelation != graph.RelLocatedIn {
		t.Errorf("gap = %+v", g)
	}
	if g.ID == "" {
		t.Error("gap should carry an assigned ID")
	}
	assertOutcomes(t, res.Attempts, OutcomeMerged, OutcomeNoAnswer, OutcomeNoAnswer)

	// The repair prompt must be scoped to the gap.
	repairReq := p.requests[1]
	if !strings.Contains(repairReq.Prompt, `"acme"`) || !strings.Contains(repairReq.Prompt, "located_in") {
		t.Errorf("repair prompt not gap-scoped:\n%s", repairReq.Prompt)
	}
}

func TestRunRepairsOrphanAndConverges(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{text: locatedInRepairJSON},
	}}
	c, store := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s, want converged", res.State)
	}
	if res.BudgetUsed != 1 {
		t.Errorf("budget used = %d, want 1", res.BudgetUsed)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Status != graph.GapResolved {
		t.Fatalf("gaps = %+v, want one resolved", res.Gaps)
	}
	conn, ok := store.Connection("acme", graph.RelLocatedIn, "denver")
	if !ok {
		t.Fatal("repaired connection missing")
	}
	if conn.Pass != graph.PassRepair {
		t.Errorf("connection pass = %q, want repair", conn.Pass)
	}
	if conn.Confidence != graph.ConfidenceForPass(graph.PassRepair) {
		t.Errorf("confidence = %v", conn.Confidence)
	}
}

func TestRunSessionMemoryCarriedIntoRepairs(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{text: locatedInRepairJSON},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 3})

	if _, err := c.Run(context.Background(), "Alice works at Acme."); err != nil {
		t.Fatalf("Run: %v", err)
	}

	repairReq := p.requests[1]
	if len(repairReq.History) != 2 {
		t.Fatalf("repair history = %d messages, want 2", len(repairReq.History))
	}
	if repairReq.History[1].Content != partialGraphJSON {
		t.Errorf("history should carry the prior response, got %q", repairReq.History[1].Content)
	}
}

func TestRunMalformedResponseConsumesBudgetAndRetries(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{err: llm.ErrMalformedResponse},
		{text: locatedInRepairJSON},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s, want converged", res.State)
	}
	if res.BudgetUsed != 2 {
		t.Errorf("budget used = %d, want 2", res.BudgetUsed)
	}
	assertOutcomes(t, res.Attempts, OutcomeMerged, OutcomeMalformed, OutcomeMerged)
}

func TestRunParseFailureFeedsBackPreviousOutput(t *testing.T) {
	garbage := "Here you go, hope this helps somehow"
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{text: garbage},
		{text: locatedInRepairJSON},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s, want converged", res.State)
	}
	assertOutcomes(t, res.Attempts, OutcomeMerged, OutcomeParseFailed, OutcomeMerged)

	// The retry prompt shows the model its own invalid output.
	retry := p.requests[2].Prompt
	if !strings.Contains(retry, "could not be parsed") || !strings.Contains(retry, garbage) {
		t.Errorf("self-correction feedback missing from retry prompt:\n%s", retry)
	}
}

func TestRunGatewayErrorsConvertToBudgetConsumption(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{err: llm.ErrUnavailable},
		{err: llm.ErrTimeout},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 2})

	res, err := c.Run(context.Background(), "Alice works at Acme.")
	if err != nil {
		t.Fatalf("gateway failures must not propagate, got %v", err)
	}
	if res.State != StateBudgetExhausted {
		t.Fatalf("state = %s, want budget-exhausted", res.State)
	}
	assertOutcomes(t, res.Attempts, OutcomeMerged, OutcomeGatewayError, OutcomeGatewayError)
	if len(res.UnresolvedGaps()) != 1 {
		t.Errorf("unresolved = %+v", res.UnresolvedGaps())
	}
}

func TestRunBudgetBoundsRepairCalls(t *testing.T) {
	// Every repair attempt merges nothing new, so only the budget stops
	// the loop.
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{text: partialGraphJSON},
		{text: partialGraphJSON},
		{text: partialGraphJSON},
		{text: partialGraphJSON},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(context.Background(), "Alice works at Acme.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateBudgetExhausted {
		t.Fatalf("state = %s", res.State)
	}
	if p.calls != 4 {
		t.Errorf("provider calls = %d, want 1 initial + 3 repair", p.calls)
	}
	assertOutcomes(t, res.Attempts, OutcomeMerged, OutcomeNoNewInfo, OutcomeNoNewInfo, OutcomeNoNewInfo)
}

func TestRunOpenGapCountMonotonic(t *testing.T) {
	twoOrgs := `{"entities": [{"name": "acme", "type": "organization"}, {"name": "globex", "type": "organization"}, {"name": "alice", "type": "person"}], "connections": [{"source": "alice", "target": "acme", "relation": "works_at"}, {"source": "alice", "target": "globex", "relation": "works_at"}]}`
	fixAcme := `{"entities": [{"name": "denver", "type": "location"}], "connections": [{"source": "acme", "target": "denver", "relation": "located_in"}]}`
	fixGlobex := `{"entities": [{"name": "berlin", "type": "location"}], "connections": [{"source": "globex", "target": "berlin", "relation": "located_in"}]}`

	p := &scriptedProvider{steps: []scriptStep{
		{text: twoOrgs},
		{text: fixAcme},
		{text: fixGlobex},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 5, BatchSize: 1})

	res, err := c.Run(context.Background(), "Alice works at Acme and Globex. Acme is in Denver, Globex in Berlin.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s", res.State)
	}
	if res.BudgetUsed != 2 {
		t.Errorf("budget used = %d, want 2", res.BudgetUsed)
	}
	if res.Checks != 3 {
		t.Errorf("checks = %d, want 3", res.Checks)
	}
	for _, g := range res.Gaps {
		if g.Status != graph.GapResolved {
			t.Errorf("gap %+v should be resolved", g)
		}
	}

	// BatchSize 1 must target the highest-priority gap first: acme was
	// merged before globex, so it is repaired first.
	first := p.requests[1].Prompt
	if !strings.Contains(first, `"acme"`) || strings.Contains(first, `"globex"`) {
		t.Errorf("first repair should target acme only:\n%s", first)
	}
}

func TestRunInitialParseFailureRetriesWithFeedback(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{
		{text: "completely unusable reply"},
		{text: fullGraphJSON},
	}}
	c, _ := newTestController(p, orgPolicy(), Config{Budget: 2})

	res, err := c.Run(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s", res.State)
	}
	if res.BudgetUsed != 1 {
		t.Errorf("budget used = %d, want 1 for the initial retry", res.BudgetUsed)
	}
	assertOutcomes(t, res.Attempts, OutcomeParseFailed, OutcomeMerged)
	if !strings.Contains(p.requests[1].Prompt, "could not be parsed") {
		t.Error("initial retry should carry self-correction feedback")
	}
}

func TestRunChunksOversizedSource(t *testing.T) {
	chunkOne := `{"entities": [{"name": "alice", "type": "person"}], "connections": []}`
	chunkTwo := `{"entities": [{"name": "bob", "type": "person"}], "connections": []}`
	p := &scriptedProvider{steps: []scriptStep{
		{text: chunkOne},
		{text: chunkTwo},
	}}
	c, store := newTestController(p, graph.Policy{DuplicateThreshold: 0.5}, Config{Budget: 0, MaxPromptChars: 120})

	// Two ~112-char paragraphs against a 120-char budget force one
	// initial extraction per paragraph.
	source := strings.TrimSpace(strings.Repeat("Alice did many things here. ", 4)) + "\n\n" +
		strings.TrimSpace(strings.Repeat("Bob did other things there. ", 4))
	res, err := c.Run(context.Background(), source)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("provider calls = %d, want one per chunk", p.calls)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Kind != KindInitial || res.Attempts[1].Kind != KindInitial {
		t.Errorf("attempts = %+v", outcomes(res.Attempts))
	}
	if _, ok := store.Entity("alice"); !ok {
		t.Error("entity from first chunk missing")
	}
	if _, ok := store.Entity("bob"); !ok {
		t.Error("entity from second chunk missing")
	}
	// Both entities are connectionless orphans and the budget is zero,
	// so the run reports them rather than hiding them.
	if res.State != StateBudgetExhausted {
		t.Errorf("state = %s, want budget-exhausted", res.State)
	}
	if len(res.UnresolvedGaps()) != 2 {
		t.Errorf("unresolved = %+v, want both orphans", res.UnresolvedGaps())
	}
}

func TestRunInvariantViolationHaltsWithPartialResult(t *testing.T) {
	conflict := `{"entities": [{"name": "acme", "type": "location"}], "connections": []}`
	p := &scriptedProvider{steps: []scriptStep{
		{text: partialGraphJSON},
		{text: conflict},
	}}
	c, store := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(context.Background(), "Alice works at Acme.")
	if !errors.Is(err, graph.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if res == nil {
		t.Fatal("halted run must still return a result")
	}
	if res.State != StateHalted {
		t.Errorf("state = %s, want halted", res.State)
	}
	last := res.Attempts[len(res.Attempts)-1]
	if last.Outcome != OutcomeViolation {
		t.Errorf("last outcome = %s", last.Outcome)
	}
	// Committed state stays intact.
	e, ok := store.Entity("acme")
	if !ok || e.Type != graph.EntityOrg {
		t.Errorf("entity after halt = %+v", e)
	}
}

func TestRunCancellationAbortsWithoutCorruption(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{
		steps: []scriptStep{
			{text: partialGraphJSON},
			{err: context.Canceled},
		},
		cancel: cancel,
	}
	c, store := newTestController(p, orgPolicy(), Config{Budget: 3})

	res, err := c.Run(ctx, "Alice works at Acme.")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.State != StateAborted {
		t.Fatalf("state = %s, want aborted", res.State)
	}
	// Merges committed before cancellation survive.
	if store.EntityCount() != 2 {
		t.Errorf("entities = %d, want 2", store.EntityCount())
	}
	// The interrupted gap stays open, not exhausted.
	open := res.OpenGaps()
	if len(open) != 1 {
		t.Fatalf("open gaps = %+v, want 1", open)
	}
}

func TestRunEnrichesThinEntitiesAfterConvergence(t *testing.T) {
	enriched := `{"entities": [{"name": "acme", "type": "organization", "attrs": {"industry": "robotics"}}], "connections": []}`
	p := &scriptedProvider{steps: []scriptStep{
		{text: fullGraphJSON},
		{text: enriched},
	}}
	c, store := newTestController(p, orgPolicy(), Config{Budget: 2, EnrichThin: true})

	res, err := c.Run(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateConverged {
		t.Fatalf("state = %s", res.State)
	}
	if len(res.Attempts) != 2 || res.Attempts[1].Kind != KindEnrich {
		t.Fatalf("attempts = %+v", res.Attempts)
	}
	if res.BudgetUsed != 0 {
		t.Errorf("enrich should not consume repair budget, used = %d", res.BudgetUsed)
	}
	// The enrich prompt lists the thin entities by identifier.
	if !strings.Contains(p.requests[1].Prompt, "- acme") {
		t.Error("enrich prompt should list thin entities")
	}

	e, _ := store.Entity("acme")
	if e.Attrs["industry"] != "robotics" {
		t.Errorf("entity not enriched: %+v", e)
	}
	if !containsPass(e.Passes, graph.PassEnrich) {
		t.Errorf("passes = %v", e.Passes)
	}
}

func containsPass(passes []string, pass string) bool {
	for _, p := range passes {
		if p == pass {
			return true
		}
	}
	return false
}

func TestResumeContinuesWithoutInitialExtraction(t *testing.T) {
	// First run exhausts a zero budget, leaving the orphan unresolved.
	p1 := &scriptedProvider{steps: []scriptStep{{text: partialGraphJSON}}}
	c1, store := newTestController(p1, orgPolicy(), Config{Budget: 0})
	first, err := c1.Run(context.Background(), "Alice works at Acme.")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.State != StateBudgetExhausted {
		t.Fatalf("first state = %s", first.State)
	}
	gapID := first.Gaps[0].ID
	lastSeq := first.Attempts[len(first.Attempts)-1].Seq

	// Resume over the same store with budget to spend.
	p2 := &scriptedProvider{steps: []scriptStep{{text: locatedInRepairJSON}}}
	x2 := extract.New(p2, extract.Options{})
	c2 := New(x2, store, orgPolicy(), Config{Budget: 2, MemoryBudget: 16384})
	c2.Restore(first.Gaps, first.Memory, lastSeq)

	second, err := c2.Resume(context.Background(), "Alice works at Acme. Acme is located in Denver.")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if second.State != StateConverged {
		t.Fatalf("second state = %s", second.State)
	}
	if p2.calls != 1 {
		t.Errorf("resume calls = %d, want 1 repair and no initial", p2.calls)
	}
	if len(second.Gaps) != 1 {
		t.Fatalf("gaps = %+v", second.Gaps)
	}
	if second.Gaps[0].ID != gapID {
		t.Error("gap identity must survive resume")
	}
	if second.Gaps[0].Status != graph.GapResolved {
		t.Errorf("gap status = %s, want resolved", second.Gaps[0].Status)
	}
	if second.Attempts[0].Seq != lastSeq+1 {
		t.Errorf("attempt seq = %d, want %d", second.Attempts[0].Seq, lastSeq+1)
	}
}

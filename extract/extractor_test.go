package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/llm"
)

// fakeProvider scripts completions and records the last request so
// tests can assert on the prompt the extractor actually sent.
type fakeProvider struct {
	lastReq llm.CompleteRequest
	respond func(llm.CompleteRequest) (*llm.CompleteResponse, error)
}

func (f *fakeProvider) Complete(_ context.Context, req llm.CompleteRequest) (*llm.CompleteResponse, error) {
	f.lastReq = req
	if f.respond != nil {
		return f.respond(req)
	}
	return &llm.CompleteResponse{Text: `{"entities": [], "connections": []}`}, nil
}

func (f *fakeProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func respondWith(text string) func(llm.CompleteRequest) (*llm.CompleteResponse, error) {
	return func(llm.CompleteRequest) (*llm.CompleteResponse, error) {
		return &llm.CompleteResponse{Text: text}, nil
	}
}

func TestExtractorInitial(t *testing.T) {
	fp := &fakeProvider{respond: respondWith(`{"entities": [{"name": "alice rivera", "type": "person"}], "connections": []}`)}
	x := New(fp, Options{Model: "test-model", Temperature: 0.1, MaxTokens: 400})

	frag, trace, err := x.Initial(context.Background(), "Alice Rivera works at Acme.", nil, nil)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if len(frag.Entities) != 1 {
		t.Fatalf("entities = %+v", frag.Entities)
	}

	req := fp.lastReq
	if !req.JSONMode {
		t.Error("JSONMode should be set")
	}
	if req.Model != "test-model" || req.MaxTokens != 400 {
		t.Errorf("request options not forwarded: %+v", req)
	}
	if req.System == "" {
		t.Error("system prompt missing")
	}
	if !strings.Contains(req.Prompt, "Alice Rivera works at Acme.") {
		t.Error("prompt should embed the source text")
	}
	if trace.Prompt != req.Prompt {
		t.Error("trace prompt should match the sent prompt")
	}
	if trace.Response == "" {
		t.Error("trace response should be recorded")
	}
}

func TestExtractorInitialFeedback(t *testing.T) {
	fp := &fakeProvider{respond: respondWith(`{"entities": [{"name": "x", "type": "term"}], "connections": []}`)}
	x := New(fp, Options{})

	fb := &Feedback{Previous: "I am not JSON at all", Diagnostic: "no structured fragments recovered"}
	_, _, err := x.Initial(context.Background(), "text", nil, fb)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if !strings.Contains(fp.lastReq.Prompt, "could not be parsed") {
		t.Error("feedback preamble missing")
	}
	if !strings.Contains(fp.lastReq.Prompt, "I am not JSON at all") {
		t.Error("previous output missing from prompt")
	}
	if !strings.Contains(fp.lastReq.Prompt, "no structured fragments recovered") {
		t.Error("diagnostic missing from prompt")
	}
}

func TestExtractorRepairScopesPrompt(t *testing.T) {
	fp := &fakeProvider{respond: respondWith(`{"entities": [], "connections": [{"source": "acme corp", "target": "berlin", "relation": "located_in"}]}`)}
	x := New(fp, Options{})

	source := "Filler sentence with nothing. Acme Corp is based in Berlin. More filler here."
	gaps := []graph.Gap{{
		Kind:            graph.GapOrphan,
		EntityID:        "acme corp",
		MissingRelation: graph.RelLocatedIn,
	}}

	frag, _, err := x.Repair(context.Background(), gaps, source, nil, nil)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(frag.Connections) != 1 {
		t.Fatalf("connections = %+v", frag.Connections)
	}

	prompt := fp.lastReq.Prompt
	if !strings.Contains(prompt, `"acme corp"`) {
		t.Error("prompt should name the gap entity")
	}
	if !strings.Contains(prompt, "Acme Corp is based in Berlin.") {
		t.Error("prompt should include the matching excerpt")
	}
	if strings.Contains(prompt, "Filler sentence with nothing") {
		t.Error("prompt should not include unrelated sentences")
	}
}

func TestExtractorSessionMemoryForwarded(t *testing.T) {
	fp := &fakeProvider{respond: respondWith(`{"entities": [{"name": "x", "type": "term"}], "connections": []}`)}
	x := New(fp, Options{})

	memory := []llm.Message{
		{Role: "user", Content: "earlier prompt"},
		{Role: "assistant", Content: "earlier answer"},
	}
	if _, _, err := x.Initial(context.Background(), "text", memory, nil); err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if len(fp.lastReq.History) != 2 {
		t.Fatalf("history = %+v", fp.lastReq.History)
	}
	if fp.lastReq.History[1].Content != "earlier answer" {
		t.Errorf("history order wrong: %+v", fp.lastReq.History)
	}
}

func TestExtractorGatewayErrorPassesThrough(t *testing.T) {
	fp := &fakeProvider{respond: func(llm.CompleteRequest) (*llm.CompleteResponse, error) {
		return nil, llm.ErrUnavailable
	}}
	x := New(fp, Options{})

	_, trace, err := x.Initial(context.Background(), "text", nil, nil)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if trace.Response != "" {
		t.Error("no response should be recorded on gateway failure")
	}
}

func TestExtractorParseError(t *testing.T) {
	fp := &fakeProvider{respond: respondWith("Sorry, I cannot help with that.")}
	x := New(fp, Options{})

	_, trace, err := x.Initial(context.Background(), "text", nil, nil)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if trace.Response != "Sorry, I cannot help with that." {
		t.Errorf("trace response = %q", trace.Response)
	}
}

func TestExtractorEnrich(t *testing.T) {
	fp := &fakeProvider{respond: respondWith(`{"entities": [{"name": "acme corp", "type": "organization", "attrs": {"industry": "manufacturing"}}], "connections": []}`)}
	x := New(fp, Options{})

	frag, _, err := x.Enrich(context.Background(), []string{"acme corp"}, "Acme Corp makes industrial valves.", nil)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if frag.Entities[0].Attrs["industry"] != "manufacturing" {
		t.Errorf("entities = %+v", frag.Entities)
	}
	if !strings.Contains(fp.lastReq.Prompt, "- acme corp") {
		t.Error("prompt should list the thin entity")
	}
}

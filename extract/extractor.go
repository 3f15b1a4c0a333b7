package extract

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/graphmend/graph"
	"github.com/brunobiangulo/graphmend/llm"
)

// Options tune every completion the extractor issues. Zero values fall
// back to the provider's defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Trace records the raw exchange behind one extraction call so the
// caller can log it alongside the outcome. Response is empty when the
// gateway never produced one.
type Trace struct {
	Prompt   string
	Response string
}

// Extractor turns source text into graph fragments through a model
// gateway. It performs exactly one completion per call; retry policy
// belongs to the caller, which owns the repair budget.
type Extractor struct {
	provider llm.Provider
	opts     Options
}

// New builds an Extractor over the given provider.
func New(provider llm.Provider, opts Options) *Extractor {
	return &Extractor{provider: provider, opts: opts}
}

// Initial runs a full extraction pass over one piece of source text.
// Session memory rides along as conversation history, and feedback from
// a previous failed attempt, when present, is folded into the prompt.
func (x *Extractor) Initial(ctx context.Context, text string, memory []llm.Message, fb *Feedback) (graph.Fragment, Trace, error) {
	prompt := BuildInitialPrompt(text)
	if fb != nil {
		prompt = WithFeedback(prompt, *fb)
	}
	return x.complete(ctx, prompt, memory)
}

// Repair runs a gap-scoped pass: it selects source excerpts mentioning
// the gap entities and asks only for the fragments the gaps need.
func (x *Extractor) Repair(ctx context.Context, gaps []graph.Gap, source string, memory []llm.Message, fb *Feedback) (graph.Fragment, Trace, error) {
	excerpts := Excerpts(source, GapTerms(gaps))
	prompt := BuildRepairPrompt(gaps, excerpts)
	if fb != nil {
		prompt = WithFeedback(prompt, *fb)
	}
	return x.complete(ctx, prompt, memory)
}

// Enrich asks for attributes and connections for entities extracted as
// bare names.
func (x *Extractor) Enrich(ctx context.Context, names []string, source string, memory []llm.Message) (graph.Fragment, Trace, error) {
	excerpts := Excerpts(source, names)
	prompt := BuildEnrichPrompt(names, excerpts)
	return x.complete(ctx, prompt, memory)
}

func (x *Extractor) complete(ctx context.Context, prompt string, memory []llm.Message) (graph.Fragment, Trace, error) {
	trace := Trace{Prompt: prompt}

	resp, err := x.provider.Complete(ctx, llm.CompleteRequest{
		Model:       x.opts.Model,
		System:      systemPrompt,
		History:     memory,
		Prompt:      prompt,
		Temperature: x.opts.Temperature,
		MaxTokens:   x.opts.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return graph.Fragment{}, trace, fmt.Errorf("completion: %w", err)
	}
	trace.Response = resp.Text

	frag, err := Parse(resp.Text)
	if err != nil {
		return frag, trace, err
	}
	return frag, trace, nil
}

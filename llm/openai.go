package llm

import "context"

// openAIProvider implements Provider for the OpenAI API.
// Uses the standard OpenAI-compatible format for both completions and
// embeddings.
//
// Supported embedding models:
//
//	text-embedding-3-small  (1536 dim)  — default
//	text-embedding-3-large  (3072 dim)
//
// API key: set via config or the OPENAI_API_KEY env var picked up by the
// binaries.
type openAIProvider struct {
	base openAICompatClient
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &openAIProvider{base: newOpenAICompatClient(cfg)}
}

func (p *openAIProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	return p.base.complete(ctx, req)
}

func (p *openAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

package llm

import "context"

// xaiProvider implements Provider for xAI's Grok models (grok-2,
// grok-3-mini, etc.). xAI speaks the OpenAI-compatible API format but
// serves no embedding models, so Embed fails against its endpoint;
// pair it with an embedding-capable provider in the config.
//
// API key: set via config or the XAI_API_KEY env var picked up by the
// binaries.
type xaiProvider struct {
	base openAICompatClient
}

// NewXAI creates a provider for xAI (Grok).
func NewXAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai"
	}
	return &xaiProvider{base: newOpenAICompatClient(cfg)}
}

func (p *xaiProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	return p.base.complete(ctx, req)
}

func (p *xaiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

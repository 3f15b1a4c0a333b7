package llm

import "context"

// openRouterProvider implements Provider for OpenRouter, the
// multi-provider routing gateway. One API key reaches models from many
// upstream vendors; model names carry a vendor prefix, e.g.
// "meta-llama/llama-3.1-70b-instruct". OpenRouter speaks the
// OpenAI-compatible API format.
//
// API key: set via config or the OPENROUTER_API_KEY env var picked up
// by the binaries.
type openRouterProvider struct {
	base openAICompatClient
}

// NewOpenRouter creates a provider for OpenRouter.
func NewOpenRouter(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api"
	}
	return &openRouterProvider{base: newOpenAICompatClient(cfg)}
}

func (p *openRouterProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	return p.base.complete(ctx, req)
}

func (p *openRouterProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

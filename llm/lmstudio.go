package llm

import "context"

// lmStudioProvider implements Provider for LM Studio's local server,
// which exposes an OpenAI-compatible API. LM Studio does not check API
// keys but its client stacks expect one, so a placeholder is sent when
// none is configured.
type lmStudioProvider struct {
	base openAICompatClient
}

// NewLMStudio creates a provider for LM Studio.
func NewLMStudio(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:1234"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "lm-studio"
	}
	return &lmStudioProvider{base: newOpenAICompatClient(cfg)}
}

func (p *lmStudioProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	return p.base.complete(ctx, req)
}

func (p *lmStudioProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

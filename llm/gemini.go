package llm

import "context"

// geminiProvider implements Provider for Google's Gemini API using the
// OpenAI-compatible endpoint. Gemini uses a different path prefix than
// standard OpenAI providers (no /v1).
//
// API key: set via config or the GEMINI_API_KEY env var picked up by the
// binaries.
type geminiProvider struct {
	base openAICompatClient
}

// NewGemini creates a provider for Google Gemini.
func NewGemini(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return &geminiProvider{base: newOpenAICompatClientPrefix(cfg, "")}
}

func (p *geminiProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	return p.base.complete(ctx, req)
}

func (p *geminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

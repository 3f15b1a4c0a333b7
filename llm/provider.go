package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface to a text-completion backend.
type Provider interface {
	// Complete sends a completion request and returns the raw text.
	// It makes a single attempt: retry policy belongs to the caller.
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompleteRequest is a single completion call. History carries prior
// prompt/response turns when the caller wants conversational continuity;
// the gateway itself keeps no state between calls.
type CompleteRequest struct {
	Model       string    `json:"model,omitempty"` // overrides Config.Model when set
	System      string    `json:"system,omitempty"`
	History     []Message `json:"history,omitempty"`
	Prompt      string    `json:"prompt"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// JSONMode asks the backend for a JSON object response where supported.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Message represents one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompleteResponse is the response from a completion call.
type CompleteResponse struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures a model provider. It is passed explicitly at
// construction; there is no process-wide default.
type Config struct {
	Provider string `json:"provider"` // lmstudio, ollama, openai, openrouter, groq, xai, gemini, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	// Timeout bounds each HTTP request. Zero means the 120s default,
	// generous because local servers may load a model on first request.
	Timeout time.Duration `json:"timeout"`
}

// NewProvider creates a model provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "lmstudio":
		return NewLMStudio(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "openrouter":
		return NewOpenRouter(cfg), nil
	case "groq":
		return NewGroq(cfg), nil
	case "xai":
		return NewXAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

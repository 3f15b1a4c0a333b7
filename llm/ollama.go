package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ollamaProvider implements Provider for Ollama's native API.
// Ollama also supports the OpenAI-compatible API, but the native API
// provides better control over embedding generation.
type ollamaProvider struct {
	base openAICompatClient
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{base: newOpenAICompatClient(cfg)}
}

func (p *ollamaProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	// Use OpenAI-compatible endpoint
	return p.base.complete(ctx, req)
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	// Use Ollama's native /api/embed endpoint for batched embeddings
	body := ollamaEmbedRequest{
		Model: p.base.cfg.Model,
		Input: texts,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	reqURL := p.base.cfg.BaseURL + "/api/embed"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.base.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		var uerr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, reqURL)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ollama response: %v", ErrMalformedResponse, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: ollama embed status %d: %s", ErrUnavailable, resp.StatusCode, respBody)
		}
		return nil, fmt.Errorf("llm: ollama embed error %d: %s", resp.StatusCode, respBody)
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("%w: decoding ollama embed response: %v", ErrMalformedResponse, err)
	}

	result := make([][]float32, len(embedResp.Embeddings))
	for i, emb := range embedResp.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	return result, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

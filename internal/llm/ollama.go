package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is the default completion model.
	DefaultOllamaModel = "llama3.1:8b"

	// DefaultOllamaEmbedModel is the default embedding model.
	DefaultOllamaEmbedModel = "all-minilm:l6-v2"

	// DefaultOllamaDimensions is the output dimension for all-minilm.
	DefaultOllamaDimensions = 384

	// DefaultOllamaTimeout covers slow local generation.
	DefaultOllamaTimeout = 2 * time.Minute
)

// Ollama generates completions and embeddings against a local Ollama server.
type Ollama struct {
	baseURL    string
	model      string
	embedModel string
	dimensions int
	client     *http.Client
}

// OllamaOption configures an Ollama provider.
type OllamaOption func(*Ollama)

// WithOllamaURL sets the API base URL.
func WithOllamaURL(u string) OllamaOption {
	return func(p *Ollama) { p.baseURL = u }
}

// WithOllamaModel sets the completion model.
func WithOllamaModel(model string) OllamaOption {
	return func(p *Ollama) { p.model = model }
}

// WithOllamaEmbedModel sets the embedding model and its dimension.
func WithOllamaEmbedModel(model string, dims int) OllamaOption {
	return func(p *Ollama) {
		p.embedModel = model
		p.dimensions = dims
	}
}

// WithOllamaHTTPClient sets a custom HTTP client.
func WithOllamaHTTPClient(hc *http.Client) OllamaOption {
	return func(p *Ollama) { p.client = hc }
}

// NewOllama creates an Ollama provider.
func NewOllama(opts ...OllamaOption) *Ollama {
	p := &Ollama{
		baseURL:    DefaultOllamaURL,
		model:      DefaultOllamaModel,
		embedModel: DefaultOllamaEmbedModel,
		dimensions: DefaultOllamaDimensions,
		client:     &http.Client{Timeout: DefaultOllamaTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider.
func (p *Ollama) Name() string { return "ollama" }

// Dimensions is the embedding vector length.
func (p *Ollama) Dimensions() int { return p.dimensions }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Generate produces a completion.
func (p *Ollama) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	body := ollamaGenerateRequest{
		Model:   p.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: opts,
	}

	var out ollamaGenerateResponse
	if err := p.post(ctx, "/api/generate", body, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Embed produces an embedding of length Dimensions.
func (p *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var out ollamaEmbedResponse
	if err := p.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: p.embedModel, Prompt: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) != p.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(out.Embedding), p.dimensions)
	}
	return out.Embedding, nil
}

func (p *Ollama) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(p.Name(), resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidOutput, err)
	}
	return nil
}

// statusError maps an HTTP response status to a typed provider error.
func statusError(provider string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return ErrInvalidInput
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == 529:
		return ErrOverloaded
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: string(body)}
	}
}

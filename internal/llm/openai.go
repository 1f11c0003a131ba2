package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultGroqURL is the Groq OpenAI-compatible API base URL.
	DefaultGroqURL = "https://api.groq.com/openai/v1"

	// DefaultGroqModel is the default completion model.
	DefaultGroqModel = "llama-3.1-8b-instant"

	// DefaultOpenAIEmbedModel is the embedding model for OpenAI-compatible
	// endpoints that offer one.
	DefaultOpenAIEmbedModel = "text-embedding-3-small"

	// DefaultOpenAIDimensions is the requested embedding dimension.
	DefaultOpenAIDimensions = 384

	// DefaultOpenAITimeout is the per-request timeout.
	DefaultOpenAITimeout = 60 * time.Second
)

// OpenAICompat talks to any OpenAI-compatible chat/embeddings API
// (Groq-style hosted endpoints).
type OpenAICompat struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	dimensions int
	client     *http.Client
}

// OpenAIOption configures an OpenAICompat provider.
type OpenAIOption func(*OpenAICompat)

// WithOpenAIBaseURL sets the API base URL.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(p *OpenAICompat) { p.baseURL = u }
}

// WithOpenAIKey sets the API key.
func WithOpenAIKey(key string) OpenAIOption {
	return func(p *OpenAICompat) { p.apiKey = key }
}

// WithOpenAIModel sets the completion model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAICompat) { p.model = model }
}

// WithOpenAIEmbedModel sets the embedding model and dimension.
func WithOpenAIEmbedModel(model string, dims int) OpenAIOption {
	return func(p *OpenAICompat) {
		p.embedModel = model
		p.dimensions = dims
	}
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(hc *http.Client) OpenAIOption {
	return func(p *OpenAICompat) { p.client = hc }
}

// NewGroq creates a Groq-backed provider. The GROQ_API_KEY environment
// variable supplies the key when no option does.
func NewGroq(opts ...OpenAIOption) *OpenAICompat {
	p := &OpenAICompat{
		name:       "groq",
		baseURL:    DefaultGroqURL,
		apiKey:     os.Getenv("GROQ_API_KEY"),
		model:      DefaultGroqModel,
		embedModel: DefaultOpenAIEmbedModel,
		dimensions: DefaultOpenAIDimensions,
		client:     &http.Client{Timeout: DefaultOpenAITimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider.
func (p *OpenAICompat) Name() string { return p.name }

// Dimensions is the embedding vector length.
func (p *OpenAICompat) Dimensions() int { return p.dimensions }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Generate produces a completion via the chat completions endpoint.
func (p *OpenAICompat) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	msgs := []chatMessage{}
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	var out chatResponse
	err := p.post(ctx, "/chat/completions", chatRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrInvalidOutput)
	}
	return out.Choices[0].Message.Content, nil
}

// Embed produces an embedding of length Dimensions.
func (p *OpenAICompat) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	err := p.post(ctx, "/embeddings", embedRequest{
		Model:      p.embedModel,
		Input:      text,
		Dimensions: p.dimensions,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrInvalidOutput)
	}
	vec := out.Data[0].Embedding
	if len(vec) != p.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), p.dimensions)
	}
	return vec, nil
}

func (p *OpenAICompat) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(p.name, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidOutput, err)
	}
	return nil
}

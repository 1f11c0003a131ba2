package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	// DefaultGeminiURL is the Gemini API base URL.
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultGeminiModel is the default completion model.
	DefaultGeminiModel = "gemini-2.0-flash"

	// DefaultGeminiEmbedModel is the default embedding model.
	DefaultGeminiEmbedModel = "text-embedding-004"

	// DefaultGeminiDimensions is the requested embedding dimension.
	DefaultGeminiDimensions = 384

	// DefaultGeminiTimeout is the per-request timeout.
	DefaultGeminiTimeout = 60 * time.Second
)

// Gemini talks to the Gemini generateContent/embedContent API.
type Gemini struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	dimensions int
	client     *http.Client
}

// GeminiOption configures a Gemini provider.
type GeminiOption func(*Gemini)

// WithGeminiURL sets the API base URL.
func WithGeminiURL(u string) GeminiOption {
	return func(p *Gemini) { p.baseURL = u }
}

// WithGeminiKey sets the API key.
func WithGeminiKey(key string) GeminiOption {
	return func(p *Gemini) { p.apiKey = key }
}

// WithGeminiModel sets the completion model.
func WithGeminiModel(model string) GeminiOption {
	return func(p *Gemini) { p.model = model }
}

// WithGeminiEmbedModel sets the embedding model and dimension.
func WithGeminiEmbedModel(model string, dims int) GeminiOption {
	return func(p *Gemini) {
		p.embedModel = model
		p.dimensions = dims
	}
}

// WithGeminiHTTPClient sets a custom HTTP client.
func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(p *Gemini) { p.client = hc }
}

// NewGemini creates a Gemini provider. The GEMINI_API_KEY environment
// variable supplies the key when no option does.
func NewGemini(opts ...GeminiOption) *Gemini {
	p := &Gemini{
		baseURL:    DefaultGeminiURL,
		apiKey:     os.Getenv("GEMINI_API_KEY"),
		model:      DefaultGeminiModel,
		embedModel: DefaultGeminiEmbedModel,
		dimensions: DefaultGeminiDimensions,
		client:     &http.Client{Timeout: DefaultGeminiTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider.
func (p *Gemini) Name() string { return "gemini" }

// Dimensions is the embedding vector length.
func (p *Gemini) Dimensions() int { return p.dimensions }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiGenCfg struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiEmbedRequest struct {
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Generate produces a completion via generateContent.
func (p *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenCfg{Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens}
	}

	var out geminiGenerateResponse
	if err := p.post(ctx, "/models/"+p.model+":generateContent", body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidates", ErrInvalidOutput)
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// Embed produces an embedding of length Dimensions.
func (p *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	body := geminiEmbedRequest{
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		OutputDimensionality: p.dimensions,
	}
	var out geminiEmbedResponse
	if err := p.post(ctx, "/models/"+p.embedModel+":embedContent", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding.Values) != p.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(out.Embedding.Values), p.dimensions)
	}
	return out.Embedding.Values, nil
}

func (p *Gemini) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	u := p.baseURL + path
	if p.apiKey != "" {
		u += "?key=" + url.QueryEscape(p.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
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

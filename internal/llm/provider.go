// Package llm provides the analysis-provider clients: LLM completion and
// embedding over interchangeable HTTP backends, with a shared rate budget,
// retries, and a primary/fallback selection policy.
package llm

import "context"

// GenerateRequest is a single completion request.
type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Provider is one analysis backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Embed produces a dense embedding for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the provider in logs and counters.
	Name() string

	// Dimensions is the embedding vector length this provider produces.
	Dimensions() int
}

// SummaryLevel selects summary granularity.
type SummaryLevel string

// Summary levels.
const (
	LevelBrief    SummaryLevel = "brief"    // 1-2 sentences
	LevelStandard SummaryLevel = "standard" // One paragraph
	LevelDetailed SummaryLevel = "detailed" // Structured, multi-part
)

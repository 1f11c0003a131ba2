package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/lattice/internal/concept"
	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/httputil"
)

const (
	// DefaultRPM is the default analysis-provider budget per minute.
	DefaultRPM = 60

	// DefaultOverloadWindow is how long the fallback provider keeps
	// serving calls after the primary reports overload.
	DefaultOverloadWindow = 2 * time.Minute

	// DefaultTokenWait bounds the wait for a rate-limit token.
	DefaultTokenWait = 2 * time.Minute
)

// Analysis is the rate-limited analysis client. It owns one shared token
// bucket across all callers, retries transient failures, and routes calls
// to a fallback provider while the primary is overloaded.
type Analysis struct {
	primary  Provider
	fallback Provider // nil when no fallback is configured

	limiter   *rate.Limiter
	backoff   httputil.BackoffConfig
	counters  *httputil.RetryCounters
	tokenWait time.Duration
	window    time.Duration

	mu           sync.Mutex
	overloadedAt time.Time // Zero when the primary is healthy
}

// AnalysisOption configures an Analysis client.
type AnalysisOption func(*Analysis)

// WithFallback sets the fallback provider used during primary overload.
// The fallback must produce embeddings of the same dimension.
func WithFallback(p Provider) AnalysisOption {
	return func(a *Analysis) { a.fallback = p }
}

// WithRPM sets the shared per-minute request budget.
func WithRPM(rpm int) AnalysisOption {
	return func(a *Analysis) {
		if rpm > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		}
	}
}

// WithAnalysisBackoff overrides the retry policy.
func WithAnalysisBackoff(b httputil.BackoffConfig) AnalysisOption {
	return func(a *Analysis) { a.backoff = b }
}

// WithAnalysisCounters attaches retry counters.
func WithAnalysisCounters(rc *httputil.RetryCounters) AnalysisOption {
	return func(a *Analysis) { a.counters = rc }
}

// WithOverloadWindow sets the fallback window after primary overload.
func WithOverloadWindow(d time.Duration) AnalysisOption {
	return func(a *Analysis) { a.window = d }
}

// WithAnalysisTokenWait bounds the rate-limit token wait.
func WithAnalysisTokenWait(d time.Duration) AnalysisOption {
	return func(a *Analysis) { a.tokenWait = d }
}

// NewAnalysis creates the analysis client over a primary provider.
func NewAnalysis(primary Provider, opts ...AnalysisOption) *Analysis {
	a := &Analysis{
		primary:   primary,
		limiter:   rate.NewLimiter(rate.Limit(float64(DefaultRPM)/60.0), 1),
		backoff:   httputil.DefaultBackoff,
		tokenWait: DefaultTokenWait,
		window:    DefaultOverloadWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dimensions is the embedding vector length of the active provider set.
func (a *Analysis) Dimensions() int { return a.primary.Dimensions() }

// provider returns the provider that should serve the next call.
func (a *Analysis) provider() Provider {
	if a.fallback == nil {
		return a.primary
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.overloadedAt.IsZero() && time.Since(a.overloadedAt) < a.window {
		return a.fallback
	}
	a.overloadedAt = time.Time{}
	return a.primary
}

// noteOverload records that the primary reported overload.
func (a *Analysis) noteOverload(p Provider) {
	if p != a.primary {
		return
	}
	a.mu.Lock()
	a.overloadedAt = time.Now()
	a.mu.Unlock()
}

// call runs fn against the selected provider with rate limiting and retry.
func (a *Analysis) call(ctx context.Context, fn func(context.Context, Provider) error) error {
	var lastErr error
	for attempt := 0; attempt < a.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			var retryAfter time.Duration
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) {
				retryAfter = apiErr.retryAfter
			}
			if err := httputil.Sleep(ctx, a.backoff.Delay(attempt-1, retryAfter)); err != nil {
				return err
			}
		}

		waitCtx, cancel := context.WithTimeout(ctx, a.tokenWait)
		err := a.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrRateLimited
		}

		p := a.provider()
		lastErr = fn(ctx, p)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsOverloaded(lastErr) {
			a.noteOverload(p)
			a.counters.Inc(p.Name(), "overloaded")
			continue
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		kind := "network"
		if errors.Is(lastErr, ErrRateLimited) {
			kind = "rate_limited"
		}
		a.counters.Inc(p.Name(), kind)
	}
	return fmt.Errorf("%w: %w", httputil.ErrRetriesExhausted, lastErr)
}

// Summarize produces a summary of the text at the given level. For
// standard and detailed levels the text may include a full-text excerpt
// after the abstract, separated by a blank line.
func (a *Analysis) Summarize(ctx context.Context, title, abstract, excerpt string, level SummaryLevel) (string, error) {
	req, err := summaryPrompt(level, title, abstract, excerpt)
	if err != nil {
		return "", err
	}
	var out string
	err = a.call(ctx, func(ctx context.Context, p Provider) error {
		s, err := p.Generate(ctx, req)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

type entityRecord struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ExtractEntities pulls scientific concepts out of the text.
func (a *Analysis) ExtractEntities(ctx context.Context, text string) ([]concept.Concept, error) {
	if text == "" {
		return nil, ErrInvalidInput
	}
	req := GenerateRequest{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(entityPrompt, clip(text, 4000)),
		Temperature: 0.2,
		MaxTokens:   500,
	}

	var concepts []concept.Concept
	err := a.call(ctx, func(ctx context.Context, p Provider) error {
		raw, err := p.Generate(ctx, req)
		if err != nil {
			return err
		}
		var recs []entityRecord
		if err := decodeJSON(raw, &recs); err != nil {
			return err
		}
		concepts = concepts[:0]
		seen := make(map[string]bool)
		for _, r := range recs {
			c := concept.Concept{Name: r.Name, Kind: concept.ParseKind(r.Kind)}
			if c.Validate() != nil {
				continue
			}
			key := concept.NormalizeName(c.Name) + "\x00" + string(c.Kind)
			if seen[key] {
				continue
			}
			seen[key] = true
			concepts = append(concepts, c)
		}
		return nil
	})
	return concepts, err
}

type classifyRecord struct {
	Intent     string  `json:"intent"`
	Position   string  `json:"position"`
	Confidence float64 `json:"confidence"`
}

// Classification is the result of classifying one citation context.
type Classification struct {
	Intent     edge.Intent
	Position   edge.Position
	Confidence float64
}

// ClassifyCitation labels a citation context with intent and position.
// An empty context classifies as unknown/other without a provider call.
func (a *Analysis) ClassifyCitation(ctx context.Context, citationContext string) (Classification, error) {
	if citationContext == "" {
		return Classification{Intent: edge.IntentUnknown, Position: edge.PositionOther}, nil
	}
	req := GenerateRequest{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf(classifyPrompt, clip(citationContext, 1500)),
		Temperature: 0.1,
		MaxTokens:   150,
	}

	var out Classification
	err := a.call(ctx, func(ctx context.Context, p Provider) error {
		raw, err := p.Generate(ctx, req)
		if err != nil {
			return err
		}
		var rec classifyRecord
		if err := decodeJSON(raw, &rec); err != nil {
			return err
		}
		out = Classification{
			Intent:     edge.ParseIntent(rec.Intent),
			Position:   edge.ParsePosition(rec.Position),
			Confidence: rec.Confidence,
		}
		if out.Confidence < 0 || out.Confidence > 1 {
			out.Confidence = 0
		}
		return nil
	})
	return out, err
}

// Embed produces a dense embedding for the text. The vector length equals
// Dimensions for every provider in the set.
func (a *Analysis) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrInvalidInput
	}
	want := a.Dimensions()
	var vec []float32
	err := a.call(ctx, func(ctx context.Context, p Provider) error {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return err
		}
		if len(v) != want {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
		}
		vec = v
		return nil
	})
	return vec, err
}

package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matsen/lattice/internal/concept"
	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/httputil"
)

// fakeProvider scripts responses for Analysis tests.
type fakeProvider struct {
	name     string
	dims     int
	generate func(GenerateRequest) (string, error)
	embed    func(string) ([]float32, error)
	calls    atomic.Int32
}

func (f *fakeProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.calls.Add(1)
	if f.generate == nil {
		return "", nil
	}
	return f.generate(req)
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.embed == nil {
		return make([]float32, f.dims), nil
	}
	return f.embed(text)
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Dimensions() int { return f.dims }

func fastAnalysis(primary Provider, opts ...AnalysisOption) *Analysis {
	base := []AnalysisOption{
		WithRPM(60000),
		WithAnalysisBackoff(httputil.BackoffConfig{Base: time.Millisecond, Factor: 1, Cap: time.Millisecond, MaxAttempts: 3}),
	}
	return NewAnalysis(primary, append(base, opts...)...)
}

func TestSummarize(t *testing.T) {
	p := &fakeProvider{name: "p", dims: 4, generate: func(req GenerateRequest) (string, error) {
		return "A summary.", nil
	}}
	a := fastAnalysis(p)
	got, err := a.Summarize(context.Background(), "Title", "Abstract", "", LevelStandard)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got != "A summary." {
		t.Errorf("Summarize() = %q", got)
	}
}

func TestSummarizeBadLevel(t *testing.T) {
	a := fastAnalysis(&fakeProvider{name: "p", dims: 4})
	if _, err := a.Summarize(context.Background(), "T", "A", "", "epic"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Summarize(bad level) = %v, want ErrInvalidInput", err)
	}
}

func TestFallbackDuringOverload(t *testing.T) {
	primary := &fakeProvider{name: "primary", dims: 4, generate: func(GenerateRequest) (string, error) {
		return "", ErrOverloaded
	}}
	fallback := &fakeProvider{name: "fallback", dims: 4, generate: func(GenerateRequest) (string, error) {
		return "from fallback", nil
	}}
	a := fastAnalysis(primary, WithFallback(fallback), WithOverloadWindow(time.Minute))

	got, err := a.Summarize(context.Background(), "T", "A", "", LevelBrief)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got != "from fallback" {
		t.Errorf("Summarize() = %q, want fallback result", got)
	}

	// While the window is open, calls go straight to the fallback.
	before := primary.calls.Load()
	if _, err := a.Summarize(context.Background(), "T", "A", "", LevelBrief); err != nil {
		t.Fatalf("second Summarize() error: %v", err)
	}
	if primary.calls.Load() != before {
		t.Error("primary called during open overload window")
	}
}

func TestOverloadWindowExpires(t *testing.T) {
	var healthy atomic.Bool
	primary := &fakeProvider{name: "primary", dims: 4, generate: func(GenerateRequest) (string, error) {
		if healthy.Load() {
			return "from primary", nil
		}
		return "", ErrOverloaded
	}}
	fallback := &fakeProvider{name: "fallback", dims: 4, generate: func(GenerateRequest) (string, error) {
		return "from fallback", nil
	}}
	a := fastAnalysis(primary, WithFallback(fallback), WithOverloadWindow(time.Millisecond))

	if _, err := a.Summarize(context.Background(), "T", "A", "", LevelBrief); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	healthy.Store(true)
	time.Sleep(5 * time.Millisecond)

	got, err := a.Summarize(context.Background(), "T", "A", "", LevelBrief)
	if err != nil {
		t.Fatalf("Summarize() after window error: %v", err)
	}
	if got != "from primary" {
		t.Errorf("Summarize() = %q, want primary result after window expiry", got)
	}
}

func TestExtractEntities(t *testing.T) {
	p := &fakeProvider{name: "p", dims: 4, generate: func(GenerateRequest) (string, error) {
		return `[{"name":"Bethe ansatz","kind":"method"},{"name":"Bethe  Ansatz","kind":"METHOD"},{"name":"","kind":"method"}]`, nil
	}}
	a := fastAnalysis(p)
	got, err := a.ExtractEntities(context.Background(), "some abstract")
	if err != nil {
		t.Fatalf("ExtractEntities() error: %v", err)
	}
	// The duplicate (same normalized name and kind) and the nameless entry drop.
	if len(got) != 1 {
		t.Fatalf("got %d concepts, want 1: %+v", len(got), got)
	}
	if got[0].Kind != concept.KindMethod {
		t.Errorf("Kind = %q", got[0].Kind)
	}
}

func TestClassifyCitation(t *testing.T) {
	p := &fakeProvider{name: "p", dims: 4, generate: func(GenerateRequest) (string, error) {
		return `{"intent":"EXTENSION","position":"introduction","confidence":0.85}`, nil
	}}
	a := fastAnalysis(p)
	got, err := a.ClassifyCitation(context.Background(), "we extend the construction of [12]")
	if err != nil {
		t.Fatalf("ClassifyCitation() error: %v", err)
	}
	if got.Intent != edge.IntentExtension || got.Position != edge.PositionIntroduction || got.Confidence != 0.85 {
		t.Errorf("Classification = %+v", got)
	}
}

func TestClassifyCitationEmptyContext(t *testing.T) {
	p := &fakeProvider{name: "p", dims: 4, generate: func(GenerateRequest) (string, error) {
		t.Error("provider should not be called for empty context")
		return "", nil
	}}
	a := fastAnalysis(p)
	got, err := a.ClassifyCitation(context.Background(), "")
	if err != nil {
		t.Fatalf("ClassifyCitation() error: %v", err)
	}
	if got.Intent != edge.IntentUnknown || got.Position != edge.PositionOther {
		t.Errorf("Classification = %+v, want unknown/other", got)
	}
}

func TestEmbedDimensionCheck(t *testing.T) {
	p := &fakeProvider{name: "p", dims: 4, embed: func(string) ([]float32, error) {
		return []float32{1, 2}, nil // Wrong length
	}}
	a := fastAnalysis(p)
	if _, err := a.Embed(context.Background(), "text"); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Embed() = %v, want ErrDimensionMismatch", err)
	}
}

func TestRetryOnTransient(t *testing.T) {
	var calls atomic.Int32
	p := &fakeProvider{name: "p", dims: 4, generate: func(GenerateRequest) (string, error) {
		if calls.Add(1) < 3 {
			return "", ErrUnavailable
		}
		return "ok", nil
	}}
	a := fastAnalysis(p)
	got, err := a.Summarize(context.Background(), "T", "A", "", LevelBrief)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestNoRetryOnInvalidOutput(t *testing.T) {
	var calls atomic.Int32
	p := &fakeProvider{name: "p", dims: 4, generate: func(GenerateRequest) (string, error) {
		calls.Add(1)
		return "not json at all", nil
	}}
	a := fastAnalysis(p)
	if _, err := a.ExtractEntities(context.Background(), "text"); !errors.Is(err, ErrInvalidOutput) {
		t.Errorf("ExtractEntities() = %v, want ErrInvalidOutput", err)
	}
	if calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", calls.Load())
	}
}

// Package analyzer produces per-paper enrichment records: summary,
// extracted concepts, citation-intent labels, and a dense embedding.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/matsen/lattice/internal/cache"
	"github.com/matsen/lattice/internal/concept"
	"github.com/matsen/lattice/internal/fulltext"
	"github.com/matsen/lattice/internal/llm"
	"github.com/matsen/lattice/internal/paper"
)

// Client is the analysis-provider surface the analyzer needs.
// *llm.Analysis implements it; tests substitute stubs.
type Client interface {
	Summarize(ctx context.Context, title, abstract, excerpt string, level llm.SummaryLevel) (string, error)
	ExtractEntities(ctx context.Context, text string) ([]concept.Concept, error)
	ClassifyCitation(ctx context.Context, citationContext string) (llm.Classification, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Reference is one outgoing citation with its context, when the metadata
// provider supplied one.
type Reference struct {
	Dst     string
	Context string
}

// Enrichment is the analyzer's output for one paper. Any subset of the
// fields may be present; Errs records which sub-steps failed.
type Enrichment struct {
	PaperID    string
	Summary    string
	Concepts   []concept.Concept
	EdgeLabels map[string]llm.Classification // Keyed by dst paper ID
	Embedding  []float32

	Errs map[string]error // Keyed by sub-step name
}

// Partial reports whether any sub-step failed.
func (e *Enrichment) Partial() bool { return len(e.Errs) > 0 }

// Steps toggles the analyzer's sub-steps for one call.
type Steps struct {
	Summarize bool
	Entities  bool
	Classify  bool
	Embed     bool
	FullText  bool
}

// AllSteps enables everything except full text.
var AllSteps = Steps{Summarize: true, Entities: true, Classify: true, Embed: true}

// DefaultCacheTTL keeps provider results for a week; re-analysis within
// the window reuses them.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Analyzer runs the enrichment sub-steps for one paper at a time.
type Analyzer struct {
	client    Client
	cache     *cache.Cache       // nil disables caching
	extractor fulltext.Extractor // nil disables full text
	modelID   string             // Cache-key component; model changes invalidate
	ttl       time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCache attaches the provider-result cache.
func WithCache(c *cache.Cache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithExtractor attaches a full-text source.
func WithExtractor(e fulltext.Extractor) Option {
	return func(a *Analyzer) { a.extractor = e }
}

// WithModelID tags cache keys with the analysis model identifier.
func WithModelID(id string) Option {
	return func(a *Analyzer) { a.modelID = id }
}

// WithTTL overrides the cache TTL.
func WithTTL(d time.Duration) Option {
	return func(a *Analyzer) { a.ttl = d }
}

// New creates an analyzer over the analysis client.
func New(client Client, opts ...Option) *Analyzer {
	a := &Analyzer{client: client, ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the enabled sub-steps for the paper and its references.
// Sub-steps whose output the paper already carries are skipped. Failures
// are recorded per step; a partial enrichment is still returned. The only
// error return is context cancellation, checked between sub-steps.
func (a *Analyzer) Analyze(ctx context.Context, p *paper.Paper, refs []Reference, steps Steps) (*Enrichment, error) {
	enr := &Enrichment{
		PaperID:    p.ID,
		EdgeLabels: make(map[string]llm.Classification),
		Errs:       make(map[string]error),
	}

	var excerpt string
	if steps.FullText && a.extractor != nil {
		text, err := a.extractor.Extract(p.ID)
		if err != nil {
			enr.Errs["fulltext"] = err
		} else {
			excerpt = text
		}
	}

	if steps.Summarize && p.Summary == "" && p.Abstract != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary, err := a.summarize(ctx, p, excerpt)
		if err != nil {
			enr.Errs["summarize"] = err
		} else {
			enr.Summary = summary
		}
	}

	if steps.Entities && p.Abstract != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := p.Abstract
		if excerpt != "" {
			text = p.Abstract + "\n\n" + paper.Truncate(excerpt, 2000)
		}
		concepts, err := a.extractEntities(ctx, text)
		if err != nil {
			enr.Errs["entities"] = err
		} else {
			enr.Concepts = concepts
		}
	}

	if steps.Classify {
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cls, err := a.classify(ctx, ref.Context)
			if err != nil {
				enr.Errs["classify"] = err
				continue
			}
			enr.EdgeLabels[ref.Dst] = cls
		}
	}

	if steps.Embed && p.Embedding == nil && p.EmbedText() != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := a.embed(ctx, paper.Truncate(p.EmbedText(), paper.MaxAbstractEmbedLength))
		if err != nil {
			enr.Errs["embed"] = err
		} else {
			enr.Embedding = vec
		}
	}

	return enr, nil
}

func (a *Analyzer) summarize(ctx context.Context, p *paper.Paper, excerpt string) (string, error) {
	if a.cache == nil {
		return a.client.Summarize(ctx, p.Title, p.Abstract, excerpt, llm.LevelStandard)
	}
	key := cache.Key("summarize", a.modelID, string(llm.LevelStandard), p.Title, p.Abstract, excerpt)
	var out string
	err := a.cache.GetOrCompute(key, a.ttl, &out, func() (any, error) {
		return a.client.Summarize(ctx, p.Title, p.Abstract, excerpt, llm.LevelStandard)
	})
	return out, err
}

func (a *Analyzer) extractEntities(ctx context.Context, text string) ([]concept.Concept, error) {
	if a.cache == nil {
		return a.client.ExtractEntities(ctx, text)
	}
	key := cache.Key("entities", a.modelID, text)
	var out []concept.Concept
	err := a.cache.GetOrCompute(key, a.ttl, &out, func() (any, error) {
		return a.client.ExtractEntities(ctx, text)
	})
	return out, err
}

func (a *Analyzer) classify(ctx context.Context, citationContext string) (llm.Classification, error) {
	if citationContext == "" || a.cache == nil {
		return a.client.ClassifyCitation(ctx, citationContext)
	}
	key := cache.Key("classify", a.modelID, citationContext)
	var out llm.Classification
	err := a.cache.GetOrCompute(key, a.ttl, &out, func() (any, error) {
		return a.client.ClassifyCitation(ctx, citationContext)
	})
	return out, err
}

func (a *Analyzer) embed(ctx context.Context, text string) ([]float32, error) {
	if a.cache == nil {
		return a.client.Embed(ctx, text)
	}
	key := cache.Key("embed", a.modelID, fmt.Sprintf("%d", a.client.Dimensions()), text)
	var out []float32
	err := a.cache.GetOrCompute(key, a.ttl, &out, func() (any, error) {
		return a.client.Embed(ctx, text)
	})
	return out, err
}

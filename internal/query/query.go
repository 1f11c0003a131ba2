// Package query is the read-only facade over the completed store:
// lookups, semantic and hybrid search, neighborhood traversal, and
// cluster listing. Safe to use concurrently with an active write run.
package query

import (
	"context"
	"math"
	"sort"

	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/graphstore"
	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/vectorstore"
)

// HybridAlpha is the weight on semantic similarity in hybrid scoring; the
// remainder weights citation influence.
const HybridAlpha = 0.7

// Embedder turns query text into a vector. The analysis client implements
// it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Facade bundles the read paths over both stores.
type Facade struct {
	graph    *graphstore.Store
	vector   *vectorstore.Store
	embedder Embedder
}

// New creates the facade. embedder may be nil when semantic search is not
// needed (pure graph queries).
func New(graph *graphstore.Store, vector *vectorstore.Store, embedder Embedder) *Facade {
	return &Facade{graph: graph, vector: vector, embedder: embedder}
}

// PaperDetail is a paper with its optional edge lists.
type PaperDetail struct {
	Paper      *paper.Paper        `json:"paper"`
	Citations  []edge.CitationEdge `json:"citations,omitempty"`
	References []edge.CitationEdge `json:"references,omitempty"`
}

// GetPaper fetches one paper, optionally with incoming and outgoing edges.
func (f *Facade) GetPaper(id string, includeCitations, includeReferences bool) (*PaperDetail, error) {
	p, err := f.graph.GetPaper(id)
	if err != nil {
		return nil, err
	}
	d := &PaperDetail{Paper: p}
	if includeCitations {
		if d.Citations, err = f.graph.Citations(id); err != nil {
			return nil, err
		}
	}
	if includeReferences {
		if d.References, err = f.graph.References(id); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ListPapers returns one page of papers, optionally filtered by primary
// category. page is 1-based.
func (f *Facade) ListPapers(page, pageSize int, category string) ([]*paper.Paper, error) {
	return f.graph.ListPapers(page, pageSize, category)
}

// Scored is one search hit with its score in [0,1].
type Scored struct {
	Paper *paper.Paper `json:"paper"`
	Score float64      `json:"score"`
}

// SemanticSearch embeds the query once and returns the nearest papers by
// cosine similarity, mapped into [0,1].
func (f *Facade) SemanticSearch(ctx context.Context, text string, limit int, filter vectorstore.Filter) ([]Scored, error) {
	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := f.vector.Search(vec, limit, filter)
	if err != nil {
		return nil, err
	}
	return f.loadHits(hits)
}

func (f *Facade) loadHits(hits []vectorstore.Result) ([]Scored, error) {
	out := make([]Scored, 0, len(hits))
	for _, h := range hits {
		p, err := f.graph.GetPaper(h.PaperID)
		if err != nil {
			// Graph-only consistency runs the other way; a vector hit
			// without a graph node should not happen, but a read facade
			// tolerates it rather than failing the whole query.
			continue
		}
		out = append(out, Scored{Paper: p, Score: clampScore(h.Similarity)})
	}
	return out, nil
}

// HybridSearch takes the top 3×limit semantic hits, re-scores them with a
// convex combination of similarity and citation influence, and returns
// the top limit. Influence is the z-normalized citation count squashed
// through a logistic so the combination stays in [0,1].
func (f *Facade) HybridSearch(ctx context.Context, text string, limit int) ([]Scored, error) {
	if limit <= 0 {
		limit = 10
	}
	candidates, err := f.SemanticSearch(ctx, text, 3*limit, vectorstore.Filter{})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	influence := influenceScores(candidates)
	for i := range candidates {
		sim := candidates[i].Score
		candidates[i].Score = HybridAlpha*sim + (1-HybridAlpha)*influence[candidates[i].Paper.ID]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Paper.ID < candidates[j].Paper.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// influenceScores z-normalizes the candidates' citation counts and maps
// them into [0,1]. Unknown counts score at the mean.
func influenceScores(candidates []Scored) map[string]float64 {
	var counts []float64
	for _, c := range candidates {
		if c.Paper.CitationCount != nil {
			counts = append(counts, float64(*c.Paper.CitationCount))
		}
	}
	mean, stddev := meanStddev(counts)

	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		z := 0.0
		if c.Paper.CitationCount != nil && stddev > 0 {
			z = (float64(*c.Paper.CitationCount) - mean) / stddev
		}
		out[c.Paper.ID] = 1 / (1 + math.Exp(-z))
	}
	return out
}

func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

// CitationNeighborhood traverses the citation graph from id up to depth.
func (f *Facade) CitationNeighborhood(id string, depth int) (*graphstore.Neighborhood, error) {
	return f.graph.CitationNeighborhood(id, depth)
}

// Clusters lists citation-graph communities with at least minSize members.
func (f *Facade) Clusters(minSize int) ([]graphstore.Cluster, error) {
	if minSize < 1 {
		minSize = 2
	}
	return f.graph.Clusters(minSize)
}

// clampScore maps a cosine similarity into [0,1].
func clampScore(sim float32) float64 {
	s := float64(sim)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

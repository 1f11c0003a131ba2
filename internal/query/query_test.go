package query

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/graphstore"
	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/vectorstore"
)

// axisEmbedder maps known query strings onto fixed unit vectors.
type axisEmbedder map[string][]float32

func (a axisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := a[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func intPtr(n int) *int { return &n }

func testFacade(t *testing.T) (*Facade, *graphstore.Store, *vectorstore.Store) {
	t.Helper()
	graph, err := graphstore.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { graph.Close() })
	vec, err := vectorstore.Open(t.TempDir(), "test-model", 3)
	if err != nil {
		t.Fatal(err)
	}

	papers := []*paper.Paper{
		{ID: "a", Title: "A", Abstract: "aa", CitationCount: intPtr(100), Categories: []string{"hep-th"}, PublishedDate: "2020-01-01"},
		{ID: "b", Title: "B", Abstract: "bb", CitationCount: intPtr(10), Categories: []string{"hep-th"}, PublishedDate: "2022-01-01"},
		{ID: "c", Title: "C", Abstract: "cc", CitationCount: intPtr(0), Categories: []string{"gr-qc"}, PublishedDate: "2024-01-01"},
	}
	vectors := map[string][]float32{
		"a": {0.9, 0.1, 0},
		"b": {1, 0, 0},
		"c": {0, 1, 0},
	}
	for _, p := range papers {
		if err := graph.UpsertPaper(p); err != nil {
			t.Fatal(err)
		}
		proj := vectorstore.Projection{Category: p.PrimaryCategory(), Year: p.Year()}
		if err := vec.Upsert(p.ID, vectors[p.ID], proj); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range []edge.CitationEdge{{Src: "b", Dst: "a"}, {Src: "c", Dst: "a"}} {
		if err := graph.UpsertCitation(e); err != nil {
			t.Fatal(err)
		}
	}

	return New(graph, vec, axisEmbedder{}), graph, vec
}

func TestGetPaperWithEdges(t *testing.T) {
	f, _, _ := testFacade(t)
	d, err := f.GetPaper("a", true, false)
	if err != nil {
		t.Fatalf("GetPaper() error: %v", err)
	}
	if len(d.Citations) != 2 {
		t.Errorf("citations = %d, want 2", len(d.Citations))
	}
	if d.References != nil {
		t.Errorf("references included without the flag: %v", d.References)
	}
}

func TestSemanticSearch(t *testing.T) {
	f, _, _ := testFacade(t)
	got, err := f.SemanticSearch(context.Background(), "anything", 2, vectorstore.Filter{})
	if err != nil {
		t.Fatalf("SemanticSearch() error: %v", err)
	}
	if len(got) != 2 || got[0].Paper.ID != "b" || got[1].Paper.ID != "a" {
		t.Fatalf("results = %+v", got)
	}
	for _, r := range got {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %v outside [0,1]", r.Score)
		}
	}
	if got[0].Score < got[1].Score {
		t.Error("results not ordered by score")
	}
}

func TestSemanticSearchFilter(t *testing.T) {
	f, _, _ := testFacade(t)
	got, err := f.SemanticSearch(context.Background(), "anything", 10, vectorstore.Filter{Category: "gr-qc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Paper.ID != "c" {
		t.Errorf("filtered results = %+v", got)
	}
}

func TestHybridSearchBoostsInfluence(t *testing.T) {
	f, _, _ := testFacade(t)
	got, err := f.HybridSearch(context.Background(), "anything", 2)
	if err != nil {
		t.Fatalf("HybridSearch() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %+v", got)
	}
	// "a" is nearly as similar as "b" but has 10x the citations; the
	// influence term lifts it to the top.
	if got[0].Paper.ID != "a" {
		t.Errorf("top hit = %s, want the influential paper", got[0].Paper.ID)
	}
	for _, r := range got {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("combined score %v outside [0,1]", r.Score)
		}
	}
}

func TestInfluenceScores(t *testing.T) {
	candidates := []Scored{
		{Paper: &paper.Paper{ID: "hi", CitationCount: intPtr(100)}},
		{Paper: &paper.Paper{ID: "lo", CitationCount: intPtr(0)}},
		{Paper: &paper.Paper{ID: "unknown"}},
	}
	scores := influenceScores(candidates)
	if scores["hi"] <= scores["lo"] {
		t.Errorf("influence ordering wrong: %v", scores)
	}
	if math.Abs(scores["unknown"]-0.5) > 1e-9 {
		t.Errorf("unknown count should sit at the logistic midpoint, got %v", scores["unknown"])
	}
	for id, s := range scores {
		if s < 0 || s > 1 {
			t.Errorf("influence[%s] = %v outside [0,1]", id, s)
		}
	}
}

func TestClusters(t *testing.T) {
	f, _, _ := testFacade(t)
	clusters, err := f.Clusters(0)
	if err != nil {
		t.Fatalf("Clusters() error: %v", err)
	}
	if len(clusters) != 1 || len(clusters[0].Members) != 3 {
		t.Errorf("clusters = %+v", clusters)
	}
}

func TestCitationNeighborhood(t *testing.T) {
	f, _, _ := testFacade(t)
	nb, err := f.CitationNeighborhood("a", 1)
	if err != nil {
		t.Fatalf("CitationNeighborhood() error: %v", err)
	}
	if len(nb.Nodes) != 3 || len(nb.Edges) != 2 {
		t.Errorf("neighborhood = %d nodes %d edges", len(nb.Nodes), len(nb.Edges))
	}
}

package graphstore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matsen/lattice/internal/concept"
	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/paper"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(n int) *int { return &n }

func TestUpsertPaperRoundTrip(t *testing.T) {
	s := testStore(t)
	p := &paper.Paper{
		ID:            "2401.00001",
		Title:         "Spectral gaps",
		Abstract:      "We study gaps.",
		Authors:       []string{"A. Author", "B. Author"},
		Categories:    []string{"hep-th", "math-ph"},
		PublishedDate: "2024-01-05",
		Venue:         "JHEP",
		DOI:           "10.1000/x",
		CitationCount: intPtr(7),
		TLDR:          "Gaps exist.",
		Summary:       "A summary.",
	}
	if err := s.UpsertPaper(p); err != nil {
		t.Fatalf("UpsertPaper() error: %v", err)
	}

	got, err := s.GetPaper("2401.00001")
	if err != nil {
		t.Fatalf("GetPaper() error: %v", err)
	}
	if got.Title != p.Title || got.Venue != p.Venue || got.DOI != p.DOI || got.TLDR != p.TLDR {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !reflect.DeepEqual(got.Authors, p.Authors) || !reflect.DeepEqual(got.Categories, p.Categories) {
		t.Errorf("authors/categories mismatch: %v %v", got.Authors, got.Categories)
	}
	if got.CitationCount == nil || *got.CitationCount != 7 {
		t.Errorf("CitationCount = %v", got.CitationCount)
	}
}

func TestUpsertPaperIdempotent(t *testing.T) {
	s := testStore(t)
	p := &paper.Paper{ID: "x", Title: "T"}
	if err := s.UpsertPaper(p); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPaper(p); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountPapers()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountPapers() = %d, want 1 after replay", n)
	}
}

func TestUpsertPaperNonNullMerge(t *testing.T) {
	s := testStore(t)
	full := &paper.Paper{ID: "x", Title: "T", Abstract: "A", CitationCount: intPtr(3)}
	if err := s.UpsertPaper(full); err != nil {
		t.Fatal(err)
	}
	// A stub-grade update must not erase enrichment.
	if err := s.UpsertPaper(&paper.Paper{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPaper("x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "T" || got.Abstract != "A" {
		t.Errorf("empty update erased fields: %+v", got)
	}
	if got.CitationCount == nil || *got.CitationCount != 3 {
		t.Errorf("empty update erased citation count: %v", got.CitationCount)
	}
}

func TestGetPaperNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetPaper("missing"); !errors.Is(err, paper.ErrNotFound) {
		t.Errorf("GetPaper(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpsertCitationCreatesStubs(t *testing.T) {
	s := testStore(t)
	e := edge.CitationEdge{Src: "a", Dst: "b", Intent: edge.IntentMethod}
	if err := s.UpsertCitation(e); err != nil {
		t.Fatalf("UpsertCitation() error: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		p, err := s.GetPaper(id)
		if err != nil {
			t.Fatalf("stub %s missing: %v", id, err)
		}
		if !p.IsStub() {
			t.Errorf("endpoint %s should be a stub", id)
		}
	}
}

func TestUpsertCitationIdempotentAndMerging(t *testing.T) {
	s := testStore(t)
	e := edge.CitationEdge{Src: "a", Dst: "b", Intent: edge.IntentMethod, Context: "uses"}
	if err := s.UpsertCitation(e); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCitation(e); err != nil {
		t.Fatal(err)
	}
	n, _ := s.CountCitations()
	if n != 1 {
		t.Fatalf("CountCitations() = %d, want 1 after replay", n)
	}

	// A null-intent update preserves the earlier label.
	if err := s.UpsertCitation(edge.CitationEdge{Src: "a", Dst: "b", Intent: edge.IntentUnknown}); err != nil {
		t.Fatal(err)
	}
	refs, err := s.References("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Intent != edge.IntentMethod || refs[0].Context != "uses" {
		t.Errorf("merge lost attributes: %+v", refs)
	}
}

func TestUpsertCitationRejectsSelfLoop(t *testing.T) {
	s := testStore(t)
	err := s.UpsertCitation(edge.CitationEdge{Src: "a", Dst: "a"})
	if !errors.Is(err, edge.ErrSelfLoop) {
		t.Errorf("UpsertCitation(self) = %v, want ErrSelfLoop", err)
	}
}

func TestMentions(t *testing.T) {
	s := testStore(t)
	mentions := []concept.Mention{
		{Concept: concept.Concept{Name: "Bethe Ansatz", Kind: concept.KindMethod}, Confidence: 0.9},
		{Concept: concept.Concept{Name: "bethe  ansatz", Kind: concept.KindMethod}}, // Same normalized concept
		{Concept: concept.Concept{Name: "Yang-Baxter equation", Kind: concept.KindEquation}},
	}
	if err := s.UpsertMentions("p1", mentions); err != nil {
		t.Fatalf("UpsertMentions() error: %v", err)
	}
	if err := s.UpsertMentions("p1", mentions); err != nil {
		t.Fatalf("replay error: %v", err)
	}

	n, _ := s.CountConcepts()
	if n != 2 {
		t.Errorf("CountConcepts() = %d, want 2 (case/whitespace-insensitive uniqueness)", n)
	}
	got, err := s.ConceptsFor("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ConceptsFor() = %d mentions, want 2", len(got))
	}
	// Non-null merge keeps the scored confidence.
	for _, m := range got {
		if concept.NormalizeName(m.Concept.Name) == "bethe ansatz" && m.Confidence != 0.9 {
			t.Errorf("confidence lost on replay: %v", m.Confidence)
		}
	}
}

func TestListPapersByCategory(t *testing.T) {
	s := testStore(t)
	for _, p := range []*paper.Paper{
		{ID: "a", Title: "1", Categories: []string{"hep-th"}},
		{ID: "b", Title: "2", Categories: []string{"gr-qc"}},
		{ID: "c", Title: "3", Categories: []string{"hep-th"}},
	} {
		if err := s.UpsertPaper(p); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListPapers(1, 10, "hep-th")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("ListPapers(hep-th) = %v", ids(got))
	}
	page, err := s.ListPapers(2, 1, "hep-th")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "c" {
		t.Errorf("page 2 = %v", ids(page))
	}
}

func ids(ps []*paper.Paper) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestNeighborhood(t *testing.T) {
	s := testStore(t)
	// a -> b -> c, d -> a
	for _, e := range []edge.CitationEdge{
		{Src: "a", Dst: "b"}, {Src: "b", Dst: "c"}, {Src: "d", Dst: "a"},
	} {
		if err := s.UpsertCitation(e); err != nil {
			t.Fatal(err)
		}
	}

	nb, err := s.CitationNeighborhood("a", 1)
	if err != nil {
		t.Fatalf("CitationNeighborhood() error: %v", err)
	}
	if len(nb.Nodes) != 3 { // a, b, d
		t.Errorf("depth-1 nodes = %d, want 3", len(nb.Nodes))
	}

	nb2, err := s.CitationNeighborhood("a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(nb2.Nodes) != 4 || len(nb2.Edges) != 3 {
		t.Errorf("depth-2 = %d nodes %d edges, want 4 and 3", len(nb2.Nodes), len(nb2.Edges))
	}
}

func TestClusters(t *testing.T) {
	s := testStore(t)
	// Two components: {a,b,c} and {x,y}.
	for _, e := range []edge.CitationEdge{
		{Src: "a", Dst: "b"}, {Src: "b", Dst: "c"}, {Src: "x", Dst: "y"},
	} {
		if err := s.UpsertCitation(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertMentions("a", []concept.Mention{{Concept: concept.Concept{Name: "gauge theory", Kind: concept.KindOther}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMentions("b", []concept.Mention{{Concept: concept.Concept{Name: "gauge theory", Kind: concept.KindOther}}}); err != nil {
		t.Fatal(err)
	}

	clusters, err := s.Clusters(2)
	if err != nil {
		t.Fatalf("Clusters() error: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("Clusters() = %d, want 2", len(clusters))
	}
	if len(clusters[0].Members) != 3 {
		t.Errorf("largest cluster has %d members, want 3", len(clusters[0].Members))
	}
	if clusters[0].Label != "gauge theory" {
		t.Errorf("Label = %q, want dominant concept", clusters[0].Label)
	}

	big, err := s.Clusters(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(big) != 1 {
		t.Errorf("Clusters(3) = %d, want 1 (min size filter)", len(big))
	}
}

func TestPendingEmbeddings(t *testing.T) {
	s := testStore(t)
	if err := s.MarkEmbeddingPending("a", "vector write failed"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkEmbeddingPending("a", "again"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkEmbeddingPending("b", "missing"); err != nil {
		t.Fatal(err)
	}

	ids, err := s.PendingEmbeddings()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("PendingEmbeddings() = %v, want 2 entries", ids)
	}
	if err := s.ResolveEmbeddingPending("a"); err != nil {
		t.Fatal(err)
	}
	ids, _ = s.PendingEmbeddings()
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("after resolve: %v", ids)
	}
}

func TestInTxRollsBack(t *testing.T) {
	s := testStore(t)
	boom := errors.New("boom")
	err := s.InTx(func(v *Store) error {
		if err := v.UpsertPaper(&paper.Paper{ID: "a", Title: "T"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() = %v, want boom", err)
	}
	if _, err := s.GetPaper("a"); !errors.Is(err, paper.ErrNotFound) {
		t.Errorf("rolled-back paper is visible: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPaper(&paper.Paper{ID: "a", Title: "T"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetPaper("a"); err != nil {
		t.Errorf("GetPaper() after reopen = %v", err)
	}
}

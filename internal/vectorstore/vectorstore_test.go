package vectorstore

import (
	"errors"
	"math"
	"testing"
)

func testVecStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "all-minilm:l6-v2", 3)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

func TestUpsertGet(t *testing.T) {
	s := testVecStore(t)
	if err := s.Upsert("a", []float32{1, 0, 0}, Projection{Category: "hep-th", Year: 2024}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("Get() = %v", got)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpsertDimensionCheck(t *testing.T) {
	s := testVecStore(t)
	if err := s.Upsert("a", []float32{1, 0}, Projection{}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Upsert(wrong dim) = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := testVecStore(t)
	vec := []float32{1, 2, 3}
	s.Upsert("a", vec, Projection{})
	s.Upsert("a", vec, Projection{})
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1 after replay", s.Count())
	}
}

func TestSaveReload(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "model-a", 3)
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert("a", []float32{1, 0, 0}, Projection{Category: "gr-qc", Year: 2023})
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	s2, err := Open(dir, "model-a", 3)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if s2.Count() != 1 || !s2.Has("a") {
		t.Errorf("reloaded store: count=%d has=%v", s2.Count(), s2.Has("a"))
	}
}

func TestModelChangeSetsCollectionAside(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir, "model-a", 3)
	s.Upsert("a", []float32{1, 0, 0}, Projection{})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, "model-b", 3)
	if err != nil {
		t.Fatalf("Open() with new model: %v", err)
	}
	if s2.Count() != 0 {
		t.Errorf("new collection should start empty, count=%d", s2.Count())
	}
	if s2.ModelID() != "model-b" {
		t.Errorf("ModelID() = %q", s2.ModelID())
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched lengths", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearchOrderingAndLimit(t *testing.T) {
	s := testVecStore(t)
	s.Upsert("close", []float32{1, 0.1, 0}, Projection{})
	s.Upsert("closer", []float32{1, 0.01, 0}, Projection{})
	s.Upsert("far", []float32{0, 1, 0}, Projection{})

	hits, err := s.Search([]float32{1, 0, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) != 2 || hits[0].PaperID != "closer" || hits[1].PaperID != "close" {
		t.Errorf("Search() = %+v", hits)
	}
}

func TestSearchFilter(t *testing.T) {
	s := testVecStore(t)
	s.Upsert("a", []float32{1, 0, 0}, Projection{Category: "hep-th", Year: 2020})
	s.Upsert("b", []float32{1, 0, 0}, Projection{Category: "gr-qc", Year: 2024})

	hits, err := s.Search([]float32{1, 0, 0}, 10, Filter{Category: "gr-qc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].PaperID != "b" {
		t.Errorf("category filter: %+v", hits)
	}

	hits, err = s.Search([]float32{1, 0, 0}, 10, Filter{YearFrom: 2021})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].PaperID != "b" {
		t.Errorf("year filter: %+v", hits)
	}
}

func TestSearchDimensionCheck(t *testing.T) {
	s := testVecStore(t)
	if _, err := s.Search([]float32{1}, 5, Filter{}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search(wrong dim) = %v, want ErrDimensionMismatch", err)
	}
}

// Package store coordinates writes across the graph store and the vector
// store. Writes go graph-first; a vector failure after a graph success
// leaves the paper recorded as embedding-pending, and a later re-embed
// pass converges the two stores. That is the only permitted inconsistency.
package store

import (
	"errors"
	"fmt"

	"github.com/matsen/lattice/internal/concept"
	"github.com/matsen/lattice/internal/edge"
	"github.com/matsen/lattice/internal/graphstore"
	"github.com/matsen/lattice/internal/paper"
	"github.com/matsen/lattice/internal/vectorstore"
)

// VectorBackend is the vector-store surface the writer needs. Tests
// substitute failing implementations.
type VectorBackend interface {
	Upsert(id string, vec []float32, proj vectorstore.Projection) error
	Has(id string) bool
	Dimensions() int
	Save() error
}

// Writer performs idempotent upserts across both backends.
type Writer struct {
	graph  *graphstore.Store
	vector VectorBackend
}

// NewWriter creates a writer over the two backends.
func NewWriter(graph *graphstore.Store, vector VectorBackend) *Writer {
	return &Writer{graph: graph, vector: vector}
}

// Graph exposes the underlying graph store for read paths.
func (w *Writer) Graph() *graphstore.Store { return w.graph }

// UpsertPaper creates or updates the paper node, then upserts its
// embedding into the vector store when one is present. The graph write
// alone succeeding is not an error: the paper is marked embedding-pending
// and the vector write is retried by a later pass.
func (w *Writer) UpsertPaper(p *paper.Paper) error {
	if p.Embedding != nil && len(p.Embedding) != w.vector.Dimensions() {
		return fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, len(p.Embedding), w.vector.Dimensions())
	}

	if err := w.graph.UpsertPaper(p); err != nil {
		return err
	}
	if p.Embedding == nil {
		return nil
	}

	proj := vectorstore.Projection{Category: p.PrimaryCategory(), Year: p.Year()}
	if err := w.vector.Upsert(p.ID, p.Embedding, proj); err != nil {
		if markErr := w.graph.MarkEmbeddingPending(p.ID, err.Error()); markErr != nil {
			return errors.Join(err, markErr)
		}
		return nil
	}
	return w.graph.ResolveEmbeddingPending(p.ID)
}

// UpsertCitation creates or updates the citation edge, creating stub
// endpoints as needed.
func (w *Writer) UpsertCitation(e edge.CitationEdge) error {
	return w.graph.UpsertCitation(e)
}

// UpsertConceptMentions upserts each concept and its mention edge.
func (w *Writer) UpsertConceptMentions(paperID string, mentions []concept.Mention) error {
	return w.graph.UpsertMentions(paperID, mentions)
}

// Op is one operation in a batch.
type Op struct {
	Paper    *paper.Paper
	Citation *edge.CitationEdge
	Mentions []concept.Mention
	PaperID  string // Required with Mentions
}

// Batch applies the operations atomically per store: the graph mutations
// run in one transaction, then the vector upserts run. Cross-store
// atomicity is not promised; vector failures become embedding-pending
// records exactly as in UpsertPaper.
func (w *Writer) Batch(ops []Op) error {
	// Graph first, all-or-nothing.
	err := w.graph.InTx(func(g *graphstore.Store) error {
		for _, op := range ops {
			switch {
			case op.Paper != nil:
				if err := g.UpsertPaper(op.Paper); err != nil {
					return err
				}
			case op.Citation != nil:
				if err := g.UpsertCitation(*op.Citation); err != nil {
					return err
				}
			case op.Mentions != nil:
				if err := g.UpsertMentions(op.PaperID, op.Mentions); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Then vectors, individually, with convergent failure handling.
	for _, op := range ops {
		p := op.Paper
		if p == nil || p.Embedding == nil {
			continue
		}
		proj := vectorstore.Projection{Category: p.PrimaryCategory(), Year: p.Year()}
		if verr := w.vector.Upsert(p.ID, p.Embedding, proj); verr != nil {
			if markErr := w.graph.MarkEmbeddingPending(p.ID, verr.Error()); markErr != nil {
				return errors.Join(verr, markErr)
			}
			continue
		}
		if err := w.graph.ResolveEmbeddingPending(p.ID); err != nil {
			return err
		}
	}
	return nil
}

// MarkEmbeddingPending records a paper whose embedding is missing, for a
// later re-embed pass. Used when the analyzer's embed step fails even
// though the graph write succeeded.
func (w *Writer) MarkEmbeddingPending(id, reason string) error {
	return w.graph.MarkEmbeddingPending(id, reason)
}

// PendingEmbeddings lists papers whose vector write has not succeeded yet.
func (w *Writer) PendingEmbeddings() ([]string, error) {
	return w.graph.PendingEmbeddings()
}

// ResolveEmbedding writes a freshly computed embedding for a pending
// paper and clears its pending record.
func (w *Writer) ResolveEmbedding(id string, vec []float32, proj vectorstore.Projection) error {
	if err := w.vector.Upsert(id, vec, proj); err != nil {
		return err
	}
	return w.graph.ResolveEmbeddingPending(id)
}

// Flush persists the vector store to disk.
func (w *Writer) Flush() error {
	return w.vector.Save()
}

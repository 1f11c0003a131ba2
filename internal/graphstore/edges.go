package graphstore

import (
	"database/sql"
	"fmt"

	"github.com/matsen/lattice/internal/edge"
)

// UpsertCitation creates or updates the (src, dst) citation edge, creating
// stub paper nodes for missing endpoints. Existing attributes are
// overwritten only by non-null incoming values.
func (s *Store) UpsertCitation(e edge.CitationEdge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Intent == "" {
		e.Intent = edge.IntentUnknown
	}
	if e.Position == "" {
		e.Position = edge.PositionOther
	}

	if err := s.EnsureStub(e.Src); err != nil {
		return err
	}
	if err := s.EnsureStub(e.Dst); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO citations (src, dst, intent, position, context, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(src, dst) DO UPDATE SET
			intent     = CASE WHEN excluded.intent != 'unknown' THEN excluded.intent ELSE citations.intent END,
			position   = CASE WHEN excluded.position != 'other' THEN excluded.position ELSE citations.position END,
			context    = CASE WHEN excluded.context != '' THEN excluded.context ELSE citations.context END,
			confidence = CASE WHEN excluded.confidence > 0 THEN excluded.confidence ELSE citations.confidence END
	`, e.Src, e.Dst, string(e.Intent), string(e.Position), e.Context, e.Confidence)
	if err != nil {
		return fmt.Errorf("upserting citation %s -> %s: %w", e.Src, e.Dst, err)
	}
	return nil
}

// References returns the outgoing citation edges of a paper.
func (s *Store) References(id string) ([]edge.CitationEdge, error) {
	return s.queryEdges(`SELECT src, dst, intent, position, context, confidence
		FROM citations WHERE src = ? ORDER BY dst`, id)
}

// Citations returns the incoming citation edges of a paper.
func (s *Store) Citations(id string) ([]edge.CitationEdge, error) {
	return s.queryEdges(`SELECT src, dst, intent, position, context, confidence
		FROM citations WHERE dst = ? ORDER BY src`, id)
}

// AllCitations returns every citation edge. Used by the community export.
func (s *Store) AllCitations() ([]edge.CitationEdge, error) {
	return s.queryEdges(`SELECT src, dst, intent, position, context, confidence
		FROM citations ORDER BY src, dst`)
}

// CountCitations returns the number of citation edges.
func (s *Store) CountCitations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM citations`).Scan(&n)
	return n, err
}

func (s *Store) queryEdges(query string, args ...any) ([]edge.CitationEdge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying citations: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]edge.CitationEdge, error) {
	var out []edge.CitationEdge
	for rows.Next() {
		var e edge.CitationEdge
		var intent, position string
		if err := rows.Scan(&e.Src, &e.Dst, &intent, &position, &e.Context, &e.Confidence); err != nil {
			return nil, err
		}
		e.Intent = edge.Intent(intent)
		e.Position = edge.Position(position)
		out = append(out, e)
	}
	return out, rows.Err()
}

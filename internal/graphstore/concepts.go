package graphstore

import (
	"fmt"

	"github.com/matsen/lattice/internal/concept"
)

// UpsertMentions upserts each concept and its mention edge from the paper,
// in one transaction. The paper node must already exist or is created as a
// stub.
func (s *Store) UpsertMentions(paperID string, mentions []concept.Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	if err := s.EnsureStub(paperID); err != nil {
		return err
	}

	return s.InTx(func(v *Store) error {
		for _, m := range mentions {
			m.PaperID = paperID
			if err := m.Validate(); err != nil {
				return err
			}
			norm := concept.NormalizeName(m.Concept.Name)
			if _, err := v.db.Exec(`
				INSERT INTO concepts (normalized_name, kind, name) VALUES (?, ?, ?)
				ON CONFLICT(normalized_name, kind) DO NOTHING
			`, norm, string(m.Concept.Kind), m.Concept.Name); err != nil {
				return fmt.Errorf("upserting concept %q: %w", m.Concept.Name, err)
			}
			if _, err := v.db.Exec(`
				INSERT INTO mentions (paper_id, normalized_name, kind, confidence)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(paper_id, normalized_name, kind) DO UPDATE SET
					confidence = CASE WHEN excluded.confidence > 0 THEN excluded.confidence ELSE mentions.confidence END
			`, paperID, norm, string(m.Concept.Kind), m.Confidence); err != nil {
				return fmt.Errorf("upserting mention %s -> %q: %w", paperID, m.Concept.Name, err)
			}
		}
		return nil
	})
}

// ConceptsFor returns the concepts a paper mentions.
func (s *Store) ConceptsFor(paperID string) ([]concept.Mention, error) {
	rows, err := s.db.Query(`
		SELECT m.paper_id, c.name, c.kind, m.confidence
		FROM mentions m
		JOIN concepts c ON c.normalized_name = m.normalized_name AND c.kind = m.kind
		WHERE m.paper_id = ?
		ORDER BY c.name
	`, paperID)
	if err != nil {
		return nil, fmt.Errorf("querying mentions: %w", err)
	}
	defer rows.Close()

	var out []concept.Mention
	for rows.Next() {
		var m concept.Mention
		var kind string
		if err := rows.Scan(&m.PaperID, &m.Concept.Name, &kind, &m.Confidence); err != nil {
			return nil, err
		}
		m.Concept.Kind = concept.Kind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountConcepts returns the number of concept nodes.
func (s *Store) CountConcepts() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM concepts`).Scan(&n)
	return n, err
}

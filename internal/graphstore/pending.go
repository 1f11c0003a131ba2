package graphstore

import (
	"fmt"
	"time"
)

// MarkEmbeddingPending records that a paper is graph-persisted but its
// embedding has not reached the vector store.
func (s *Store) MarkEmbeddingPending(paperID, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_embeddings (paper_id, reason, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(paper_id) DO UPDATE SET
			reason = excluded.reason,
			updated_at = excluded.updated_at
	`, paperID, reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("marking embedding pending for %s: %w", paperID, err)
	}
	return nil
}

// ResolveEmbeddingPending clears a paper's pending-embedding record.
func (s *Store) ResolveEmbeddingPending(paperID string) error {
	_, err := s.db.Exec(`DELETE FROM pending_embeddings WHERE paper_id = ?`, paperID)
	if err != nil {
		return fmt.Errorf("resolving pending embedding for %s: %w", paperID, err)
	}
	return nil
}

// PendingEmbeddings lists papers whose embeddings still need a vector
// write, in insertion-stable order.
func (s *Store) PendingEmbeddings() ([]string, error) {
	rows, err := s.db.Query(`SELECT paper_id FROM pending_embeddings ORDER BY updated_at, paper_id`)
	if err != nil {
		return nil, fmt.Errorf("listing pending embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package graphstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matsen/lattice/internal/paper"
)

const paperFields = `id, title, abstract, authors_json, categories_json,
	published_date, venue, doi, citation_count, tl_dr, summary`

// UpsertPaper creates or updates a paper node. Existing non-empty
// attributes survive an incoming record with empty ones, so a stub upsert
// never erases earlier enrichment.
func (s *Store) UpsertPaper(p *paper.Paper) error {
	if err := p.Validate(); err != nil {
		return err
	}
	authorsJSON, err := json.Marshal(orEmpty(p.Authors))
	if err != nil {
		return fmt.Errorf("marshaling authors: %w", err)
	}
	categoriesJSON, err := json.Marshal(orEmpty(p.Categories))
	if err != nil {
		return fmt.Errorf("marshaling categories: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO papers (id, title, abstract, authors_json, categories_json,
			primary_category, published_date, venue, doi, citation_count, tl_dr, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title            = CASE WHEN excluded.title != '' THEN excluded.title ELSE papers.title END,
			abstract         = CASE WHEN excluded.abstract != '' THEN excluded.abstract ELSE papers.abstract END,
			authors_json     = CASE WHEN excluded.authors_json != '[]' THEN excluded.authors_json ELSE papers.authors_json END,
			categories_json  = CASE WHEN excluded.categories_json != '[]' THEN excluded.categories_json ELSE papers.categories_json END,
			primary_category = CASE WHEN excluded.primary_category != '' THEN excluded.primary_category ELSE papers.primary_category END,
			published_date   = CASE WHEN excluded.published_date != '' THEN excluded.published_date ELSE papers.published_date END,
			venue            = CASE WHEN excluded.venue != '' THEN excluded.venue ELSE papers.venue END,
			doi              = CASE WHEN excluded.doi != '' THEN excluded.doi ELSE papers.doi END,
			citation_count   = COALESCE(excluded.citation_count, papers.citation_count),
			tl_dr            = CASE WHEN excluded.tl_dr != '' THEN excluded.tl_dr ELSE papers.tl_dr END,
			summary          = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE papers.summary END
	`, p.ID, p.Title, p.Abstract, string(authorsJSON), string(categoriesJSON),
		p.PrimaryCategory(), p.PublishedDate, p.Venue, p.DOI,
		nullableInt(p.CitationCount), p.TLDR, p.Summary)
	if err != nil {
		return fmt.Errorf("upserting paper %s: %w", p.ID, err)
	}

	if len(p.Authors) > 0 {
		if err := s.upsertAuthors(p.ID, p.Authors); err != nil {
			return err
		}
	}
	return nil
}

// EnsureStub creates an id-only paper node if none exists.
func (s *Store) EnsureStub(id string) error {
	if id == "" {
		return paper.ErrEmptyID
	}
	_, err := s.db.Exec(`INSERT INTO papers (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("creating stub %s: %w", id, err)
	}
	return nil
}

func (s *Store) upsertAuthors(paperID string, names []string) error {
	return s.InTx(func(v *Store) error {
		for i, name := range names {
			if name == "" {
				continue
			}
			if _, err := v.db.Exec(`INSERT INTO authors (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
				return fmt.Errorf("upserting author: %w", err)
			}
			if _, err := v.db.Exec(`
				INSERT INTO authored_by (paper_id, author_name, position) VALUES (?, ?, ?)
				ON CONFLICT(paper_id, author_name) DO UPDATE SET position = excluded.position
			`, paperID, name, i); err != nil {
				return fmt.Errorf("upserting authorship: %w", err)
			}
		}
		return nil
	})
}

// GetPaper fetches a paper node by ID. Returns paper.ErrNotFound when the
// node does not exist.
func (s *Store) GetPaper(id string) (*paper.Paper, error) {
	row := s.db.QueryRow(`SELECT `+paperFields+` FROM papers WHERE id = ?`, id)
	p, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paper.ErrNotFound
	}
	return p, err
}

// HasPaper reports whether a paper node exists.
func (s *Store) HasPaper(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM papers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListPapers returns one page of papers ordered by ID, optionally filtered
// by primary category. page is 1-based.
func (s *Store) ListPapers(page, pageSize int, category string) ([]*paper.Paper, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := `SELECT ` + paperFields + ` FROM papers`
	args := []any{}
	if category != "" {
		query += ` WHERE primary_category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()
	return scanPapers(rows)
}

// PaperIDs returns every paper ID in the store. Used to reseed the
// visited set on resume.
func (s *Store) PaperIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM papers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing paper ids: %w", err)
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

// CountPapers returns the number of paper nodes.
func (s *Store) CountPapers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM papers`).Scan(&n)
	return n, err
}

// CitationCounts returns id → citation_count for every paper that has a
// known count. Used by hybrid search scoring.
func (s *Store) CitationCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT id, citation_count FROM papers WHERE citation_count IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("listing citation counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (*paper.Paper, error) {
	var p paper.Paper
	var authorsJSON, categoriesJSON string
	var citationCount sql.NullInt64
	err := row.Scan(&p.ID, &p.Title, &p.Abstract, &authorsJSON, &categoriesJSON,
		&p.PublishedDate, &p.Venue, &p.DOI, &citationCount, &p.TLDR, &p.Summary)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
		return nil, fmt.Errorf("unmarshaling authors for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &p.Categories); err != nil {
		return nil, fmt.Errorf("unmarshaling categories for %s: %w", p.ID, err)
	}
	if citationCount.Valid {
		n := int(citationCount.Int64)
		p.CitationCount = &n
	}
	return &p, nil
}

func scanPapers(rows *sql.Rows) ([]*paper.Paper, error) {
	var out []*paper.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

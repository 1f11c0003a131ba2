// Package graphstore persists the knowledge graph (papers, concepts,
// citation and mention edges) in SQLite. All writes are keyed upserts:
// replaying a write with identical inputs leaves the store unchanged.
package graphstore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting every Store method run either standalone or inside InTx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps the SQLite database holding the graph.
type Store struct {
	root *sql.DB // nil for a transaction view
	db   querier
}

// ErrSchemaMismatch indicates the on-disk schema is newer than this build.
var ErrSchemaMismatch = errors.New("graph store schema mismatch")

// SchemaVersion is bumped on backwards-incompatible schema changes.
const SchemaVersion = 1

// Open opens or creates the graph store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers unblocked during the write pipeline; the busy
	// timeout lets concurrent writers queue at the driver instead of
	// failing with SQLITE_BUSY.
	pragmas := `
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`
	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Pragmas set via Exec only apply to the connection that ran them;
	// database/sql's pool would otherwise hand out additional connections
	// without busy_timeout set, so writers serialize through a single
	// connection instead.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := checkVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{root: db, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.root == nil {
		return nil
	}
	return s.root.Close()
}

// InTx runs fn against a transaction-backed view of the store, committing
// on success. Calls on an already-transactional view run in place, so
// nested InTx composes into the outer transaction.
func (s *Store) InTx(fn func(*Store) error) error {
	if s.root == nil {
		return fn(s)
	}
	tx, err := s.root.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	view := &Store{db: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			authors_json TEXT NOT NULL DEFAULT '[]',
			categories_json TEXT NOT NULL DEFAULT '[]',
			primary_category TEXT NOT NULL DEFAULT '',
			published_date TEXT NOT NULL DEFAULT '',
			venue TEXT NOT NULL DEFAULT '',
			doi TEXT NOT NULL DEFAULT '',
			citation_count INTEGER,
			tl_dr TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_papers_category ON papers(primary_category)
			WHERE primary_category != '';

		CREATE TABLE IF NOT EXISTS citations (
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT 'unknown',
			position TEXT NOT NULL DEFAULT 'other',
			context TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (src, dst),
			CHECK (src != dst)
		);

		CREATE INDEX IF NOT EXISTS idx_citations_dst ON citations(dst);

		CREATE TABLE IF NOT EXISTS concepts (
			normalized_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (normalized_name, kind)
		);

		CREATE TABLE IF NOT EXISTS mentions (
			paper_id TEXT NOT NULL,
			normalized_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (paper_id, normalized_name, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_mentions_concept ON mentions(normalized_name, kind);

		CREATE TABLE IF NOT EXISTS authors (
			name TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS authored_by (
			paper_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (paper_id, author_name)
		);

		CREATE TABLE IF NOT EXISTS pending_embeddings (
			paper_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT ''
		);
	`
	_, err := db.Exec(schema)
	return err
}

func checkVersion(db *sql.DB) error {
	var v int
	err := db.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, SchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if v > SchemaVersion {
		return fmt.Errorf("%w: store has version %d, this build supports %d", ErrSchemaMismatch, v, SchemaVersion)
	}
	return nil
}

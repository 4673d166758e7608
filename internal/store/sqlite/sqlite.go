// Package sqlite is the reference store adapter, backed by modernc.org/sqlite
// (pure Go, no cgo). One writer, WAL journal, busy timeout; deliberately
// minimal: schema bootstrap plus the narrow store operations.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/gleanerhq/gleaner/internal/store"
)

// DB wraps the SQLite handle and exposes the store interfaces.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. Pass ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	var connStr string
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared&_timeout=5000&_busy_timeout=5000"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("Open: create db directory: %w", err)
			}
		}
		connStr = path + "?_journal=WAL&_timeout=5000&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	// SQLite supports one writer; serialising through a single connection
	// avoids SQLITE_BUSY under concurrent article workers.
	db.SetMaxOpenConns(1)

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying handle.
func (s *DB) Close() error {
	return s.db.Close()
}

// Stores returns the adapter wired into the bundle shape the engine consumes.
func (s *DB) Stores() store.Stores {
	return store.Stores{
		Sources:  &SourceRepo{db: s.db},
		Articles: &ArticleRepo{db: s.db},
		Errors:   &ErrorLogRepo{db: s.db},
	}
}

func (s *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			active INTEGER NOT NULL DEFAULT 1,
			last_scraped_at TEXT,
			selector_config TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL,
			url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			publish_date TEXT,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT,
			cybersecurity INTEGER NOT NULL DEFAULT 0,
			security_score REAL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS error_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL DEFAULT '',
			user_id INTEGER,
			source_id INTEGER,
			source_url TEXT NOT NULL,
			article_url TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			step TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			details TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_source_id ON articles(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_run_id ON error_log(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_source_id ON error_log(source_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

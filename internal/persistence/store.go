// Package persistence is the best-effort snapshot layer: terminal tasks and
// finished research runs are written to SQLite so they survive the process.
// The scheduler itself never reads this store; recovery semantics are the
// caller's concern.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store implements snapshot persistence over SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite snapshot store at dbPath, with WAL
// mode and a busy timeout. Parent directories are created as needed.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing snapshot schema: %w", err)
	}
	return s, nil
}

// NewMemoryStore opens an in-memory store for tests. A shared cache lets
// multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing snapshot schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

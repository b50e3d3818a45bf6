package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the zero-infrastructure backend for single-node deployments.
type SQLite struct {
	store
	dsn string
}

// NewSQLite opens (and if needed creates) the database file at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_fk=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between concurrent jobs.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &SQLite{dsn: dsn}
	s.db = db
	s.rebind = func(q string) string { return q } // sqlite uses ? natively
	return s, nil
}

// Migrate applies pending migrations and loads the parameter catalogue.
func (s *SQLite) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, "sqlite3", s.dsn, "sqlite"); err != nil {
		return err
	}
	return s.loadCatalog(ctx)
}

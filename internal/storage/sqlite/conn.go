// Package sqlite is memlog's persistence collaborator: a tabular store
// backed by SQLite via the pure-Go ncruces/go-sqlite3 driver, plus a
// content-addressed artifacts/ directory. Every table here corresponds 1:1
// to an entity or derived projection from spec.md §3/§6.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the underlying *sql.DB plus the resolved artifacts directory.
type Store struct {
	db          *sql.DB
	dbPath      string
	artifactDir string
}

// Open opens (creating if absent) the SQLite database at dbPath, applies
// pragmas, runs schema/migrations, and returns a ready Store. The artifacts
// directory defaults to "artifacts" alongside the database file.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer model (spec.md §5)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	artifactDir := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, artifactDir: artifactDir}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages (ops, eventlog) that need
// raw access beyond the Store's own methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ArtifactDir returns the content-addressed artifact blob directory.
func (s *Store) ArtifactDir() string {
	return s.artifactDir
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// WithTx runs fn inside a transaction opened with the driver's default
// BEGIN (not BEGIN IMMEDIATE) on the store's single pooled connection,
// committing on success and rolling back on error or panic. Grounded on the
// teacher's withTx helper (internal/storage/sqlite).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

func runMigrations(db *sql.DB) error {
	// The chunks, documents and vector_index tables hold the index unit;
	// they are rewritten together inside one transaction on every persist.
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			ordinal INTEGER PRIMARY KEY,
			text TEXT NOT NULL,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			page INTEGER NOT NULL DEFAULT 0,
			start_offset INTEGER NOT NULL,
			length INTEGER NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			filename TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			chunk_ordinals TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vector_index (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			dim INTEGER NOT NULL,
			count INTEGER NOT NULL,
			vectors BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			messages TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

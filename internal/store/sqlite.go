package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps collection documents in a single SQLite database file.
type SQLiteBackend struct {
	db *sql.DB

	// SQLite allows a single writer; serializing here avoids SQLITE_BUSY.
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	if err := migrate(ctx, db, "sqlite3", "sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)

	return &SQLiteBackend{db: db}, nil
}

// Load reads the document for name.
func (b *SQLiteBackend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	var doc string
	err := b.db.QueryRowContext(ctx, `SELECT document FROM record_collections WHERE name = ?`, name).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying collection: %w", err)
	}
	return []byte(doc), true, nil
}

// Update runs fn inside a transaction while holding the writer lock.
func (b *SQLiteBackend) Update(ctx context.Context, name string, fn func([]byte, bool) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		doc string
		ok  = true
	)
	err = tx.QueryRowContext(ctx, `SELECT document FROM record_collections WHERE name = ?`, name).Scan(&doc)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("querying collection: %w", err)
		}
		ok = false
	}

	var current []byte
	if ok {
		current = []byte(doc)
	}

	out, err := fn(current, ok)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO record_collections (name, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		name, string(out), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresBackend keeps collection documents as JSONB rows. Updates take a
// transaction-scoped advisory lock keyed by collection name, which serializes
// writers across processes as well as goroutines.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres parses the database URL, establishes a connection pool and
// applies migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate(ctx, stdlib.OpenDBFromPool(pool), "postgres", "postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

// Load reads the document for name.
func (b *PostgresBackend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	var doc []byte
	err := b.pool.QueryRow(ctx, `SELECT document::text FROM record_collections WHERE name = $1`, name).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying collection: %w", err)
	}
	return doc, true, nil
}

// Update runs fn inside a transaction holding the collection's advisory lock.
func (b *PostgresBackend) Update(ctx context.Context, name string, fn func([]byte, bool) ([]byte, error)) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("locking collection: %w", err)
	}

	var (
		doc []byte
		ok  = true
	)
	err = tx.QueryRow(ctx, `SELECT document::text FROM record_collections WHERE name = $1`, name).Scan(&doc)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("querying collection: %w", err)
		}
		ok = false
	}

	out, err := fn(doc, ok)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO record_collections (name, document, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		name, string(out),
	)
	if err != nil {
		return fmt.Errorf("writing collection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

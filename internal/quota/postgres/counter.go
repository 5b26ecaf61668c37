// Package postgres stores per-session message counters in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/harunnryd/chorus/internal/quota"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the counter table. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS message_counters (
    session_id TEXT PRIMARY KEY,
    count      BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is satisfied by both *pgxpool.Pool and *pgx.Conn.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Counter is a quota.Counter backed by PostgreSQL. The increment is a single
// upsert, which row-locks the session for the duration of the statement.
type Counter struct {
	db   DB
	pool *pgxpool.Pool
}

var _ quota.Counter = (*Counter)(nil)

// Connect opens a pool for dsn and migrates the schema.
func Connect(ctx context.Context, dsn string) (*Counter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("quota/postgres: connect: %w", err)
	}

	c := &Counter{db: pool, pool: pool}
	if err := c.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an existing connection or pool. The caller runs Migrate.
func New(db DB) *Counter {
	return &Counter{db: db}
}

func (c *Counter) Migrate(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("quota/postgres: migrate: %w", err)
	}
	return nil
}

func (c *Counter) Increment(ctx context.Context, sessionID string) (int64, error) {
	const query = `
		INSERT INTO message_counters (session_id, count) VALUES ($1, 1)
		ON CONFLICT (session_id) DO UPDATE SET
			count = message_counters.count + 1,
			updated_at = now()
		RETURNING count`

	var count int64
	if err := c.db.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("quota/postgres: increment: %w", err)
	}
	return count, nil
}

func (c *Counter) Get(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := c.db.QueryRow(ctx, `SELECT count FROM message_counters WHERE session_id = $1`, sessionID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota/postgres: get: %w", err)
	}
	return count, nil
}

func (c *Counter) Reset(ctx context.Context, sessionID string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM message_counters WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("quota/postgres: reset: %w", err)
	}
	return nil
}

// Close releases the pool opened by Connect. It is a no-op for counters
// built with New.
func (c *Counter) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

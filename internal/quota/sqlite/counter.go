// Package sqlite stores per-session message counters in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harunnryd/chorus/internal/quota"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS message_counters (
		session_id TEXT PRIMARY KEY,
		count      INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)
`

// Counter is a quota.Counter backed by SQLite. Each increment is one
// upsert statement, so concurrent callers never observe the same count.
type Counter struct {
	db *sql.DB
}

var _ quota.Counter = (*Counter)(nil)

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Counter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite counter db: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	c, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open database, running migrations on first use.
func New(db *sql.DB) (*Counter, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate message counters: %w", err)
	}
	return &Counter{db: db}, nil
}

func (c *Counter) Increment(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO message_counters (session_id, count) VALUES (?, 1)
		ON CONFLICT(session_id) DO UPDATE SET
			count = count + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING count`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment message counter: %w", err)
	}
	return count, nil
}

func (c *Counter) Get(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx,
		`SELECT count FROM message_counters WHERE session_id = ?`,
		sessionID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read message counter: %w", err)
	}
	return count, nil
}

func (c *Counter) Reset(ctx context.Context, sessionID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM message_counters WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("reset message counter: %w", err)
	}
	return nil
}

func (c *Counter) Close() error {
	return c.db.Close()
}

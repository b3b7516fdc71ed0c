// Package archive implements the Archive: a Postgres-backed relational
// store of sessions and messages with idempotent append, activity-timestamp
// maintenance, and query-by-session, per spec.md §3/§6.
//
// Grounded on internal/persistence/databases/chat_store_postgres.go (Init's
// table creation, EnsureSession, ListMessages, AppendMessages — the
// "INSERT ... ON CONFLICT DO NOTHING" idiom for idempotent inserts) and its
// pgxpool construction helper.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Session mirrors spec.md §3's Session attributes.
type Session struct {
	ID             string
	Title          string
	CreatedAt      time.Time
	LastActivityAt time.Time
	MessageCount   int
	Metadata       json.RawMessage
}

// Message mirrors spec.md §3's Message attributes, as archived.
type Message struct {
	ID        int64
	SessionID string
	Role      string // "user" | "model"
	Content   string
	Timestamp time.Time
	Tokens    *int
}

// Archive is the relational store's capability set.
type Archive struct {
	pool *pgxpool.Pool
}

// New opens a pooled connection and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Archive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: new pool: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	a := &Archive{pool: pool}
	if err := a.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// init creates the sessions/messages tables, per spec.md §6's schema:
// sessions(session_id PK, title, created_at, last_activity_at,
// message_count, metadata JSON); messages(id PK, session_id FK, role CHECK
// IN ('user','model'), content TEXT, timestamp, tokens?) with a UNIQUE
// index over (session_id, content, timestamp).
func (a *Archive) init(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	message_count INTEGER NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK (role IN ('user', 'model')),
	content TEXT NOT NULL,
	"timestamp" TIMESTAMPTZ NOT NULL,
	tokens INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS messages_session_content_ts_uidx
	ON messages (session_id, content, "timestamp");
`)
	if err != nil {
		return fmt.Errorf("archive: init schema: %w", err)
	}
	return nil
}

// EnsureSession inserts a session row if it does not already exist, leaving
// an existing row untouched (idempotent on session_id).
func (a *Archive) EnsureSession(ctx context.Context, sessionID, title string) (Session, error) {
	if _, err := a.pool.Exec(ctx, `
INSERT INTO sessions (session_id, title)
VALUES ($1, $2)
ON CONFLICT (session_id) DO NOTHING
`, sessionID, title); err != nil {
		return Session{}, fmt.Errorf("archive: ensure session: %w", err)
	}
	return a.GetSession(ctx, sessionID)
}

// GetSession returns the current session row.
func (a *Archive) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var s Session
	err := a.pool.QueryRow(ctx, `
SELECT session_id, title, created_at, last_activity_at, message_count, metadata
FROM sessions WHERE session_id = $1
`, sessionID).Scan(&s.ID, &s.Title, &s.CreatedAt, &s.LastActivityAt, &s.MessageCount, &s.Metadata)
	if err != nil {
		return Session{}, fmt.Errorf("archive: get session: %w", err)
	}
	return s, nil
}

// ListSessions returns all known sessions, most recently active first.
func (a *Archive) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := a.pool.Query(ctx, `
SELECT session_id, title, created_at, last_activity_at, message_count, metadata
FROM sessions ORDER BY last_activity_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("archive: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.LastActivityAt, &s.MessageCount, &s.Metadata); err != nil {
			return nil, fmt.Errorf("archive: scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateTitle renames a session.
func (a *Archive) UpdateTitle(ctx context.Context, sessionID, title string) error {
	_, err := a.pool.Exec(ctx, `UPDATE sessions SET title = $2 WHERE session_id = $1`, sessionID, title)
	if err != nil {
		return fmt.Errorf("archive: update title: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages (ON DELETE CASCADE).
func (a *Archive) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("archive: delete session: %w", err)
	}
	return nil
}

// AppendMessages idempotently inserts messages (duplicates on
// (session_id, content, timestamp) are silently ignored, per spec.md §3's
// dedup-key invariant and §8 invariant 1) and advances the session's
// message_count/last_activity_at to reflect only the rows actually
// inserted, so a retried head-of-queue re-insertion never double-counts.
func (a *Archive) AppendMessages(ctx context.Context, sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	var lastTS time.Time
	for _, m := range msgs {
		tag, err := tx.Exec(ctx, `
INSERT INTO messages (session_id, role, content, "timestamp", tokens)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, content, "timestamp") DO NOTHING
`, sessionID, m.Role, m.Content, m.Timestamp, m.Tokens)
		if err != nil {
			return fmt.Errorf("archive: insert message: %w", err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
		if m.Timestamp.After(lastTS) {
			lastTS = m.Timestamp
		}
	}

	if inserted > 0 {
		if _, err := tx.Exec(ctx, `
UPDATE sessions
SET message_count = message_count + $2,
    last_activity_at = GREATEST(last_activity_at, $3)
WHERE session_id = $1
`, sessionID, inserted, lastTS); err != nil {
			return fmt.Errorf("archive: update session activity: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages in insertion order.
func (a *Archive) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := a.pool.Query(ctx, `
SELECT id, session_id, role, content, "timestamp", tokens
FROM messages WHERE session_id = $1 ORDER BY "timestamp" ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp, &m.Tokens); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearSession deletes all messages for a session without deleting the
// session row itself, used by the /api/clear admin action.
func (a *Archive) ClearSession(ctx context.Context, sessionID string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("archive: clear session: %w", err)
	}
	_, err = a.pool.Exec(ctx, `UPDATE sessions SET message_count = 0 WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("archive: reset message count: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() { a.pool.Close() }

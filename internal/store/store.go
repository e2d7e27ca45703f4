// Package store provides a SQLite-backed conversation history for the ask
// command. Turns are grouped by conversation ID and persist across runs so a
// follow-up question can carry the earlier exchange. Assistant turns are
// stored with their answer text and citation records in separate columns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docchat-go/internal/rag"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a question asked by the user.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the pipeline.
	RoleAssistant Role = "assistant"
)

// Turn is a single persisted turn of a conversation.
type Turn struct {
	// Role is the author of the turn.
	Role Role
	// Content is the text of the turn. For assistant turns this is the
	// answer text only, without the citation header.
	Content string
	// Citations are the sources an assistant turn was grounded on. Always
	// empty for user turns.
	Citations []rag.Citation
	// CreatedAt is when the turn was persisted.
	CreatedAt time.Time
}

// ConversationStore persists and retrieves conversation turns keyed by
// conversation ID. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Append persists one turn.
	Append(ctx context.Context, conversationID string, role Role, content string, citations []rag.Citation) error
	// Recent returns the most recent n turns, oldest first.
	Recent(ctx context.Context, conversationID string, n int) ([]Turn, error)
	// Clear deletes every turn of the conversation.
	Clear(ctx context.Context, conversationID string) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a ConversationStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns ~/.docchat/history.db, creating the directory if
// needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer, and an in-memory database is per
	// connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT    NOT NULL,
    role            TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content         TEXT    NOT NULL,
    citations       TEXT    NOT NULL DEFAULT '[]',
    created_at      INTEGER NOT NULL  -- Unix timestamp (milliseconds)
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation_created
    ON turns (conversation_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one turn. Citations on a user turn are rejected.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, role Role, content string, citations []rag.Citation) error {
	if conversationID == "" {
		return fmt.Errorf("store: append: empty conversation id")
	}
	if role == RoleUser && len(citations) > 0 {
		return fmt.Errorf("store: append: user turns carry no citations")
	}
	if citations == nil {
		citations = []rag.Citation{}
	}
	encoded, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("store: encode citations: %w", err)
	}

	const q = `INSERT INTO turns (conversation_id, role, content, citations, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, conversationID, string(role), content, string(encoded), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n turns of the conversation, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	const q = `
SELECT role, content, citations, created_at FROM (
    SELECT id, role, content, citations, created_at
    FROM   turns
    WHERE  conversation_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			role      string
			citations string
			ts        int64
		)
		if err := rows.Scan(&role, &t.Content, &citations, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &t.Citations); err != nil {
			return nil, fmt.Errorf("store: decode citations: %w", err)
		}
		t.Role = Role(role)
		t.CreatedAt = time.UnixMilli(ts)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return turns, nil
}

// Clear deletes every turn of the conversation.
func (s *SQLiteStore) Clear(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

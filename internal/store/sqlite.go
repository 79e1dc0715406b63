// ABOUTME: SQLite-backed transcript cache using modernc.org/sqlite
// ABOUTME: Persists conversation messages keyed by research ID

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marketoluh/chat/internal/chat"
)

// maxListLimit caps how many messages ListMessages will return in a
// single call regardless of the requested limit.
const maxListLimit = 1000

// timeLayout is fixed-width so the text column sorts in timestamp
// order; RFC3339Nano trims trailing zeros and would not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists conversation transcripts in a local SQLite
// database. It satisfies the chat manager's TranscriptStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the transcript database at the given path.
// The schema is created if it doesn't exist. Parent directories are
// created if needed.
func New(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("transcript store opened", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			research_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_uses TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_research
			ON messages(research_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessage inserts a message into the transcript for the given
// research ID. Saving the same message ID twice updates the stored
// content instead of failing, so re-persisting a message after a
// streaming turn completes is safe.
func (s *SQLiteStore) SaveMessage(ctx context.Context, researchID string, msg *chat.Message) error {
	var toolUses any
	if len(msg.ToolUses) > 0 {
		data, err := json.Marshal(msg.ToolUses)
		if err != nil {
			return fmt.Errorf("encoding tool uses: %w", err)
		}
		toolUses = string(data)
	}

	query := `
		INSERT INTO messages (id, research_id, role, content, tool_uses, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			tool_uses = excluded.tool_uses
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		researchID,
		string(msg.Role),
		msg.Content,
		toolUses,
		msg.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "research_id", researchID, "role", msg.Role)
	return nil
}

// ListMessages returns messages for a research ID in chronological
// order (oldest first). If limit is positive, only the most recent
// `limit` messages are returned; otherwise all messages up to the
// store's cap.
func (s *SQLiteStore) ListMessages(ctx context.Context, researchID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	// Select the N most recent rows, then flip to chronological order.
	query := `
		SELECT id, role, content, tool_uses, created_at
		FROM (
			SELECT id, role, content, tool_uses, created_at
			FROM messages
			WHERE research_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, researchID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var msg chat.Message
		var role, createdAt string
		var toolUses sql.NullString

		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolUses, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Role = chat.Role(role)
		msg.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}

		if toolUses.Valid && toolUses.String != "" {
			if err := json.Unmarshal([]byte(toolUses.String), &msg.ToolUses); err != nil {
				return nil, fmt.Errorf("decoding tool uses: %w", err)
			}
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// DeleteConversation removes all cached messages for a research ID.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, researchID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE research_id = ?", researchID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	s.logger.Debug("deleted conversation transcript", "research_id", researchID)
	return nil
}

// DeleteAll removes every cached message.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("deleting all messages: %w", err)
	}
	s.logger.Debug("deleted all transcripts")
	return nil
}

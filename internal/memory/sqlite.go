package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/tollgate/internal/llm"
)

// SQLiteStore is a SQLite-backed memory store. The caller owns the
// database handle and chooses the driver.
type SQLiteStore struct {
	db          *sql.DB
	maxMessages int
}

// NewSQLiteStore creates a store on db and migrates its schema.
// Messages beyond maxMessages per conversation are pruned on append,
// system messages excepted.
func NewSQLiteStore(db *sql.DB, maxMessages int) (*SQLiteStore, error) {
	if maxMessages <= 0 {
		maxMessages = 100
	}

	store := &SQLiteStore{
		db:          db,
		maxMessages: maxMessages,
	}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append adds a message to a conversation.
func (s *SQLiteStore) Append(conversationID string, msg llm.Message) error {
	now := time.Now().UTC()
	msgID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, conversationID, now, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msgID.String(), conversationID, msg.Role, msg.Content, toolCalls,
		nullString(msg.ToolCallID), nullString(msg.ToolName), now); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	// Prune the oldest non-system messages beyond the window.
	if _, err := tx.Exec(`
		DELETE FROM messages
		WHERE conversation_id = ? AND role != 'system' AND seq NOT IN (
			SELECT seq FROM messages
			WHERE conversation_id = ? AND role != 'system'
			ORDER BY seq DESC
			LIMIT ?
		)
	`, conversationID, conversationID, s.maxMessages); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}

	return tx.Commit()
}

// Retrieve returns up to max of the most recent messages, oldest first.
func (s *SQLiteStore) Retrieve(conversationID string, max int) ([]llm.Message, error) {
	if max <= 0 {
		max = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, tool_name FROM (
			SELECT seq, role, content, tool_calls, tool_call_id, tool_name
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, conversationID, max)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.Message{}
	for rows.Next() {
		var m llm.Message
		var toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Clear removes a conversation and its messages.
func (s *SQLiteStore) Clear(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats returns memory statistics.
func (s *SQLiteStore) Stats() map[string]any {
	var convCount, msgCount int

	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)

	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"max_per_conv":  s.maxMessages,
		"storage":       "sqlite",
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

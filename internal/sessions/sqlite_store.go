package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relaycore/agentcore/pkg/models"
)

// Schema is the DDL for a SQLite-backed Store. Callers execute this once
// against a fresh database before constructing a SQLiteStore.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	agent_id   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	turn_id         TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	status          TEXT NOT NULL,
	tool_calls      TEXT,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// SQLiteStore is a Store backed by modernc.org/sqlite, a pure-Go embedded
// database driver (no cgo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-opened *sql.DB. Callers are expected to
// have run Schema against it (or an equivalent migration).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, conv *models.Conversation) error {
	meta, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, agent_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.AgentID, conv.Title, string(meta), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, agent_id, title, metadata, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func (s *SQLiteStore) Update(ctx context.Context, conv *models.Conversation) error {
	meta, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	conv.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET owner_id = ?, agent_id = ?, title = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		conv.OwnerID, conv.AgentID, conv.Title, string(meta), conv.UpdatedAt, conv.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*models.Conversation, error) {
	return s.Get(ctx, key)
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key, agentID string) (*models.Conversation, error) {
	conv, err := s.Get(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &models.Conversation{
		ID:        key,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Create(ctx, conv); err != nil {
		// Lost a race with another creator; fetch what they wrote.
		if existing, getErr := s.Get(ctx, key); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Conversation, error) {
	query := `SELECT id, owner_id, agent_id, title, metadata, created_at, updated_at FROM conversations`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, turn_id, role, content, status, tool_calls, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.TurnID, string(msg.Role), msg.Content, string(msg.Status),
		string(toolCalls), string(meta), msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	msg.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, status = ?, tool_calls = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		msg.Content, string(msg.Status), string(toolCalls), string(meta), msg.UpdatedAt, msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	// rowid breaks created_at ties in insert order, so a user message and
	// the assistant message created in the same instant keep their order.
	query := `
		SELECT id, conversation_id, turn_id, role, content, status, tool_calls, metadata, created_at, updated_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role, status string
		var toolCalls, meta string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TurnID, &role, &m.Content, &status,
			&toolCalls, &meta, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.Status = models.MessageStatus(status)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse back to oldest-first, matching HistorySource's contract.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var meta string
	if err := row.Scan(&conv.ID, &conv.OwnerID, &conv.AgentID, &conv.Title, &meta, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &conv.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &conv, nil
}

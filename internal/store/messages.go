// ABOUTME: Message persistence with upsert-by-id semantics for in-turn updates
// ABOUTME: Parts are stored as a JSON array; ids are stable across intermediate tool states

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveMessage inserts a new message. The caller owns id generation; inserting
// an id that already exists is an error; use UpsertMessage when the id may
// have been written in an intermediate state earlier in the same turn.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}

	partsJSON, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshaling parts: %w", err)
	}

	query := `
		INSERT INTO messages (id, chat_id, role, parts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ChatID,
		msg.Role,
		string(partsJSON),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "chat_id", msg.ChatID, "role", msg.Role)
	return nil
}

// UpsertMessage inserts the message, or replaces its parts in place when the
// id already exists. The original created_at is kept on update so message
// ordering within the chat is stable across in-turn rewrites; updated_at
// moves with every write so it records when the message last changed.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = time.Now().UTC()

	partsJSON, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshaling parts: %w", err)
	}

	query := `
		INSERT INTO messages (id, chat_id, role, parts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parts = excluded.parts,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ChatID,
		msg.Role,
		string(partsJSON),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting message: %w", err)
	}

	s.logger.Debug("upserted message", "id", msg.ID, "chat_id", msg.ChatID)
	return nil
}

// UpdateMessageParts replaces the parts of an existing message.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) UpdateMessageParts(ctx context.Context, id string, parts []Part) error {
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("marshaling parts: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET parts = ?, updated_at = ? WHERE id = ?`,
		string(partsJSON), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating message parts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetMessage retrieves a single message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, chat_id, role, parts, created_at, updated_at
		FROM messages
		WHERE id = ?
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessagesByChatID retrieves all messages for a chat ordered by created_at ASC.
func (s *SQLiteStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error) {
	query := `
		SELECT id, chat_id, role, parts, created_at, updated_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// GetLatestMessage retrieves the most recent message in a chat.
// Returns ErrNotFound when the chat has no messages.
func (s *SQLiteStore) GetLatestMessage(ctx context.Context, chatID string) (*Message, error) {
	query := `
		SELECT id, chat_id, role, parts, created_at, updated_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, chatID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage scans one message row, decoding the parts JSON.
func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var partsJSON, createdAtStr, updatedAtStr string

	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.Role, &partsJSON, &createdAtStr, &updatedAtStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	if err := json.Unmarshal([]byte(partsJSON), &msg.Parts); err != nil {
		return nil, fmt.Errorf("unmarshaling parts: %w", err)
	}

	var err error
	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	msg.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &msg, nil
}

// ABOUTME: Durable stream registry mapping chats to their generation streams
// ABOUTME: Append-only; the latest registration identifies the chat's current stream

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateStreamID registers a stream for a chat. Registrations are never
// mutated; each generation attempt gets a fresh id immediately before the
// producer starts emitting.
func (s *SQLiteStore) CreateStreamID(ctx context.Context, streamID, chatID string) error {
	query := `
		INSERT INTO stream_ids (stream_id, chat_id, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		streamID,
		chatID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting stream id: %w", err)
	}

	s.logger.Debug("registered stream", "stream_id", streamID, "chat_id", chatID)
	return nil
}

// LatestStreamID returns the most recently registered stream id for a chat.
// Returns ErrNotFound when the chat has no registrations.
func (s *SQLiteStore) LatestStreamID(ctx context.Context, chatID string) (string, error) {
	query := `
		SELECT stream_id
		FROM stream_ids
		WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	var streamID string
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&streamID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying latest stream id: %w", err)
	}

	return streamID, nil
}

// GetStreamIDsByChatID returns all stream ids for a chat in registration order.
func (s *SQLiteStore) GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error) {
	query := `
		SELECT stream_id
		FROM stream_ids
		WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying stream ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stream id row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stream id rows: %w", err)
	}

	return ids, nil
}

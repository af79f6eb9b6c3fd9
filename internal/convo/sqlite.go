package convo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists conversations as one JSON row per user.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an already migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) ([]Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM conversations WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decoding conversation of %s: %w", userID, err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Save(ctx context.Context, userID string, msgs []Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, messages, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		userID, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

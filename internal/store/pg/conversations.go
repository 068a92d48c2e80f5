package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/mercabot/internal/store"
)

// ConversationStore implements store.ConversationStore on conversation_messages.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Append(ctx context.Context, userID string, e store.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (user_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		userID, string(e.Role), e.Content, e.CreatedAt,
	)
	if err != nil {
		return unavailable("append message", err)
	}
	return nil
}

func (s *ConversationStore) ReadAll(ctx context.Context, userID string) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_messages WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, unavailable("read messages", err)
	}
	defer rows.Close()

	entries := []store.Entry{}
	for rows.Next() {
		var e store.Entry
		var role string
		if err := rows.Scan(&role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.Role = store.Role(role)
		if !e.Role.Valid() {
			slog.Warn("store: skipping message with unknown role", "user_id", userID, "role", role)
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *ConversationStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, unavailable("count messages", err)
	}
	return n, nil
}

// ReplaceAll rewrites the log in one transaction. Ids are reassigned so
// the new entries keep their slice order.
func (s *ConversationStore) ReplaceAll(ctx context.Context, userID string, entries []store.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (user_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
			userID, string(e.Role), e.Content, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *ConversationStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = $1`, userID); err != nil {
		return unavailable("clear messages", err)
	}
	return nil
}

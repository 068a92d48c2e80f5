package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/mercabot/internal/store"
)

// ConversationStore implements store.ConversationStore on SQLite.
type ConversationStore struct {
	db *sql.DB
}

// Close closes the underlying database.
func (s *ConversationStore) Close() error { return s.db.Close() }

func (s *ConversationStore) Append(ctx context.Context, userID string, e store.Entry) error {
	if err := insert(ctx, s.db, userID, e); err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, userID string, e store.Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO conversation_messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(e.Role), e.Content, created.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *ConversationStore) ReadAll(ctx context.Context, userID string) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_messages WHERE user_id = ? ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read messages: %w", err)
	}
	defer rows.Close()

	entries := []store.Entry{}
	for rows.Next() {
		var role, content, created string
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		e := store.Entry{Role: store.Role(role), Content: content}
		if !e.Role.Valid() {
			slog.Warn("store: skipping message with unknown role", "user_id", userID, "role", role)
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *ConversationStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE user_id = ?`, userID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count messages: %w", err)
	}
	return n, nil
}

func (s *ConversationStore) ReplaceAll(ctx context.Context, userID string, entries []store.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: delete messages: %w", err)
	}
	for _, e := range entries {
		if err := insert(ctx, tx, userID, e); err != nil {
			return fmt.Errorf("sqlite: insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *ConversationStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: clear messages: %w", err)
	}
	return nil
}

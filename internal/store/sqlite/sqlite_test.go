package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/mercabot/internal/store"
	"github.com/nextlevelbuilder/mercabot/internal/store/storetest"
)

func openTemp(t *testing.T) (*ConversationStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "mercabot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestConversationStore(t *testing.T) {
	s, _ := openTemp(t)
	storetest.ConversationStore(t, s, "5511999990000")
}

func TestConversationStore_SurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	if err := s.Append(ctx, "5511999990000", store.NewEntry(store.RoleUser, "oi")); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadAll(ctx, "5511999990000")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Content != "oi" || got[0].CreatedAt.IsZero() {
		t.Fatalf("expected persisted entry, got %+v", got)
	}
}

func TestConversationStore_SkipsUnknownRole(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		"u", "tool", "x", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = s.Append(ctx, "u", store.NewEntry(store.RoleUser, "ok"))

	got, err := s.ReadAll(ctx, "u")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Content != "ok" {
		t.Fatalf("expected only the valid entry, got %+v", got)
	}
}

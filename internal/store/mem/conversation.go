package mem

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/mercabot/internal/store"
)

// ConversationStore implements store.ConversationStore in memory.
type ConversationStore struct {
	mu   sync.RWMutex
	logs map[string][]store.Entry
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{logs: make(map[string][]store.Entry)}
}

func (s *ConversationStore) Append(_ context.Context, userID string, e store.Entry) error {
	s.mu.Lock()
	s.logs[userID] = append(s.logs[userID], e)
	s.mu.Unlock()
	return nil
}

func (s *ConversationStore) ReadAll(_ context.Context, userID string) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Entry, len(s.logs[userID]))
	copy(out, s.logs[userID])
	return out, nil
}

func (s *ConversationStore) Count(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[userID]), nil
}

func (s *ConversationStore) ReplaceAll(_ context.Context, userID string, entries []store.Entry) error {
	cp := make([]store.Entry, len(entries))
	copy(cp, entries)
	s.mu.Lock()
	s.logs[userID] = cp
	s.mu.Unlock()
	return nil
}

func (s *ConversationStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.logs, userID)
	s.mu.Unlock()
	return nil
}

// Package mem provides in-process implementations of the keyed stores.
// They are atomic within a single process only (standalone mode and tests).
package mem

import (
	"context"
	"sync"
)

// Buffer implements store.FragmentBuffer with a mutex-guarded map.
type Buffer struct {
	mu    sync.Mutex
	items map[string][]string
}

func NewBuffer() *Buffer {
	return &Buffer{items: make(map[string][]string)}
}

func (b *Buffer) Push(_ context.Context, userID, fragment string) error {
	b.mu.Lock()
	b.items[userID] = append(b.items[userID], fragment)
	b.mu.Unlock()
	return nil
}

func (b *Buffer) Len(_ context.Context, userID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items[userID]), nil
}

func (b *Buffer) Drain(_ context.Context, userID string) ([]string, error) {
	b.mu.Lock()
	out := b.items[userID]
	delete(b.items, userID)
	b.mu.Unlock()
	return out, nil
}

// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mercabot/internal/store"
)

// ConversationStore exercises a store.ConversationStore. userID must be
// unused in the backing store.
func ConversationStore(t *testing.T, s store.ConversationStore, userID string) {
	t.Helper()
	ctx := context.Background()

	got, err := s.ReadAll(ctx, userID)
	if err != nil {
		t.Fatalf("read unknown user: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty log for unknown user, got %d entries", len(got))
	}

	for i := 0; i < 4; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		if err := s.Append(ctx, userID, store.NewEntry(role, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	n, err := s.Count(ctx, userID)
	if err != nil || n != 4 {
		t.Fatalf("expected count 4, got %d (err %v)", n, err)
	}

	got, err = s.ReadAll(ctx, userID)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	for i, e := range got {
		if e.Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("expected m%d at position %d, got %q", i, i, e.Content)
		}
	}
	if got[1].Role != store.RoleAssistant {
		t.Fatalf("expected assistant role at 1, got %q", got[1].Role)
	}

	replacement := []store.Entry{store.NewSummaryEntry("cliente Ana"), got[3]}
	if err := s.ReplaceAll(ctx, userID, replacement); err != nil {
		t.Fatalf("replace all: %v", err)
	}
	got, err = s.ReadAll(ctx, userID)
	if err != nil {
		t.Fatalf("read after replace: %v", err)
	}
	if len(got) != 2 || !got[0].IsSummary() || got[1].Content != "m3" {
		t.Fatalf("unexpected log after replace: %+v", got)
	}
	if got[0].SummaryText() != "cliente Ana" {
		t.Fatalf("expected summary text %q, got %q", "cliente Ana", got[0].SummaryText())
	}

	if err := s.Append(ctx, userID, store.NewEntry(store.RoleUser, "after")); err != nil {
		t.Fatalf("append after replace: %v", err)
	}
	got, _ = s.ReadAll(ctx, userID)
	if len(got) != 3 || got[2].Content != "after" {
		t.Fatalf("expected appended entry last, got %+v", got)
	}

	if err := s.Clear(ctx, userID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := s.Count(ctx, userID); n != 0 {
		t.Fatalf("expected count 0 after clear, got %d", n)
	}
}

// FragmentBuffer checks ordering and drain atomicity under concurrent pushes.
func FragmentBuffer(t *testing.T, b store.FragmentBuffer, userID string) {
	t.Helper()
	ctx := context.Background()

	for _, f := range []string{"Hello", "  ", "how much is rice"} {
		if err := b.Push(ctx, userID, f); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if n, err := b.Len(ctx, userID); err != nil || n != 3 {
		t.Fatalf("expected len 3, got %d (err %v)", n, err)
	}
	got, err := b.Drain(ctx, userID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 3 || got[0] != "Hello" || got[2] != "how much is rice" {
		t.Fatalf("unexpected drain order: %q", got)
	}
	if n, _ := b.Len(ctx, userID); n != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", n)
	}

	// Every pushed fragment must come out of exactly one drain.
	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := b.Push(ctx, userID, fmt.Sprintf("%d-%d", w, i)); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}(w)
	}

	var seen []string
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		part, err := b.Drain(ctx, userID)
		if err != nil {
			t.Fatalf("concurrent drain: %v", err)
		}
		seen = append(seen, part...)
	}
	rest, _ := b.Drain(ctx, userID)
	seen = append(seen, rest...)

	if len(seen) != writers*perWriter {
		t.Fatalf("expected %d fragments across drains, got %d", writers*perWriter, len(seen))
	}
	sort.Strings(seen)
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("fragment %q drained twice", seen[i])
		}
	}
}

// CooldownStore checks set-if-absent semantics, owner-scoped clear and expiry.
func CooldownStore(t *testing.T, c store.CooldownStore, userID string) {
	t.Helper()
	ctx := context.Background()

	if active, _, err := c.Status(ctx, userID); err != nil || active {
		t.Fatalf("expected inactive cooldown, got active=%v err=%v", active, err)
	}
	ok, err := c.Acquire(ctx, userID, "turn-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got %v (err %v)", ok, err)
	}
	ok, err = c.Acquire(ctx, userID, "turn-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second acquire to fail, got %v (err %v)", ok, err)
	}
	active, remaining, err := c.Status(ctx, userID)
	if err != nil || !active || remaining <= 0 || remaining > time.Minute {
		t.Fatalf("unexpected status active=%v remaining=%v err=%v", active, remaining, err)
	}

	if err := c.Clear(ctx, userID, "turn-b"); err != nil {
		t.Fatalf("clear by non-owner: %v", err)
	}
	if active, _, _ := c.Status(ctx, userID); !active {
		t.Fatal("expected cooldown to survive a clear by another owner")
	}
	if err := c.Clear(ctx, userID, "turn-a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if active, _, _ := c.Status(ctx, userID); active {
		t.Fatal("expected cooldown cleared")
	}

	ok, _ = c.Acquire(ctx, userID, "turn-c", 50*time.Millisecond)
	if !ok {
		t.Fatal("expected acquire after clear")
	}
	time.Sleep(150 * time.Millisecond)
	if active, _, _ := c.Status(ctx, userID); active {
		t.Fatal("expected cooldown to expire")
	}
	if ok, _ := c.Acquire(ctx, userID, "turn-d", time.Minute); !ok {
		t.Fatal("expected acquire over expired cooldown")
	}
	// The expired holder must not clear its successor.
	_ = c.Clear(ctx, userID, "turn-c")
	if active, _, _ := c.Status(ctx, userID); !active {
		t.Fatal("expected stale owner clear to be ignored")
	}
	_ = c.Clear(ctx, userID, "turn-d")
}

// LeaseStore checks single ownership, re-entry and takeover after expiry.
func LeaseStore(t *testing.T, l store.LeaseStore, userID string) {
	t.Helper()
	ctx := context.Background()

	if ok, err := l.TryAcquire(ctx, userID, "a", time.Minute); err != nil || !ok {
		t.Fatalf("expected owner a to acquire, got %v (err %v)", ok, err)
	}
	if ok, _ := l.TryAcquire(ctx, userID, "b", time.Minute); ok {
		t.Fatal("expected owner b to be rejected")
	}
	if ok, _ := l.TryAcquire(ctx, userID, "a", time.Minute); !ok {
		t.Fatal("expected owner a to renew")
	}
	if err := l.Release(ctx, userID, "b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := l.TryAcquire(ctx, userID, "b", time.Minute); ok {
		t.Fatal("release by non-owner must not free the lease")
	}
	if err := l.Release(ctx, userID, "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.TryAcquire(ctx, userID, "b", 50*time.Millisecond); !ok {
		t.Fatal("expected owner b to acquire released lease")
	}
	time.Sleep(150 * time.Millisecond)
	if ok, _ := l.TryAcquire(ctx, userID, "c", time.Minute); !ok {
		t.Fatal("expected takeover of expired lease")
	}
	_ = l.Release(ctx, userID, "c")
}

package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when a keyed store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// FragmentBuffer holds a user's pending message fragments until a turn drains them.
type FragmentBuffer interface {
	// Push appends a fragment. An error means buffering is unavailable
	// and the caller should process the fragment immediately.
	Push(ctx context.Context, userID, fragment string) error

	// Len is an advisory change signal; it may be stale by the time it returns.
	Len(ctx context.Context, userID string) (int, error)

	// Drain atomically removes and returns all fragments in push order.
	Drain(ctx context.Context, userID string) ([]string, error)
}

// CooldownStore is the per-user "agent is responding" window.
type CooldownStore interface {
	// Acquire sets the cooldown for owner if it is absent or expired.
	// It reports false when another holder has a live cooldown.
	Acquire(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error)
	Status(ctx context.Context, userID string) (active bool, remaining time.Duration, err error)
	// Clear removes the cooldown only while owner still holds it.
	Clear(ctx context.Context, userID, owner string) error
}

// LeaseStore is the aggregator running-marker. At most one owner holds a
// live lease per user; expired leases can be taken over.
type LeaseStore interface {
	TryAcquire(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, owner string) error
}

package mem

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	owner   string
	expires time.Time
}

// Leases implements store.LeaseStore.
type Leases struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewLeases() *Leases {
	return &Leases{leases: make(map[string]lease), now: time.Now}
}

// TryAcquire grants the lease when it is free, expired, or already held by owner.
func (l *Leases) TryAcquire(_ context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[userID]; ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	l.leases[userID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *Leases) Release(_ context.Context, userID, owner string) error {
	l.mu.Lock()
	if cur, ok := l.leases[userID]; ok && cur.owner == owner {
		delete(l.leases, userID)
	}
	l.mu.Unlock()
	return nil
}

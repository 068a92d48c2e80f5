package mem

import (
	"context"
	"sync"
	"time"
)

type cooldown struct {
	owner   string
	expires time.Time
}

// Cooldowns implements store.CooldownStore with per-user expiry times.
type Cooldowns struct {
	mu        sync.Mutex
	cooldowns map[string]cooldown
	now       func() time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{cooldowns: make(map[string]cooldown), now: time.Now}
}

func (c *Cooldowns) Acquire(_ context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if cur, ok := c.cooldowns[userID]; ok && now.Before(cur.expires) {
		return false, nil
	}
	c.cooldowns[userID] = cooldown{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (c *Cooldowns) Status(_ context.Context, userID string) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cooldowns[userID]
	if !ok {
		return false, 0, nil
	}
	remaining := cur.expires.Sub(c.now())
	if remaining <= 0 {
		delete(c.cooldowns, userID)
		return false, 0, nil
	}
	return true, remaining, nil
}

func (c *Cooldowns) Clear(_ context.Context, userID, owner string) error {
	c.mu.Lock()
	if cur, ok := c.cooldowns[userID]; ok && cur.owner == owner {
		delete(c.cooldowns, userID)
	}
	c.mu.Unlock()
	return nil
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Cooldowns implements store.CooldownStore on agent_cooldowns.
type Cooldowns struct {
	db *sql.DB
}

func NewCooldowns(db *sql.DB) *Cooldowns {
	return &Cooldowns{db: db}
}

// Acquire inserts the row or takes over an expired one in a single statement.
func (c *Cooldowns) Acquire(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	var got string
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO agent_cooldowns (user_id, owner, expires_at)
		 VALUES ($1, $2, now() + make_interval(secs => $3))
		 ON CONFLICT (user_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		 WHERE agent_cooldowns.expires_at <= now()
		 RETURNING user_id`,
		userID, owner, seconds(ttl),
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("acquire cooldown", err)
	}
	return true, nil
}

func (c *Cooldowns) Status(ctx context.Context, userID string) (bool, time.Duration, error) {
	var secs float64
	err := c.db.QueryRowContext(ctx,
		`SELECT EXTRACT(EPOCH FROM (expires_at - now()))::float8
		 FROM agent_cooldowns WHERE user_id = $1 AND expires_at > now()`,
		userID,
	).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, unavailable("cooldown status", err)
	}
	return true, time.Duration(secs * float64(time.Second)), nil
}

func (c *Cooldowns) Clear(ctx context.Context, userID, owner string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM agent_cooldowns WHERE user_id = $1 AND owner = $2`, userID, owner,
	); err != nil {
		return unavailable("clear cooldown", err)
	}
	return nil
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Leases implements store.LeaseStore on aggregator_leases.
type Leases struct {
	db *sql.DB
}

func NewLeases(db *sql.DB) *Leases {
	return &Leases{db: db}
}

func (l *Leases) TryAcquire(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	var got string
	err := l.db.QueryRowContext(ctx,
		`INSERT INTO aggregator_leases (user_id, owner, expires_at)
		 VALUES ($1, $2, now() + make_interval(secs => $3))
		 ON CONFLICT (user_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		 WHERE aggregator_leases.expires_at <= now() OR aggregator_leases.owner = EXCLUDED.owner
		 RETURNING owner`,
		userID, owner, seconds(ttl),
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("acquire lease", err)
	}
	return true, nil
}

func (l *Leases) Release(ctx context.Context, userID, owner string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM aggregator_leases WHERE user_id = $1 AND owner = $2`, userID, owner,
	); err != nil {
		return unavailable("release lease", err)
	}
	return nil
}

package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Buffer implements store.FragmentBuffer on inbound_fragments.
// Drain is a single DELETE ... RETURNING, so concurrent pushes either land
// before the snapshot (and are returned) or after it (and stay buffered).
type Buffer struct {
	db *sql.DB
}

func NewBuffer(db *sql.DB) *Buffer {
	return &Buffer{db: db}
}

func (b *Buffer) Push(ctx context.Context, userID, fragment string) error {
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO inbound_fragments (user_id, fragment) VALUES ($1, $2)`, userID, fragment,
	); err != nil {
		return unavailable("push fragment", err)
	}
	return nil
}

func (b *Buffer) Len(ctx context.Context, userID string) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbound_fragments WHERE user_id = $1`, userID,
	).Scan(&n); err != nil {
		return 0, unavailable("count fragments", err)
	}
	return n, nil
}

func (b *Buffer) Drain(ctx context.Context, userID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`DELETE FROM inbound_fragments WHERE user_id = $1 RETURNING id, fragment`, userID,
	)
	if err != nil {
		return nil, unavailable("drain fragments", err)
	}
	defer rows.Close()

	type row struct {
		id   int64
		text string
	}
	var drained []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.text); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		drained = append(drained, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(drained, func(i, j int) bool { return drained[i].id < drained[j].id })
	out := make([]string, len(drained))
	for i, r := range drained {
		out[i] = r.text
	}
	return out, nil
}

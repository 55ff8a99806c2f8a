package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Pins struct {
	pool *pgxpool.Pool
}

func NewPins(pool *pgxpool.Pool) *Pins {
	return &Pins{pool: pool}
}

// Set makes the pin state match pinned. Re-pinning an already pinned
// message and unpinning an absent pin are both no-ops.
func (s *Pins) Set(ctx context.Context, userID, messageID uuid.UUID, pinned bool) error {
	if pinned {
		_, err := s.pool.Exec(ctx, `
			insert into pinned_messages (user_id, message_id)
			values ($1, $2)
			on conflict (user_id, message_id) do nothing
		`, userID, messageID)
		if err != nil {
			return fmt.Errorf("pin message: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		delete from pinned_messages where user_id = $1 and message_id = $2
	`, userID, messageID)
	if err != nil {
		return fmt.Errorf("unpin message: %w", err)
	}
	return nil
}

// ListMessageIDs returns the user's pinned message ids, newest pin
// first.
func (s *Pins) ListMessageIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		select message_id from pinned_messages
		where user_id = $1
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

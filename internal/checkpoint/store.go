package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists checkpoints in Postgres. Rows for a thread are
// append-only; only pending_writes on the latest row is updated in
// place.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetLatest returns the most recently created checkpoint for the
// thread, including accumulated pending writes.
func (s *Store) GetLatest(ctx context.Context, threadID uuid.UUID) (*Tuple, error) {
	row := s.pool.QueryRow(ctx, `
		select id, thread_id, config, checkpoint, metadata, parent_id, pending_writes, created_at
		from checkpoints
		where thread_id = $1
		order by created_at desc, id desc
		limit 1
	`, threadID)

	t, err := scanTuple(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return t, nil
}

// List returns up to limit checkpoints, newest first. Each call is a
// fresh read of current state.
func (s *Store) List(ctx context.Context, threadID uuid.UUID, limit int) ([]Tuple, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		select id, thread_id, config, checkpoint, metadata, parent_id, pending_writes, created_at
		from checkpoints
		where thread_id = $1
		order by created_at desc, id desc
		limit $2
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		t, err := scanTuple(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Append persists a new checkpoint row, parented on the previous
// latest. History is never rewritten.
func (s *Store) Append(ctx context.Context, threadID uuid.UUID, cfg, snapshot, meta json.RawMessage) (uuid.UUID, error) {
	if threadID == uuid.Nil {
		return uuid.Nil, ErrThreadMissing
	}
	cfg, snapshot, meta = orEmpty(cfg), orEmpty(snapshot), orEmpty(meta)

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		insert into checkpoints (thread_id, config, checkpoint, metadata, parent_id)
		values ($1, $2, $3, $4, (
			select id from checkpoints
			where thread_id = $1
			order by created_at desc, id desc
			limit 1
		))
		returning id
	`, threadID, cfg, snapshot, meta).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("append checkpoint: %w", err)
	}
	return id, nil
}

// tupleWriter is the slice of checkpoint behavior the pending-writes
// merge depends on, so the seed-then-merge decision stays independent
// of the SQL layer.
type tupleWriter interface {
	GetLatest(ctx context.Context, threadID uuid.UUID) (*Tuple, error)
	Append(ctx context.Context, threadID uuid.UUID, cfg, snapshot, meta json.RawMessage) (uuid.UUID, error)
	setPendingWrites(ctx context.Context, checkpointID uuid.UUID, canonical json.RawMessage) error
}

// AppendPendingWrites merges writes onto the thread's latest
// checkpoint. A thread with no checkpoint yet gets an empty one seeded
// first so writes are never silently dropped.
func (s *Store) AppendPendingWrites(ctx context.Context, threadID uuid.UUID, writes []PendingWrite) error {
	return appendPendingWrites(ctx, s, threadID, writes)
}

func appendPendingWrites(ctx context.Context, tw tupleWriter, threadID uuid.UUID, writes []PendingWrite) error {
	if threadID == uuid.Nil {
		return ErrThreadMissing
	}
	if len(writes) == 0 {
		return nil
	}

	latest, err := tw.GetLatest(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		if _, err := tw.Append(ctx, threadID, nil, nil, nil); err != nil {
			return fmt.Errorf("seed checkpoint for pending writes: %w", err)
		}
		latest, err = tw.GetLatest(ctx, threadID)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	merged := append(latest.PendingWrites, writes...)
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal pending writes: %w", err)
	}
	canon, err := Canonicalize(raw)
	if err != nil {
		return err
	}
	return tw.setPendingWrites(ctx, latest.ID, canon)
}

func (s *Store) setPendingWrites(ctx context.Context, checkpointID uuid.UUID, canonical json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		update checkpoints set pending_writes = $2 where id = $1
	`, checkpointID, canonical)
	if err != nil {
		return fmt.Errorf("update pending writes: %w", err)
	}
	return nil
}

// DeleteThread removes every checkpoint for the thread.
func (s *Store) DeleteThread(ctx context.Context, threadID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		delete from checkpoints where thread_id = $1
	`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

func scanTuple(row pgx.Row) (*Tuple, error) {
	var (
		t       Tuple
		pending []byte
	)
	if err := row.Scan(&t.ID, &t.ThreadID, &t.Config, &t.Snapshot, &t.Metadata,
		&t.ParentID, &pending, &t.CreatedAt); err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &t.PendingWrites); err != nil {
			return nil, fmt.Errorf("decode pending writes: %w", err)
		}
	}
	return &t, nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Conversations struct {
	pool *pgxpool.Pool
}

func NewConversations(pool *pgxpool.Pool) *Conversations {
	return &Conversations{pool: pool}
}

func (s *Conversations) Create(ctx context.Context, userID uuid.UUID, title string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		insert into conversations (user_id, title)
		values ($1, nullif($2, ''))
		returning id, user_id, title, summary, created_at, updated_at
	`, userID, title)

	var c Conversation
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &c, nil
}

// GetOwned returns the conversation only when it belongs to userID.
func (s *Conversations) GetOwned(ctx context.Context, id, userID uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		select id, user_id, title, summary, created_at, updated_at
		from conversations
		where id = $1 and user_id = $2
	`, id, userID)

	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *Conversations) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		select id, user_id, title, summary, created_at, updated_at
		from conversations
		where user_id = $1
		order by updated_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindByTitle returns the most recently updated conversation of the
// user whose title contains q, case-insensitively.
func (s *Conversations) FindByTitle(ctx context.Context, userID uuid.UUID, q string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		select id, user_id, title, summary, created_at, updated_at
		from conversations
		where user_id = $1 and title ilike '%' || $2 || '%'
		order by updated_at desc
		limit 1
	`, userID, q)

	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &c, nil
}

func (s *Conversations) Rename(ctx context.Context, id, userID uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx, `
		update conversations set title = nullif($3, ''), updated_at = now()
		where id = $1 and user_id = $2
	`, id, userID, title)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSummary overwrites the stored synopsis. Used only by the summary
// generator; message rows are never touched here.
func (s *Conversations) SetSummary(ctx context.Context, id uuid.UUID, summary string) error {
	tag, err := s.pool.Exec(ctx, `
		update conversations set summary = $2 where id = $1
	`, id, summary)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Conversations) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		update conversations set updated_at = now() where id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Delete removes the conversation; messages and pins cascade.
func (s *Conversations) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		delete from conversations where id = $1 and user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

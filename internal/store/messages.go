package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Messages struct {
	pool *pgxpool.Pool
}

func NewMessages(pool *pgxpool.Pool) *Messages {
	return &Messages{pool: pool}
}

func (s *Messages) Create(ctx context.Context, conversationID uuid.UUID, role, content string) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		insert into messages (conversation_id, role, content)
		values ($1, $2, $3)
		returning id, conversation_id, role, content, created_at
	`, conversationID, role, content)

	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &m, nil
}

// ListRecent returns the newest n messages of the conversation in
// oldest-first order, ready to seed a model prompt.
func (s *Messages) ListRecent(ctx context.Context, conversationID uuid.UUID, n int) ([]Message, error) {
	if n <= 0 {
		n = 12
	}
	rows, err := s.pool.Query(ctx, `
		select id, conversation_id, role, content, created_at
		from (
			select id, conversation_id, role, content, created_at
			from messages
			where conversation_id = $1
			order by created_at desc
			limit $2
		) recent
		order by created_at asc
	`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetOwned returns the message only when its conversation belongs to
// userID.
func (s *Messages) GetOwned(ctx context.Context, id, userID uuid.UUID) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		select m.id, m.conversation_id, m.role, m.content, m.created_at
		from messages m
		join conversations c on c.id = m.conversation_id
		where m.id = $1 and c.user_id = $2
	`, id, userID)

	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// SetContent finalizes an assistant placeholder with the accumulated
// text. A single overwrite, never partial.
func (s *Messages) SetContent(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := s.pool.Exec(ctx, `
		update messages set content = $2 where id = $1
	`, id, content)
	if err != nil {
		return fmt.Errorf("set message content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Messages) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		delete from messages where id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

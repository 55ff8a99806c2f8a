package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

func (s *Users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		select id, username, coalesce(display_name, username), is_admin, is_blocked,
		       daily_limit, personal_api_key_cipher, profile_summary, created_at
		from users
		where id = $1
	`, id)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IsAdmin, &u.IsBlocked,
		&u.DailyLimit, &u.PersonalAPIKeyCipher, &u.ProfileSummary, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetByAPIKeyHash resolves a bearer token hash to its user. Revoked
// keys do not resolve.
func (s *Users) GetByAPIKeyHash(ctx context.Context, keyHash string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		select u.id, u.username, coalesce(u.display_name, u.username), u.is_admin, u.is_blocked,
		       u.daily_limit, u.personal_api_key_cipher, u.profile_summary, u.created_at
		from user_api_keys k
		join users u on u.id = k.user_id
		where k.key_hash = $1 and k.revoked_at is null
	`, keyHash)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IsAdmin, &u.IsBlocked,
		&u.DailyLimit, &u.PersonalAPIKeyCipher, &u.ProfileSummary, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return &u, nil
}

// SetPersonalAPIKeyCipher stores (or clears, when nil) the encrypted
// personal model key. Plaintext keys never reach this layer.
func (s *Users) SetPersonalAPIKeyCipher(ctx context.Context, userID uuid.UUID, cipher *string) error {
	tag, err := s.pool.Exec(ctx, `
		update users set personal_api_key_cipher = $2 where id = $1
	`, userID, cipher)
	if err != nil {
		return fmt.Errorf("set personal key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Users) SetProfileSummary(ctx context.Context, userID uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx, `
		update users set profile_summary = $2 where id = $1
	`, userID, text)
	if err != nil {
		return fmt.Errorf("set profile summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

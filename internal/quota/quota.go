// Package quota tracks per-user daily response counts and enforces the
// daily cap. The ledger row for (user, day) is the one piece of shared
// mutable state in the system; every mutation goes through a single
// atomic upsert so concurrent requests never lose updates.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chathub/internal/store"
)

// Source names which capacity funded a response.
type Source string

const (
	SourceShared   Source = "shared"
	SourcePersonal Source = "personal"
)

// Usage is one day's counters. Total == Shared + Personal always.
type Usage struct {
	Total    int
	Shared   int
	Personal int
}

// querier is the pgx surface the ledger touches. pgxpool.Pool
// satisfies it in production.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Ledger struct {
	db           querier
	defaultLimit int
}

func NewLedger(pool *pgxpool.Pool, defaultLimit int) *Ledger {
	return &Ledger{db: pool, defaultLimit: defaultLimit}
}

// GetUsage returns the day's counters, zero-valued when no row exists.
func (l *Ledger) GetUsage(ctx context.Context, userID uuid.UUID, day time.Time) (Usage, error) {
	row := l.db.QueryRow(ctx, `
		select responses, shared_responses, personal_responses
		from daily_usage
		where user_id = $1 and day = $2
	`, userID, day)

	var u Usage
	err := row.Scan(&u.Total, &u.Shared, &u.Personal)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

// IncrementAndGetTotal charges one response to the named source and
// returns the post-increment total. Create-or-increment is a single
// statement, safe under concurrent callers for the same (user, day).
func (l *Ledger) IncrementAndGetTotal(ctx context.Context, userID uuid.UUID, day time.Time, src Source) (int, error) {
	shared, personal := 0, 0
	switch src {
	case SourceShared:
		shared = 1
	case SourcePersonal:
		personal = 1
	default:
		return 0, fmt.Errorf("unknown usage source %q", src)
	}

	var total int
	err := l.db.QueryRow(ctx, `
		insert into daily_usage (user_id, day, responses, shared_responses, personal_responses)
		values ($1, $2, 1, $3, $4)
		on conflict (user_id, day) do update set
			responses = daily_usage.responses + 1,
			shared_responses = daily_usage.shared_responses + $3,
			personal_responses = daily_usage.personal_responses + $4
		returning responses
	`, userID, day, shared, personal).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return total, nil
}

// RecentUsage returns total responses per day for the given day
// boundaries, zero-filling days without a row.
func (l *Ledger) RecentUsage(ctx context.Context, userID uuid.UUID, days []time.Time) (map[time.Time]int, error) {
	out := make(map[time.Time]int, len(days))
	if len(days) == 0 {
		return out, nil
	}
	for _, d := range days {
		out[d] = 0
	}

	rows, err := l.db.Query(ctx, `
		select day, responses from daily_usage
		where user_id = $1 and day >= $2 and day <= $3
	`, userID, days[0], days[len(days)-1])
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out[day.UTC()] = n
	}
	return out, rows.Err()
}

// EffectiveLimit resolves the cap applying to a user: nil means
// unbounded. Personal model credentials and the admin flag both lift
// the cap; otherwise a per-user override wins over the global default.
func (l *Ledger) EffectiveLimit(u *store.User) *int {
	return EffectiveLimit(u, l.defaultLimit)
}

func EffectiveLimit(u *store.User, defaultLimit int) *int {
	if u.HasPersonalKey() || u.IsAdmin {
		return nil
	}
	if u.DailyLimit != nil {
		v := *u.DailyLimit
		return &v
	}
	v := defaultLimit
	return &v
}

// IsOverLimit reports whether total has reached limit. A nil limit is
// unbounded and never over.
func IsOverLimit(total int, limit *int) bool {
	if limit == nil {
		return false
	}
	return total >= *limit
}

// Remaining returns the responses left today, nil when unbounded.
func Remaining(total int, limit *int) *int {
	if limit == nil {
		return nil
	}
	r := *limit - total
	if r < 0 {
		r = 0
	}
	return &r
}

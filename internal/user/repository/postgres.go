package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"distrack/backend/internal/db"
	"distrack/backend/internal/user/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const userColumns = `id, timezone, total_coding_seconds, current_streak, longest_streak, last_session_at, languages, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// Ensure inserts a default row for id if none exists.
func (r *PostgresRepository) Ensure(ctx context.Context, id string) error {
	return EnsureTx(ctx, r.db, id, time.Now().UTC())
}

// SetTimezone updates the user's timezone used for streak calculation.
func (r *PostgresRepository) SetTimezone(ctx context.Context, id, timezone string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET timezone = $2, updated_at = now() WHERE id = $1`, id, timezone)
	return err
}

// EnsureTx inserts a default row for id on q if none exists.
func EnsureTx(ctx context.Context, q Querier, id string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, timezone, created_at, updated_at) VALUES ($1, 'UTC', $2, $2) ON CONFLICT (id) DO NOTHING`,
		id, now)
	return err
}

// LockForUpdate reads the user row under a row lock. Must run inside a transaction.
func LockForUpdate(ctx context.Context, q Querier, id string) (*domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// SaveAggregates writes the aggregate columns of u.
func SaveAggregates(ctx context.Context, q Querier, u *domain.User) error {
	langs, err := json.Marshal(u.Languages)
	if err != nil {
		return fmt.Errorf("encode languages: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`UPDATE users SET total_coding_seconds = $2, current_streak = $3, longest_streak = $4,
		 last_session_at = $5, languages = $6, updated_at = $7 WHERE id = $1`,
		u.ID, u.TotalCodingSeconds, u.CurrentStreak, u.LongestStreak, db.NullTime(u.LastSessionAt), langs, u.UpdatedAt)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u        domain.User
		lastSeen sql.NullTime
		langs    []byte
	)
	if err := row.Scan(&u.ID, &u.Timezone, &u.TotalCodingSeconds, &u.CurrentStreak, &u.LongestStreak,
		&lastSeen, &langs, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.LastSessionAt = db.TimePtr(lastSeen)
	u.Languages = domain.LanguageTotals{}
	if len(langs) > 0 {
		if err := json.Unmarshal(langs, &u.Languages); err != nil {
			return nil, fmt.Errorf("decode languages: %w", err)
		}
	}
	return &u, nil
}

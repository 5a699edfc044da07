package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"distrack/backend/internal/db"
	"distrack/backend/internal/link/domain"
)

const sessionColumns = `id, device_id, code_hash, poll_token_hash, status, user_id, ip_hash, user_agent,
	claim_ip_hash, claim_user_agent, expires_at, authorized_at, completed_at, created_at`

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a link session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts s. A unique violation on the live code or poll token index is ErrCollision.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO link_sessions (id, device_id, code_hash, poll_token_hash, status, user_id,
			ip_hash, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.DeviceID, s.CodeHash, s.PollTokenHash, string(s.Status), db.NullString(s.UserID),
		s.IPHash, s.UserAgent, s.ExpiresAt, s.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrCollision
	}
	return err
}

// GetByCodeHash returns the most recent session for codeHash, or nil if not found.
func (r *PostgresRepository) GetByCodeHash(ctx context.Context, codeHash string) (*domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM link_sessions WHERE code_hash = $1 ORDER BY created_at DESC LIMIT 1`, codeHash))
}

// GetByPoll returns the most recent session for deviceID and pollTokenHash, or nil if not found.
func (r *PostgresRepository) GetByPoll(ctx context.Context, deviceID, pollTokenHash string) (*domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM link_sessions WHERE device_id = $1 AND poll_token_hash = $2
		 ORDER BY created_at DESC LIMIT 1`, deviceID, pollTokenHash))
}

func (r *PostgresRepository) CodeHashInUse(ctx context.Context, codeHash string, now time.Time) (bool, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE link_sessions SET status = 'expired'
		 WHERE code_hash = $1 AND status IN ('pending', 'authorized') AND expires_at < $2`, codeHash, now); err != nil {
		return false, err
	}
	var inUse bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM link_sessions WHERE code_hash = $1 AND status <> 'expired')`, codeHash).Scan(&inUse)
	return inUse, err
}

func (r *PostgresRepository) ExpireActiveForDevice(ctx context.Context, deviceID string) (int64, error) {
	return r.exec(ctx,
		`UPDATE link_sessions SET status = 'expired' WHERE device_id = $1 AND status IN ('pending', 'authorized')`, deviceID)
}

func (r *PostgresRepository) Authorize(ctx context.Context, id, userID, ipHash, userAgent string, at time.Time) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE link_sessions SET status = 'authorized', user_id = $2, claim_ip_hash = $3,
			claim_user_agent = $4, authorized_at = $5
		WHERE id = $1 AND status = 'pending'`, id, userID, ipHash, userAgent, at)
	return n == 1, err
}

func (r *PostgresRepository) Complete(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := r.exec(ctx,
		`UPDATE link_sessions SET status = 'completed', completed_at = $2
		 WHERE id = $1 AND status = 'authorized' AND user_id IS NOT NULL`, id, at)
	return n == 1, err
}

func (r *PostgresRepository) Expire(ctx context.Context, id string) (bool, error) {
	n, err := r.exec(ctx,
		`UPDATE link_sessions SET status = 'expired' WHERE id = $1 AND status IN ('pending', 'authorized')`, id)
	return n == 1, err
}

func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx,
		`UPDATE link_sessions SET status = 'expired' WHERE status IN ('pending', 'authorized') AND expires_at < $1`, now)
}

func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM link_sessions WHERE expires_at < $1`, cutoff)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var (
		s            domain.Session
		status       string
		userID       sql.NullString
		authorizedAt sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.DeviceID, &s.CodeHash, &s.PollTokenHash, &status, &userID, &s.IPHash, &s.UserAgent,
		&s.ClaimIPHash, &s.ClaimUserAgent, &s.ExpiresAt, &authorizedAt, &completedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Status = domain.Status(status)
	s.UserID = userID.String
	s.AuthorizedAt = db.TimePtr(authorizedAt)
	s.CompletedAt = db.TimePtr(completedAt)
	return &s, nil
}

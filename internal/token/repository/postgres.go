package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"distrack/backend/internal/db"
	"distrack/backend/internal/token/domain"
)

const tokenColumns = `id, user_id, device_id, token_hash, expires_at, revoked_at, replaced_by_token, ip_hash, user_agent, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ReplaceForDevice runs revoke-then-insert in one transaction holding a per-device
// advisory lock, so two concurrent issuances cannot both leave an active token.
func (r *PostgresRepository) ReplaceForDevice(ctx context.Context, t *domain.RefreshToken, now time.Time) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.DeviceID); err != nil {
			return fmt.Errorf("lock device: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked_at = $2 WHERE device_id = $1 AND revoked_at IS NULL`,
			t.DeviceID, now); err != nil {
			return fmt.Errorf("revoke device tokens: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_tokens (id, user_id, device_id, token_hash, expires_at, ip_hash, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.UserID, t.DeviceID, t.TokenHash, t.ExpiresAt, t.IPHash, t.UserAgent, t.CreatedAt); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}
		return nil
	})
}

// GetByHash returns the token for tokenHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	var revokedAt sql.NullTime
	var replacedBy sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.ID, &t.UserID, &t.DeviceID, &t.TokenHash, &t.ExpiresAt, &revokedAt, &replacedBy, &t.IPHash, &t.UserAgent, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.RevokedAt = db.TimePtr(revokedAt)
	t.ReplacedBy = replacedBy.String
	return &t, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// errAlreadyRevoked aborts a rotation transaction whose source token lost the race.
var errAlreadyRevoked = errors.New("refresh token already revoked")

// RotateFrom runs revoke, insert and chain in one transaction under the
// per-device advisory lock used by ReplaceForDevice.
func (r *PostgresRepository) RotateFrom(ctx context.Context, prevID string, next *domain.RefreshToken, now time.Time) (bool, error) {
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, next.DeviceID); err != nil {
			return fmt.Errorf("lock device: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, prevID, now)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		} else if n != 1 {
			return errAlreadyRevoked
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked_at = $2 WHERE device_id = $1 AND revoked_at IS NULL`,
			next.DeviceID, now); err != nil {
			return fmt.Errorf("revoke device tokens: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_tokens (id, user_id, device_id, token_hash, expires_at, ip_hash, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			next.ID, next.UserID, next.DeviceID, next.TokenHash, next.ExpiresAt, next.IPHash, next.UserAgent, next.CreatedAt); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET replaced_by_token = $2 WHERE id = $1`, prevID, next.ID); err != nil {
			return fmt.Errorf("chain refresh token: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAlreadyRevoked) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) RevokeAllForDevice(ctx context.Context, deviceID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE device_id = $1 AND revoked_at IS NULL`, deviceID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

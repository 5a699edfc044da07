package repository

import (
	"context"
	"database/sql"
	"errors"

	"distrack/backend/internal/device/domain"
)

const deviceColumns = `device_id, user_id, last_seen_at, last_ip_hash, user_agent, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the device for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	var d domain.Device
	err := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID).
		Scan(&d.DeviceID, &d.UserID, &d.LastSeenAt, &d.LastIPHash, &d.UserAgent, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// ListByUser returns the user's devices, most recently seen first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY last_seen_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.DeviceID, &d.UserID, &d.LastSeenAt, &d.LastIPHash, &d.UserAgent, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Upsert inserts the device or updates owner, last-seen time and metadata.
// Empty metadata does not overwrite previously stored values.
func (r *PostgresRepository) Upsert(ctx context.Context, d *domain.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, user_id, last_seen_at, last_ip_hash, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			last_seen_at = GREATEST(devices.last_seen_at, EXCLUDED.last_seen_at),
			last_ip_hash = COALESCE(NULLIF(EXCLUDED.last_ip_hash, ''), devices.last_ip_hash),
			user_agent = COALESCE(NULLIF(EXCLUDED.user_agent, ''), devices.user_agent)`,
		d.DeviceID, d.UserID, d.LastSeenAt, d.LastIPHash, d.UserAgent)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"distrack/backend/internal/audit/domain"
)

const auditColumns = `id, user_id, device_id, action, resource, ip_hash, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the entry. The entry must have ID set; empty metadata is stored as NULL.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	var meta sql.NullString
	if a.Metadata != "" {
		meta = sql.NullString{String: a.Metadata, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.DeviceID, a.Action, a.Resource, a.IPHash, meta, a.CreatedAt)
	return err
}

// ListByUser returns the user's newest entries first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries older than cutoff.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAuditLog(rows *sql.Rows) (*domain.AuditLog, error) {
	var a domain.AuditLog
	var meta sql.NullString
	if err := rows.Scan(&a.ID, &a.UserID, &a.DeviceID, &a.Action, &a.Resource, &a.IPHash, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Metadata = meta.String
	return &a, nil
}

package repository

import (
	"context"
	"time"

	"distrack/backend/internal/audit/domain"
)

// Repository persists audit logs. Rows are append-only until retention deletes them.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the newest entries for userID, at most limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
	// DeleteBefore removes entries created before cutoff and returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

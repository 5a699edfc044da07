package repository

import (
	"context"
	"time"

	"distrack/backend/internal/token/domain"
)

// Repository defines persistence for refresh tokens.
type Repository interface {
	// ReplaceForDevice revokes every active token of t.DeviceID and inserts t,
	// atomically with respect to other calls for the same device.
	ReplaceForDevice(ctx context.Context, t *domain.RefreshToken, now time.Time) error
	// GetByHash returns the token with the given hash, or nil if not found.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// Revoke sets revoked_at if the token is still unrevoked. It reports whether this call revoked it.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RotateFrom revokes prevID, revokes any other active token of next.DeviceID,
	// inserts next and chains prevID to it, all or nothing. It reports false
	// without writing anything when prevID was already revoked.
	RotateFrom(ctx context.Context, prevID string, next *domain.RefreshToken, now time.Time) (bool, error)
	// RevokeAllForDevice revokes every unrevoked token of the device and returns how many were revoked.
	RevokeAllForDevice(ctx context.Context, deviceID string, at time.Time) (int64, error)
	// DeleteStale removes tokens that expired or were revoked before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

package repository

import (
	"context"

	"distrack/backend/internal/user/domain"
)

// Repository defines persistence for user aggregates.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// Ensure creates the user with defaults if missing. Existing rows are left untouched.
	Ensure(ctx context.Context, id string) error
	SetTimezone(ctx context.Context, id, timezone string) error
}

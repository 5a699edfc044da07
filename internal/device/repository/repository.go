package repository

import (
	"context"

	"distrack/backend/internal/device/domain"
)

// Repository defines persistence for devices.
type Repository interface {
	GetByID(ctx context.Context, deviceID string) (*domain.Device, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	// Upsert creates the device or refreshes its owner and last-seen fields.
	Upsert(ctx context.Context, d *domain.Device) error
}

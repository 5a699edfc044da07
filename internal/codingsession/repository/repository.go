package repository

import (
	"context"
	"time"

	"distrack/backend/internal/codingsession/domain"
)

// RecordResult reports what Record did. When Created is false the session id
// already existed and OwnerID is the user it belongs to; aggregates are untouched.
type RecordResult struct {
	Created bool
	OwnerID string
}

// Repository defines persistence for coding sessions.
type Repository interface {
	// GetByID returns the session or nil if not found.
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	// Record stores s and folds it into its user's aggregates as one atomic
	// step serialized per user. A session id is stored at most once.
	Record(ctx context.Context, s *domain.Session, now time.Time) (RecordResult, error)
	// CountForUser returns the number of sessions stored for userID.
	CountForUser(ctx context.Context, userID string) (int64, error)
}

package repository

import (
	"context"
	"errors"
	"time"

	"distrack/backend/internal/link/domain"
)

// ErrCollision is returned by Create when the code or poll token hash is
// already held by a live session.
var ErrCollision = errors.New("link code or poll token already in use")

// Repository defines persistence for link sessions. Status changes are
// compare-and-set on the stored status: they report false when the session
// was not in the expected state.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByCodeHash returns the most recent session for codeHash, or nil.
	GetByCodeHash(ctx context.Context, codeHash string) (*domain.Session, error)
	// GetByPoll returns the most recent session matching deviceID and pollTokenHash, or nil.
	GetByPoll(ctx context.Context, deviceID, pollTokenHash string) (*domain.Session, error)
	// CodeHashInUse reports whether a live session holds codeHash. Sessions past
	// their TTL at now are expired first so their codes can be reissued.
	CodeHashInUse(ctx context.Context, codeHash string, now time.Time) (bool, error)
	// ExpireActiveForDevice marks every pending or authorized session of deviceID expired.
	ExpireActiveForDevice(ctx context.Context, deviceID string) (int64, error)
	// Authorize moves a pending session to authorized and binds it to userID.
	Authorize(ctx context.Context, id, userID, ipHash, userAgent string, at time.Time) (bool, error)
	// Complete moves an authorized session to completed.
	Complete(ctx context.Context, id string, at time.Time) (bool, error)
	// Expire marks a pending or authorized session expired.
	Expire(ctx context.Context, id string) (bool, error)
	// ExpireStale marks pending and authorized sessions whose TTL passed before now expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// DeleteExpiredBefore deletes sessions whose expires_at is before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

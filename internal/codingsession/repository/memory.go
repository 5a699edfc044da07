package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"distrack/backend/internal/codingsession/domain"
	userdomain "distrack/backend/internal/user/domain"
	userrepo "distrack/backend/internal/user/repository"
)

var errAlreadyRecorded = errors.New("session already recorded")

// MemoryRepository keeps sessions in process memory and updates aggregates in
// a user MemoryRepository. Record holds the user's lock for the whole step.
type MemoryRepository struct {
	users *userrepo.MemoryRepository

	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewMemoryRepository returns an empty store that writes aggregates to users.
func NewMemoryRepository(users *userrepo.MemoryRepository) *MemoryRepository {
	return &MemoryRepository{users: users, sessions: make(map[string]domain.Session)}
}

func (r *MemoryRepository) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) Record(ctx context.Context, s *domain.Session, now time.Time) (RecordResult, error) {
	if err := s.Validate(); err != nil {
		return RecordResult{}, err
	}
	var res RecordResult
	err := r.users.Update(ctx, s.UserID, func(u *userdomain.User) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.sessions[s.SessionID]; ok {
			res.OwnerID = cur.UserID
			return errAlreadyRecorded
		}
		cp := *s
		cp.CreatedAt = now
		r.sessions[s.SessionID] = cp
		u.ApplySession(s.StartedAt, s.DurationSeconds, s.Languages, now)
		res = RecordResult{Created: true, OwnerID: s.UserID}
		return nil
	})
	if errors.Is(err, errAlreadyRecorded) {
		return res, nil
	}
	return res, err
}

func (r *MemoryRepository) CountForUser(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

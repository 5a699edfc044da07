package repository

import (
	"context"
	"sync"
	"time"

	"distrack/backend/internal/link/domain"
)

// MemoryRepository keeps link sessions in process memory. A single mutex makes
// every status change a compare-and-set.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory link session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.sessions {
		if cur.Status == domain.StatusExpired {
			continue
		}
		if cur.CodeHash == s.CodeHash || cur.PollTokenHash == s.PollTokenHash {
			return ErrCollision
		}
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) GetByCodeHash(_ context.Context, codeHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestLocked(func(s *domain.Session) bool { return s.CodeHash == codeHash }), nil
}

func (r *MemoryRepository) GetByPoll(_ context.Context, deviceID, pollTokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestLocked(func(s *domain.Session) bool {
		return s.DeviceID == deviceID && s.PollTokenHash == pollTokenHash
	}), nil
}

func (r *MemoryRepository) CodeHashInUse(_ context.Context, codeHash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inUse := false
	for _, s := range r.sessions {
		if s.CodeHash != codeHash || s.Status == domain.StatusExpired {
			continue
		}
		if !s.Status.Terminal() && s.Expired(now) {
			s.Status = domain.StatusExpired
			continue
		}
		inUse = true
	}
	return inUse, nil
}

func (r *MemoryRepository) ExpireActiveForDevice(_ context.Context, deviceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.DeviceID == deviceID && !s.Status.Terminal() {
			s.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Authorize(_ context.Context, id, userID, ipHash, userAgent string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != domain.StatusPending {
		return false, nil
	}
	s.Status = domain.StatusAuthorized
	s.UserID = userID
	s.ClaimIPHash = ipHash
	s.ClaimUserAgent = userAgent
	s.AuthorizedAt = &at
	return true, nil
}

func (r *MemoryRepository) Complete(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != domain.StatusAuthorized || s.UserID == "" {
		return false, nil
	}
	s.Status = domain.StatusCompleted
	s.CompletedAt = &at
	return true, nil
}

func (r *MemoryRepository) Expire(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status.Terminal() {
		return false, nil
	}
	s.Status = domain.StatusExpired
	return true, nil
}

func (r *MemoryRepository) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if !s.Status.Terminal() && s.ExpiresAt.Before(now) {
			s.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) latestLocked(match func(*domain.Session) bool) *domain.Session {
	var best *domain.Session
	for _, s := range r.sessions {
		if match(s) && (best == nil || s.CreatedAt.After(best.CreatedAt)) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

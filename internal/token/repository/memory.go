package repository

import (
	"context"
	"sync"
	"time"

	"distrack/backend/internal/token/domain"
)

// MemoryRepository keeps refresh tokens in process memory. A single mutex
// makes ReplaceForDevice and RotateFrom atomic.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.RefreshToken
	byHash map[string]string
}

// NewMemoryRepository returns an empty in-memory token store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.RefreshToken),
		byHash: make(map[string]string),
	}
}

func (r *MemoryRepository) ReplaceForDevice(_ context.Context, t *domain.RefreshToken, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokeDeviceLocked(t.DeviceID, now)
	cp := *t
	r.byID[cp.ID] = &cp
	r.byHash[cp.TokenHash] = cp.ID
	return nil
}

func (r *MemoryRepository) GetByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	at = at.UTC()
	t.RevokedAt = &at
	return true, nil
}

func (r *MemoryRepository) RotateFrom(_ context.Context, prevID string, next *domain.RefreshToken, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[prevID]
	if !ok || prev.RevokedAt != nil {
		return false, nil
	}
	r.revokeDeviceLocked(prev.DeviceID, now)
	r.revokeDeviceLocked(next.DeviceID, now)
	cp := *next
	r.byID[cp.ID] = &cp
	r.byHash[cp.TokenHash] = cp.ID
	prev.ReplacedBy = cp.ID
	return true, nil
}

func (r *MemoryRepository) RevokeAllForDevice(_ context.Context, deviceID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeDeviceLocked(deviceID, at), nil
}

func (r *MemoryRepository) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.byID {
		if t.ExpiresAt.Before(cutoff) || (t.RevokedAt != nil && t.RevokedAt.Before(cutoff)) {
			delete(r.byHash, t.TokenHash)
			delete(r.byID, id)
			n++
		}
	}
	for _, t := range r.byID {
		if t.ReplacedBy != "" {
			if _, ok := r.byID[t.ReplacedBy]; !ok {
				t.ReplacedBy = ""
			}
		}
	}
	return n, nil
}

func (r *MemoryRepository) revokeDeviceLocked(deviceID string, at time.Time) int64 {
	at = at.UTC()
	var n int64
	for _, t := range r.byID {
		if t.DeviceID == deviceID && t.RevokedAt == nil {
			revokedAt := at
			t.RevokedAt = &revokedAt
			n++
		}
	}
	return n
}

package repository

import (
	"context"
	"sync"
	"time"

	"distrack/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory, in insertion order.
type MemoryRepository struct {
	mu   sync.RWMutex
	logs []domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *a)
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.logs[i].UserID == userID {
			a := r.logs[i]
			out = append(out, &a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.logs[:0]
	for _, a := range r.logs {
		if !a.CreatedAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	n := int64(len(r.logs) - len(kept))
	r.logs = kept
	return n, nil
}

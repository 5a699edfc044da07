package repository

import (
	"context"
	"sync"
	"time"

	"distrack/backend/internal/user/domain"
)

// MemoryRepository keeps users in process memory. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
	locks map[string]*sync.Mutex
	nowF  func() time.Time
}

// NewMemoryRepository returns an empty in-memory user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]*domain.User),
		locks: make(map[string]*sync.Mutex),
		nowF:  func() time.Time { return time.Now().UTC() },
	}
}

// GetByID returns a copy of the user, or nil if not found.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return u.Clone(), nil
}

// Ensure creates a default user if missing.
func (r *MemoryRepository) Ensure(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		r.users[id] = domain.New(id, r.nowF())
	}
	return nil
}

// SetTimezone updates the user's timezone. Missing users are created first.
func (r *MemoryRepository) SetTimezone(ctx context.Context, id, timezone string) error {
	_ = r.Ensure(ctx, id)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].Timezone = timezone
	return nil
}

// Update serializes fn per user: it runs with the user's lock held on a copy of
// the current aggregate and stores the copy only if fn returns nil.
func (r *MemoryRepository) Update(ctx context.Context, id string, fn func(*domain.User) error) error {
	_ = r.Ensure(ctx, id)
	lock := r.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	cp := r.users[id].Clone()
	r.mu.Unlock()

	if err := fn(cp); err != nil {
		return err
	}
	r.mu.Lock()
	r.users[id] = cp
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) userLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

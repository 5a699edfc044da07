package repository

import (
	"context"
	"sort"
	"sync"

	"distrack/backend/internal/device/domain"
)

// MemoryRepository keeps devices in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]domain.Device
}

// NewMemoryRepository returns an empty in-memory device store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]domain.Device)}
}

func (r *MemoryRepository) GetByID(_ context.Context, deviceID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, d *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.devices[d.DeviceID]
	if !ok {
		cp := *d
		cp.CreatedAt = d.LastSeenAt
		r.devices[d.DeviceID] = cp
		return nil
	}
	cur.UserID = d.UserID
	if d.LastSeenAt.After(cur.LastSeenAt) {
		cur.LastSeenAt = d.LastSeenAt
	}
	if d.LastIPHash != "" {
		cur.LastIPHash = d.LastIPHash
	}
	if d.UserAgent != "" {
		cur.UserAgent = d.UserAgent
	}
	r.devices[d.DeviceID] = cur
	return nil
}

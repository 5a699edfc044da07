package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distrack/backend/internal/link/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSession(id, deviceID, code string) *domain.Session {
	return &domain.Session{
		ID:            id,
		DeviceID:      deviceID,
		CodeHash:      "code-" + code,
		PollTokenHash: "poll-" + id,
		Status:        domain.StatusPending,
		ExpiresAt:     t0.Add(10 * time.Minute),
		CreatedAt:     t0,
	}
}

func TestMemoryRepository_CreateRejectsLiveCollision(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, newSession("l1", "d1", "ABC123")))

	assert.ErrorIs(t, repo.Create(ctx, newSession("l2", "d2", "ABC123")), ErrCollision)

	ok, err := repo.Expire(ctx, "l1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, repo.Create(ctx, newSession("l3", "d2", "ABC123")))
}

func TestMemoryRepository_CodeHashInUseExpiresStale(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, newSession("l1", "d1", "ABC123")))

	inUse, err := repo.CodeHashInUse(ctx, "code-ABC123", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, inUse)

	inUse, err = repo.CodeHashInUse(ctx, "code-ABC123", t0.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, inUse)

	s, err := repo.GetByCodeHash(ctx, "code-ABC123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, s.Status)
}

func TestMemoryRepository_TransitionsAreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, newSession("l1", "d1", "ABC123")))

	ok, err := repo.Complete(ctx, "l1", t0)
	require.NoError(t, err)
	assert.False(t, ok, "pending session cannot complete")

	ok, _ = repo.Authorize(ctx, "l1", "u1", "ip", "ua", t0)
	assert.True(t, ok)
	ok, _ = repo.Authorize(ctx, "l1", "u2", "ip", "ua", t0)
	assert.False(t, ok, "second claim must lose")

	ok, _ = repo.Complete(ctx, "l1", t0.Add(time.Minute))
	assert.True(t, ok)
	ok, _ = repo.Expire(ctx, "l1")
	assert.False(t, ok, "completed is terminal")

	s, _ := repo.GetByPoll(ctx, "d1", "poll-l1")
	require.NotNil(t, s)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, "u1", s.UserID)
	require.NotNil(t, s.CompletedAt)
}

func TestMemoryRepository_ConcurrentAuthorizeSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, newSession("l1", "d1", "ABC123")))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := repo.Authorize(ctx, "l1", fmt.Sprintf("u%d", i), "", "", t0); ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryRepository_ExpireAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, newSession("l1", "d1", "AAA111")))
	require.NoError(t, repo.Create(ctx, newSession("l2", "d1", "BBB222")))
	fresh := newSession("l3", "d2", "CCC333")
	fresh.ExpiresAt = t0.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, fresh))

	n, err := repo.ExpireActiveForDevice(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.ExpireStale(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "d2 session is still within its TTL")

	n, err = repo.DeleteExpiredBefore(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	s, _ := repo.GetByCodeHash(ctx, "code-CCC333")
	assert.NotNil(t, s)
}

func TestMemoryRepository_GetByCodeHashReturnsLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	old := newSession("l1", "d1", "ABC123")
	old.Status = domain.StatusExpired
	require.NoError(t, repo.Create(ctx, old))
	latest := newSession("l2", "d2", "ABC123")
	latest.CreatedAt = t0.Add(time.Minute)
	require.NoError(t, repo.Create(ctx, latest))

	s, err := repo.GetByCodeHash(ctx, "code-ABC123")
	require.NoError(t, err)
	assert.Equal(t, "l2", s.ID)

	missing, err := repo.GetByCodeHash(ctx, "code-NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

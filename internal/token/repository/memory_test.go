package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distrack/backend/internal/token/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newToken(id, device string) *domain.RefreshToken {
	return &domain.RefreshToken{
		ID: id, UserID: "u1", DeviceID: device, TokenHash: "hash-" + id,
		ExpiresAt: t0.Add(24 * time.Hour), CreatedAt: t0,
	}
}

func TestMemoryRepository_ReplaceForDeviceRevokesPrevious(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("t1", "d1"), t0))
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("other", "d2"), t0))
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("t2", "d1"), t0.Add(time.Minute)))

	first, err := repo.GetByHash(ctx, "hash-t1")
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)
	assert.Equal(t, t0.Add(time.Minute), *first.RevokedAt)

	second, _ := repo.GetByHash(ctx, "hash-t2")
	assert.True(t, second.Active(t0.Add(time.Minute)))
	other, _ := repo.GetByHash(ctx, "hash-other")
	assert.Nil(t, other.RevokedAt)
}

func TestMemoryRepository_ConcurrentReplaceLeavesOneActive(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.ReplaceForDevice(ctx, newToken(fmt.Sprintf("t%d", i), "d1"), t0)
		}(i)
	}
	wg.Wait()

	active := 0
	for i := 0; i < 50; i++ {
		tok, _ := repo.GetByHash(ctx, fmt.Sprintf("hash-t%d", i))
		if tok.Active(t0) {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestMemoryRepository_RevokeIsCompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("t1", "d1"), t0))

	ok, err := repo.Revoke(ctx, "t1", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Revoke(ctx, "t1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = repo.Revoke(ctx, "missing", t0)
	assert.False(t, ok)
}

func TestMemoryRepository_GetByHashReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("t1", "d1"), t0))
	got, _ := repo.GetByHash(ctx, "hash-t1")
	got.UserID = "mutated"
	again, _ := repo.GetByHash(ctx, "hash-t1")
	assert.Equal(t, "u1", again.UserID)

	missing, err := repo.GetByHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryRepository_DeleteStale(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	old := newToken("old", "d1")
	old.ExpiresAt = t0.Add(-48 * time.Hour)
	require.NoError(t, repo.ReplaceForDevice(ctx, old, t0.Add(-72*time.Hour)))
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("live", "d2"), t0))
	short := newToken("short", "d2")
	short.ExpiresAt = t0.Add(-48 * time.Hour)
	won, err := repo.RotateFrom(ctx, "live", short, t0)
	require.NoError(t, err)
	require.True(t, won)

	n, err := repo.DeleteStale(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	gone, _ := repo.GetByHash(ctx, "hash-old")
	assert.Nil(t, gone)
	live, _ := repo.GetByHash(ctx, "hash-live")
	assert.Empty(t, live.ReplacedBy)
}

func TestMemoryRepository_RotateFromChainsAndKeepsOneActive(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.ReplaceForDevice(ctx, newToken("t1", "d1"), t0))

	won, err := repo.RotateFrom(ctx, "t1", newToken("t2", "d1"), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, won)
	prev, _ := repo.GetByHash(ctx, "hash-t1")
	require.NotNil(t, prev.RevokedAt)
	assert.Equal(t, "t2", prev.ReplacedBy)
	next, _ := repo.GetByHash(ctx, "hash-t2")
	assert.Nil(t, next.RevokedAt)

	won, err = repo.RotateFrom(ctx, "t1", newToken("t3", "d1"), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, won)
	lost, _ := repo.GetByHash(ctx, "hash-t3")
	assert.Nil(t, lost, "a lost rotation stores nothing")
	prev, _ = repo.GetByHash(ctx, "hash-t1")
	assert.Equal(t, "t2", prev.ReplacedBy)
}

package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distrack/backend/internal/codingsession/domain"
	userdomain "distrack/backend/internal/user/domain"
	userrepo "distrack/backend/internal/user/repository"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newSession(id, userID string, start time.Time, secs int64) *domain.Session {
	return &domain.Session{
		SessionID:       id,
		UserID:          userID,
		DeviceID:        "d1",
		StartedAt:       start,
		DurationSeconds: secs,
		Languages:       userdomain.LanguageTotals{userdomain.LangGo: secs},
	}
}

func TestMemoryRepository_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewMemoryRepository()
	repo := NewMemoryRepository(users)

	res, err := repo.Record(ctx, newSession("s1", "u1", t0, 120), t0)
	require.NoError(t, err)
	assert.Equal(t, RecordResult{Created: true, OwnerID: "u1"}, res)

	res, err = repo.Record(ctx, newSession("s1", "u1", t0, 120), t0)
	require.NoError(t, err)
	assert.Equal(t, RecordResult{Created: false, OwnerID: "u1"}, res)

	res, err = repo.Record(ctx, newSession("s1", "u2", t0, 120), t0)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "u1", res.OwnerID)

	u1, _ := users.GetByID(ctx, "u1")
	assert.Equal(t, int64(120), u1.TotalCodingSeconds)
	assert.Equal(t, int64(120), u1.Languages[userdomain.LangGo])
	u2, _ := users.GetByID(ctx, "u2")
	if u2 != nil {
		assert.Zero(t, u2.TotalCodingSeconds, "conflicting submission must not touch aggregates")
	}

	n, err := repo.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryRepository_ConcurrentRecordsSerializePerUser(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewMemoryRepository()
	repo := NewMemoryRepository(users)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the submissions are retries of the same id.
			id := fmt.Sprintf("s%d", i%25)
			_, err := repo.Record(ctx, newSession(id, "u1", t0.Add(time.Duration(i%25)*time.Minute), 60), t0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	u, _ := users.GetByID(ctx, "u1")
	assert.Equal(t, int64(25*60), u.TotalCodingSeconds)
	assert.Equal(t, 1, u.CurrentStreak)
	n, _ := repo.CountForUser(ctx, "u1")
	assert.Equal(t, int64(25), n)
}

func TestMemoryRepository_RecordValidates(t *testing.T) {
	repo := NewMemoryRepository(userrepo.NewMemoryRepository())
	_, err := repo.Record(context.Background(), newSession("", "u1", t0, 1), t0)
	assert.Error(t, err)
}

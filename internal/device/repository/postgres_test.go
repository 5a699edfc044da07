package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distrack/backend/internal/device/domain"
)

func TestPostgresRepository_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO devices .* ON CONFLICT \(device_id\) DO UPDATE`).
		WithArgs("dev-1", "user-1", now, "iphash", "ua").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepository(db)
	err = repo.Upsert(context.Background(), &domain.Device{
		DeviceID: "dev-1", UserID: "user-1", LastSeenAt: now, LastIPHash: "iphash", UserAgent: "ua",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM devices WHERE device_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}))

	d, err := NewPostgresRepository(db).GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPostgresRepository_ListByUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"device_id", "user_id", "last_seen_at", "last_ip_hash", "user_agent", "created_at"}).
		AddRow("dev-2", "user-1", now, "", "", now).
		AddRow("dev-1", "user-1", now.Add(-time.Hour), "h", "ua", now.Add(-time.Hour))
	mock.ExpectQuery(`SELECT .* FROM devices WHERE user_id = \$1 ORDER BY last_seen_at DESC`).
		WithArgs("user-1").
		WillReturnRows(rows)

	list, err := NewPostgresRepository(db).ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dev-2", list[0].DeviceID)
	assert.Equal(t, "ua", list[1].UserAgent)
}

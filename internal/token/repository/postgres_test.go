package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_ReplaceForDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tok := newToken("t2", "d1")
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE device_id = \$1 AND revoked_at IS NULL`).
		WithArgs("d1", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs("t2", "u1", "d1", "hash-t2", tok.ExpiresAt, "", "", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRepository(db).ReplaceForDevice(context.Background(), tok, t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ReplaceForDevice_RollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE refresh_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = NewPostgresRepository(db).ReplaceForDevice(context.Background(), newToken("t1", "d1"), t0)
	assert.ErrorContains(t, err, "insert refresh token")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	revoked := t0.Add(time.Hour)
	cols := []string{"id", "user_id", "device_id", "token_hash", "expires_at", "revoked_at", "replaced_by_token", "ip_hash", "user_agent", "created_at"}
	mock.ExpectQuery(`SELECT .* FROM refresh_tokens WHERE token_hash = \$1`).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("t1", "u1", "d1", "h1", t0.Add(24*time.Hour), revoked, "t2", "", "", t0))
	mock.ExpectQuery(`SELECT .* FROM refresh_tokens WHERE token_hash = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	repo := NewPostgresRepository(db)
	got, err := repo.GetByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.Equal(t, revoked, *got.RevokedAt)
	assert.Equal(t, "t2", got.ReplacedBy)

	missing, err := repo.GetByHash(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresRepository_RevokeReportsRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1 AND revoked_at IS NULL`).
		WithArgs("t1", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1 AND revoked_at IS NULL`).
		WithArgs("t1", t0).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepository(db)
	ok, err := repo.Revoke(context.Background(), "t1", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Revoke(context.Background(), "t1", t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresRepository_RotateFrom(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	next := newToken("t2", "d1")
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1 AND revoked_at IS NULL`).
		WithArgs("t1", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE device_id = \$1 AND revoked_at IS NULL`).
		WithArgs("d1", t0).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs("t2", "u1", "d1", "hash-t2", next.ExpiresAt, "", "", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET replaced_by_token = \$2 WHERE id = \$1`).
		WithArgs("t1", "t2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	won, err := NewPostgresRepository(db).RotateFrom(context.Background(), "t1", next, t0)
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RotateFrom_LostRaceRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1`).
		WithArgs("t1", t0).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	won, err := NewPostgresRepository(db).RotateFrom(context.Background(), "t1", newToken("t2", "d1"), t0)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RotateFrom_InsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE id = \$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$2 WHERE device_id = \$1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	won, err := NewPostgresRepository(db).RotateFrom(context.Background(), "t1", newToken("t2", "d1"), t0)
	assert.ErrorContains(t, err, "insert refresh token")
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

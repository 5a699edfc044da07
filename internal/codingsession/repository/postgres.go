package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"distrack/backend/internal/codingsession/domain"
	"distrack/backend/internal/db"
	userrepo "distrack/backend/internal/user/repository"
)

const sessionColumns = `session_id, user_id, device_id, started_at, duration_seconds, languages, project, editor,
	extension_version, file_paths, ip_hash, user_agent, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a coding session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for sessionID, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	var (
		s     domain.Session
		langs []byte
		paths []byte
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM coding_sessions WHERE session_id = $1`, sessionID).
		Scan(&s.SessionID, &s.UserID, &s.DeviceID, &s.StartedAt, &s.DurationSeconds, &langs, &s.Project, &s.Editor,
			&s.ExtensionVersion, &paths, &s.IPHash, &s.UserAgent, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(langs) > 0 {
		if err := json.Unmarshal(langs, &s.Languages); err != nil {
			return nil, fmt.Errorf("decode languages: %w", err)
		}
	}
	if len(paths) > 0 {
		if err := json.Unmarshal(paths, &s.FilePaths); err != nil {
			return nil, fmt.Errorf("decode file paths: %w", err)
		}
	}
	return &s, nil
}

// Record inserts s and updates the user aggregate in one transaction. The user
// row is locked before the insert so concurrent sessions of a user serialize.
func (r *PostgresRepository) Record(ctx context.Context, s *domain.Session, now time.Time) (RecordResult, error) {
	if err := s.Validate(); err != nil {
		return RecordResult{}, err
	}
	langs, err := json.Marshal(s.Languages)
	if err != nil {
		return RecordResult{}, fmt.Errorf("encode languages: %w", err)
	}
	paths := s.FilePaths
	if paths == nil {
		paths = []string{}
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return RecordResult{}, fmt.Errorf("encode file paths: %w", err)
	}

	var res RecordResult
	err = db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := userrepo.EnsureTx(ctx, tx, s.UserID, now); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		u, err := userrepo.LockForUpdate(ctx, tx, s.UserID)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		ins, err := tx.ExecContext(ctx, `
			INSERT INTO coding_sessions (session_id, user_id, device_id, started_at, duration_seconds, languages,
				project, editor, extension_version, file_paths, ip_hash, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (session_id) DO NOTHING`,
			s.SessionID, s.UserID, s.DeviceID, s.StartedAt, s.DurationSeconds, langs,
			s.Project, s.Editor, s.ExtensionVersion, pathsJSON, s.IPHash, s.UserAgent, now)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if n, err := ins.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			if err := tx.QueryRowContext(ctx,
				`SELECT user_id FROM coding_sessions WHERE session_id = $1`, s.SessionID).Scan(&res.OwnerID); err != nil {
				return fmt.Errorf("load session owner: %w", err)
			}
			return nil
		}
		u.ApplySession(s.StartedAt, s.DurationSeconds, s.Languages, now)
		if err := userrepo.SaveAggregates(ctx, tx, u); err != nil {
			return fmt.Errorf("save aggregates: %w", err)
		}
		res = RecordResult{Created: true, OwnerID: s.UserID}
		return nil
	})
	if err != nil {
		return RecordResult{}, err
	}
	return res, nil
}

// CountForUser returns the number of stored sessions of userID.
func (r *PostgresRepository) CountForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coding_sessions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

package domain

import (
	"errors"
	"time"

	userdomain "distrack/backend/internal/user/domain"
)

// Limits on client-supplied fields.
const (
	MaxSessionIDLength = 128
	MaxDurationSeconds = userdomain.MaxSessionSeconds
	MaxLabelLength     = 256
	MaxFilePaths       = 200
	MaxFilePathLength  = 1024
)

// Session is one recorded coding session. SessionID is the client's idempotency
// key and stays bound to the first user that recorded it.
type Session struct {
	SessionID        string
	UserID           string
	DeviceID         string
	StartedAt        time.Time
	DurationSeconds  int64
	Languages        userdomain.LanguageTotals
	Project          string
	Editor           string
	ExtensionVersion string
	FilePaths        []string
	IPHash           string
	UserAgent        string
	CreatedAt        time.Time
}

// Validate validates the session for persistence. Returns an error describing the first validation failure.
func (s *Session) Validate() error {
	if s.SessionID == "" || len(s.SessionID) > MaxSessionIDLength {
		return errors.New("session_id is required and must be at most 128 characters")
	}
	if s.UserID == "" || s.DeviceID == "" {
		return errors.New("user and device are required")
	}
	if s.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	if s.DurationSeconds < 0 || s.DurationSeconds > MaxDurationSeconds {
		return errors.New("duration_sec must be between 0 and 86400")
	}
	if len(s.FilePaths) > MaxFilePaths {
		return errors.New("too many file_paths")
	}
	return nil
}

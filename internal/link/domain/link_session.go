package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a link session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
)

// MaxDeviceIDLength bounds the client-chosen device identifier.
const MaxDeviceIDLength = 128

var transitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusExpired},
	StatusAuthorized: {StatusCompleted, StatusExpired},
}

// CanTransition reports whether a session may move from one status to another.
// Completed and expired are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Session is one device-linking attempt. Only hashes of the code and poll token are kept.
type Session struct {
	ID             string
	DeviceID       string
	CodeHash       string
	PollTokenHash  string
	Status         Status
	UserID         string
	IPHash         string
	UserAgent      string
	ClaimIPHash    string
	ClaimUserAgent string
	ExpiresAt      time.Time
	AuthorizedAt   *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// Expired reports whether the session's TTL has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session still holds its code and poll token.
func (s *Session) Live(now time.Time) bool {
	return !s.Status.Terminal() && !s.Expired(now)
}

// Validate validates the session for persistence. Returns an error describing the first validation failure.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("link session id is required")
	}
	if s.DeviceID == "" || len(s.DeviceID) > MaxDeviceIDLength {
		return errors.New("device id is required and must be at most 128 characters")
	}
	if s.CodeHash == "" || s.PollTokenHash == "" {
		return errors.New("code and poll token hashes are required")
	}
	if !s.Status.Valid() {
		return errors.New("invalid link session status")
	}
	if s.ExpiresAt.IsZero() {
		return errors.New("expires_at is required")
	}
	return nil
}

// Clone returns a copy of s that shares no pointers with it.
func (s *Session) Clone() *Session {
	cp := *s
	if s.AuthorizedAt != nil {
		t := *s.AuthorizedAt
		cp.AuthorizedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

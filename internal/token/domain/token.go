package domain

import "time"

// RefreshToken is one opaque long-lived credential. Only its hash is stored.
// Rotation revokes a token and points ReplacedBy at its successor.
type RefreshToken struct {
	ID         string
	UserID     string
	DeviceID   string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string
	IPHash     string
	UserAgent  string
	CreatedAt  time.Time
}

// Active reports whether the token is unrevoked and unexpired at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Expired reports whether now is at or past the expiry.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Pair is the plaintext credential pair handed to a device exactly once.
type Pair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in whole seconds at issuance.
	ExpiresIn int64
	// RefreshTokenID is the stored row id of the refresh token.
	RefreshTokenID string
}

// ClientInfo is the request context recorded alongside issued tokens.
type ClientInfo struct {
	IPHash    string
	UserAgent string
}

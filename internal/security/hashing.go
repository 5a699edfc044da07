package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrAPIKeyMismatch is returned when a presented API key does not match.
var ErrAPIKeyMismatch = errors.New("api key mismatch")

// APIKeyVerifier checks a presented service API key against a bcrypt hash of
// the configured key. The plaintext key is hashed once at construction and not retained.
type APIKeyVerifier struct {
	hash []byte
}

// NewAPIKeyVerifier hashes key with the given bcrypt cost (clamped to bcrypt's range).
// An empty key yields a verifier that rejects everything.
func NewAPIKeyVerifier(key string, cost int) (*APIKeyVerifier, error) {
	if key == "" {
		return &APIKeyVerifier{}, nil
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return nil, err
	}
	return &APIKeyVerifier{hash: h}, nil
}

// Enabled reports whether an API key is configured.
func (v *APIKeyVerifier) Enabled() bool { return v != nil && len(v.hash) > 0 }

// Verify returns nil if presented matches the configured key.
func (v *APIKeyVerifier) Verify(presented string) error {
	if !v.Enabled() || presented == "" {
		return ErrAPIKeyMismatch
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(presented)); err != nil {
		return ErrAPIKeyMismatch
	}
	return nil
}

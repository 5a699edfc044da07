package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashSecret returns the hex-encoded SHA-256 of secret. Link codes, poll tokens
// and refresh tokens are stored and looked up only by this digest.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// SecretHashEqual reports whether provided hashes to storedHash, in constant time.
func SecretHashEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSecret(provided)), []byte(storedHash)) == 1
}

// HashIP returns the digest stored in place of a client IP. Empty input yields "".
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	return HashSecret(ip)
}

package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
)

// CodeAlphabet is the set of characters used for human-typed link codes.
// I and 0 are omitted because they are confused with 1 and O.
const CodeAlphabet = "ABCDEFGHJKLMNOPQRSTUVWXYZ123456789"

// ErrInvalidCodeLength is returned for a non-positive code length.
var ErrInvalidCodeLength = errors.New("invalid code length")

// opaqueTokenBytes is the entropy of poll and refresh tokens.
const opaqueTokenBytes = 32

// GenerateCode returns a random code of the given length drawn uniformly from CodeAlphabet.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidCodeLength
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = CodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// GenerateOpaqueToken returns 32 random bytes, base64url-encoded without padding.
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

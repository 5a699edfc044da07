package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfiguredTokenProvider(t *testing.T) {
	p, err := NewConfiguredTokenProvider("", testPrivateKeyPEM, testPublicKeyPEM, TestTokenOptions)
	require.NoError(t, err)
	assert.Equal(t, "RS256", p.method.Alg())

	p, err = NewConfiguredTokenProvider("s3cret", "", "", TestTokenOptions)
	require.NoError(t, err)
	assert.Equal(t, "HS256", p.method.Alg())

	_, err = NewConfiguredTokenProvider("", "", "", TestTokenOptions)
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

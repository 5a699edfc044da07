package security

// NewConfiguredTokenProvider picks the signing mode from configuration: a PEM
// key pair (RS256/ES256) wins over an HMAC secret.
func NewConfiguredTokenProvider(secret, privatePEM, publicPEM string, opts TokenOptions) (*TokenProvider, error) {
	if privatePEM != "" && publicPEM != "" {
		priv, pub, err := LoadSigningKeys(privatePEM, publicPEM)
		if err != nil {
			return nil, err
		}
		return NewTokenProvider(priv, pub, opts)
	}
	return NewHMACTokenProvider([]byte(secret), opts)
}

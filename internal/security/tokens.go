package security

import (
	"crypto"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or fails a claim check.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSigningKey is returned when neither an HMAC secret nor a key pair is configured.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// AccessClaims holds JWT claims for a device access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Scope    string `json:"scope"`
	DeviceID string `json:"device_id"`
}

// HasScope reports whether the space-separated scope claim contains s.
func (c *AccessClaims) HasScope(s string) bool {
	for _, v := range strings.Fields(c.Scope) {
		if v == s {
			return true
		}
	}
	return false
}

// TokenOptions configures claims and verification for a TokenProvider.
type TokenOptions struct {
	Issuer string
	// Audience is the aud of device access tokens.
	Audience string
	// WebAudience is the aud of web-session tokens; empty disables them.
	WebAudience string
	// Scope is granted to every access token.
	Scope     string
	AccessTTL time.Duration
	// Leeway is the clock-skew tolerance applied to exp, nbf and iat.
	Leeway time.Duration
}

// TokenProvider issues and validates signed access tokens. Tokens are signed with
// HS256 when built from a secret, or RS256/ES256 when built from a key pair.
// Validation never touches storage.
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	opts      TokenOptions
	now       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, opts TokenOptions) (*TokenProvider, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrNoSigningKey
	}
	method := SigningMethodFor(publicKey)
	if method == nil {
		return nil, ErrInvalidKey
	}
	return newProvider(method, privateKey, publicKey, opts), nil
}

// NewHMACTokenProvider returns a TokenProvider that signs with HS256 using secret.
func NewHMACTokenProvider(secret []byte, opts TokenOptions) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigningKey
	}
	return newProvider(jwt.SigningMethodHS256, secret, secret, opts), nil
}

func newProvider(method jwt.SigningMethod, signKey, verifyKey interface{}, opts TokenOptions) *TokenProvider {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.Leeway < 0 {
		opts.Leeway = 0
	}
	return &TokenProvider{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		opts:      opts,
		now:       time.Now,
	}
}

// WithClock returns a copy of p that reads time from now. Used by tests.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	cp := *p
	cp.now = now
	return &cp
}

// AccessTTL is the lifetime of issued access tokens.
func (p *TokenProvider) AccessTTL() time.Duration { return p.opts.AccessTTL }

// IssueAccess issues a short-lived access JWT for the given user and device.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(userID, deviceID string) (token, jti string, expiresAt time.Time, err error) {
	jti = uuid.NewString()
	now := p.now().UTC()
	expiresAt = now.Add(p.opts.AccessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.opts.Issuer,
			Audience:  jwt.ClaimStrings{p.opts.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope:    p.opts.Scope,
		DeviceID: deviceID,
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	return token, jti, expiresAt, err
}

// ValidateAccess parses and validates a device access token (signature, exp, iss, aud)
// with the configured clock-skew leeway. Subject and device_id must be present.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, p.opts.Audience); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.DeviceID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueWebSession issues a token for the web tier's logged-in user, accepted by link claim.
func (p *TokenProvider) IssueWebSession(userID string, ttl time.Duration) (string, error) {
	if p.opts.WebAudience == "" {
		return "", ErrNoSigningKey
	}
	now := p.now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    p.opts.Issuer,
		Audience:  jwt.ClaimStrings{p.opts.WebAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
}

// ValidateWebSession validates a web-session token and returns its subject.
func (p *TokenProvider) ValidateWebSession(tokenString string) (userID string, err error) {
	if p.opts.WebAudience == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	if err := p.parse(tokenString, claims, p.opts.WebAudience); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.opts.Issuer),
		jwt.WithAudience(audience),
		jwt.WithLeeway(p.opts.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

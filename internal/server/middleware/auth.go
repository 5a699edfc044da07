package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"distrack/backend/internal/platform/apperr"
	"distrack/backend/internal/platform/httpx"
	"distrack/backend/internal/policy/engine"
	"distrack/backend/internal/security"
)

// APIKeyHeader carries the web tier's service credential.
const APIKeyHeader = "X-API-Key"

// AccessVerifier validates device access tokens offline.
type AccessVerifier interface {
	VerifyAccess(token, scope string) (*security.AccessClaims, error)
}

// WebSessionVerifier validates web-session tokens and returns their subject.
type WebSessionVerifier interface {
	ValidateWebSession(token string) (string, error)
}

// RequireAccess validates the Bearer access token and asks policy whether its
// scopes include requiredScope. Invalid or missing tokens get 401, a denied
// scope 403. When policy is nil the scope claim is checked directly.
func RequireAccess(verifier AccessVerifier, policy engine.Evaluator, requiredScope string, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := httpx.BearerToken(r)
			if !ok {
				httpx.WriteErrorMessage(w, apperr.Unauthorized, "missing or invalid authorization")
				return
			}
			scope := ""
			if policy == nil {
				scope = requiredScope
			}
			claims, err := verifier.VerifyAccess(token, scope)
			if err != nil {
				httpx.WriteErrorLogged(w, r, log, err)
				return
			}
			if policy != nil {
				allowed, err := policy.Allow(r.Context(), engine.ScopeInput{
					UserID:        claims.Subject,
					DeviceID:      claims.DeviceID,
					Scopes:        strings.Fields(claims.Scope),
					RequiredScope: requiredScope,
					Method:        r.Method,
					Path:          r.URL.Path,
				})
				if err != nil {
					httpx.WriteErrorLogged(w, r, log, apperr.Wrap(apperr.Internal, "evaluate scope policy", err))
					return
				}
				if !allowed {
					httpx.WriteErrorMessage(w, apperr.Forbidden, "token lacks required scope")
					return
				}
			}
			ctx := WithIdentity(r.Context(), claims.Subject, claims.DeviceID, claims.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireWebCaller accepts either a web-session Bearer token or the web tier's
// API key. apiKey may be nil or disabled, in which case only tokens are accepted.
func RequireWebCaller(sessions WebSessionVerifier, apiKey *security.APIKeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := httpx.BearerToken(r); ok {
				userID, err := sessions.ValidateWebSession(token)
				if err != nil {
					httpx.WriteErrorMessage(w, apperr.Unauthorized, "invalid or expired session")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithWebCaller(r.Context(), WebCaller{UserID: userID})))
				return
			}
			if key := r.Header.Get(APIKeyHeader); key != "" && apiKey.Enabled() {
				if err := apiKey.Verify(key); err != nil {
					httpx.WriteErrorMessage(w, apperr.Unauthorized, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithWebCaller(r.Context(), WebCaller{ViaAPIKey: true})))
				return
			}
			httpx.WriteErrorMessage(w, apperr.Unauthorized, "missing or invalid authorization")
		})
	}
}

package middleware

import "context"

type contextKey struct{ name string }

var (
	userIDKey    = contextKey{"user_id"}
	deviceIDKey  = contextKey{"device_id"}
	tokenIDKey   = contextKey{"token_id"}
	requestIDKey = contextKey{"request_id"}
	webUserKey   = contextKey{"web_user"}
)

// WithIdentity returns a context carrying the user, device and token id of a verified access token.
func WithIdentity(ctx context.Context, userID, deviceID, tokenID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	ctx = context.WithValue(ctx, tokenIDKey, tokenID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetDeviceID returns the device_id from context and true if set; otherwise "", false.
func GetDeviceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(deviceIDKey).(string)
	return v, ok
}

// GetTokenID returns the access token jti from context and true if set; otherwise "", false.
func GetTokenID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenIDKey).(string)
	return v, ok
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request id or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WebCaller identifies who is calling a web-tier route. UserID is empty when
// the trusted web tier authenticated with its API key and names the user itself.
type WebCaller struct {
	UserID    string
	ViaAPIKey bool
}

// WithWebCaller returns a context carrying the web caller.
func WithWebCaller(ctx context.Context, c WebCaller) context.Context {
	return context.WithValue(ctx, webUserKey, c)
}

// GetWebCaller returns the web caller and true if set.
func GetWebCaller(ctx context.Context) (WebCaller, bool) {
	v, ok := ctx.Value(webUserKey).(WebCaller)
	return v, ok
}

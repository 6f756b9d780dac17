package interceptors

import "context"

type contextKey struct{ name string }

var (
	userIDKey      = contextKey{"user_id"}
	deviceIDKey    = contextKey{"device_id"}
	tokenJTIKey    = contextKey{"token_jti"}
	accessTokenKey = contextKey{"access_token"}
)

// WithIdentity returns a context carrying the caller identity taken from a validated access token.
// Handlers read it back via GetUserID, GetDeviceID and GetTokenJTI.
func WithIdentity(ctx context.Context, userID int64, deviceID, jti string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	ctx = context.WithValue(ctx, tokenJTIKey, jti)
	return ctx
}

// WithAccessToken stores the raw bearer token so handlers can revoke it (e.g. on logout).
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey, token)
}

// GetUserID returns the user_id from context and true if set; otherwise 0, false.
func GetUserID(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(userIDKey).(int64)
	return v, ok && v > 0
}

// GetDeviceID returns the device_id bound to the caller's access token.
func GetDeviceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(deviceIDKey).(string)
	return v, ok
}

// GetTokenJTI returns the jti of the caller's access token.
func GetTokenJTI(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenJTIKey).(string)
	return v, ok
}

func GetAccessToken(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(accessTokenKey).(string)
	return v, ok && v != ""
}

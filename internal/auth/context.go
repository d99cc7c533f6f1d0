package auth

import "context"

type contextKey string

const authContextKey contextKey = "bridge_auth"

// AuthInfo describes an authenticated caller. All callers share one secret,
// so the client address is the only per-caller identity.
type AuthInfo struct {
	Client         string
	KeyFingerprint string
	// Via is "header" or "query".
	Via string
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}

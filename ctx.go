package auth

import (
	"context"
)

var verifiedCtxKey = &contextKey{"verified_token"}

type contextKey struct {
	name string
}

// WithVerifiedToken stores verified claims in the given context
func WithVerifiedToken(ctx context.Context, token VerifiedToken) context.Context {
	return context.WithValue(ctx, verifiedCtxKey, token)
}

// VerifiedTokenFromContext finds the verified claims in the context. Only
// claims produced by TokenVerifier.Verify can be stored here.
func VerifiedTokenFromContext(ctx context.Context) (VerifiedToken, bool) {
	if ctx == nil {
		return VerifiedToken{}, false
	}
	raw, ok := ctx.Value(verifiedCtxKey).(VerifiedToken)
	return raw, ok
}

// UserIDFromContext is a shortcut for request handlers
func UserIDFromContext(ctx context.Context) (string, bool) {
	token, ok := VerifiedTokenFromContext(ctx)
	if !ok || token.UserID == "" {
		return "", false
	}
	return token.UserID, true
}

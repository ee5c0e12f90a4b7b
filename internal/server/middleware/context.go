package middleware

import (
	"context"

	sessiondomain "jwt-session-auth/internal/session/domain"
	userdomain "jwt-session-auth/internal/user/domain"
)

type contextKey struct{ name string }

var (
	userKey      = contextKey{"user"}
	sessionKey   = contextKey{"session"}
	requestIDKey = contextKey{"request_id"}
)

// WithAuth returns a context with the authenticated user and session set.
// Handlers behind the auth middleware can read these via GetUser and GetSession.
func WithAuth(ctx context.Context, user *userdomain.User, session *sessiondomain.Session) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	ctx = context.WithValue(ctx, sessionKey, session)
	return ctx
}

// GetUser returns the authenticated user from context and true if set; otherwise nil, false.
func GetUser(ctx context.Context) (*userdomain.User, bool) {
	v, ok := ctx.Value(userKey).(*userdomain.User)
	return v, ok
}

// GetSession returns the authenticated session from context and true if set; otherwise nil, false.
func GetSession(ctx context.Context) (*sessiondomain.Session, bool) {
	v, ok := ctx.Value(sessionKey).(*sessiondomain.Session)
	return v, ok
}

// GetRequestID returns the request id from context, or "unknown" if unset.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return "unknown"
}

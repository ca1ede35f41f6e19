package shared

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller's opaque user identifier. The engine does
// not authenticate users; the upstream identity provider vouches for the id.
const UserIDHeader = "X-User-ID"

type contextKey string

const userIDKey contextKey = "veritas.user_id"

// ContextWithUserID stores the current user id on the context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the current user id, empty when absent.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UserIDFromRequest reads the identity header, trimmed.
func UserIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

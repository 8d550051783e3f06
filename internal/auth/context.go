// ABOUTME: Request-scoped auth context carrying the authenticated user id
// ABOUTME: WithUser/UserFromContext pair used by middleware and handlers

package auth

import "context"

type contextKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext extracts the authenticated user id set by the middleware.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

package tools

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID tags the context with the chat user the turn belongs to.
// Tools that act on a user's own data (reminders) read it back out.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the user id from the context. Returns 0
// when no user is attached.
func UserIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(userIDKey).(int64); ok {
		return id
	}
	return 0
}

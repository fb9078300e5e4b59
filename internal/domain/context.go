package domain

import "context"

type ctxKey string

const userCtxKey ctxKey = "user_id"

// ContextWithUserID returns a new context carrying the authenticated
// user's ID. Tool implementations read it back so the model can never
// choose whose data a tool touches.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userCtxKey, userID)
}

// UserIDFromContext extracts the user ID from the context.
// Returns 0 if not set.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(userCtxKey).(int64); ok {
		return v
	}
	return 0
}

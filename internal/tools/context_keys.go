package tools

import "context"

// Tool execution context keys. Tools are shared across users, so per-turn
// values travel in the context instead of instance fields.

type toolContextKey string

const ctxUserID toolContextKey = "tool_user_id"

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

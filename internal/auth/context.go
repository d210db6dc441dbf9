package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxWorkspaceID
	ctxRole
)

// WithIdentity stamps the verified staff identity onto the request context.
// WorkspaceID is the contractor company the request acts within; layers
// below HTTP read identity from here, never from gin.
func WithIdentity(ctx context.Context, userID, workspaceID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxWorkspaceID, workspaceID)
	return context.WithValue(ctx, ctxRole, role)
}

func identityValue(ctx context.Context, key ctxKey, name string) (string, error) {
	if s, ok := ctx.Value(key).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New(name + " not in context")
}

func UserID(ctx context.Context) (string, error) {
	return identityValue(ctx, ctxUserID, "user_id")
}

func WorkspaceID(ctx context.Context) (string, error) {
	return identityValue(ctx, ctxWorkspaceID, "workspace_id")
}

func Role(ctx context.Context) (string, error) {
	return identityValue(ctx, ctxRole, "role")
}

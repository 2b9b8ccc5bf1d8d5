package auth

import "context"

type contextKey string

const (
	contextKeyUser contextKey = "auth.user_id"
	contextKeyRole contextKey = "auth.role"
)

// WithIdentity stores the authenticated user and role in context.
func WithIdentity(ctx context.Context, userID string, role Role) context.Context {
	ctx = context.WithValue(ctx, contextKeyUser, userID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	return ctx
}

// UserIDFromContext extracts the user id from context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(contextKeyUser).(string); ok {
		return userID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

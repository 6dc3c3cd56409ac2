package auth

import (
	"context"
	"strings"
)

const RoleAdmin = "ADMIN"

// Principal is the authenticated caller threaded explicitly into workflow calls.
type Principal struct {
	UserID   string
	Email    string
	Role     string
	FullName string
	// Token is the raw bearer token, forwarded on service-to-service calls.
	Token string
}

func (p Principal) IsAdmin() bool {
	return strings.EqualFold(strings.TrimPrefix(p.Role, "ROLE_"), RoleAdmin)
}

// Owns reports whether the principal is the given user.
func (p Principal) Owns(userID string) bool {
	return p.UserID != "" && p.UserID == userID
}

// OwnsOrAdmin is the usual read guard for per-user resources.
func (p Principal) OwnsOrAdmin(userID string) bool {
	return p.IsAdmin() || p.Owns(userID)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

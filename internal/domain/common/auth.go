package common

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Role is a tenant-scoped permission level. Higher roles include lower ones.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

// Allows reports whether r grants at least the required role.
func (r Role) Allows(required Role) bool {
	return r.rank() > 0 && r.rank() >= required.rank()
}

// Claims represents the custom claims included in the JWT access token.
type Claims struct {
	UserID               string          `json:"uid"` // Custom claim for User ID.
	Tenants              map[string]Role `json:"tnt"` // Tenant ID -> role for every tenant the user can access.
	jwt.RegisteredClaims                 // Embed standard claims (ExpiresAt, IssuedAt, Subject, etc.).
}

// RoleFor returns the caller's role in tenantID, or "" when there is none.
func (c *Claims) RoleFor(tenantID string) Role {
	if c == nil {
		return ""
	}
	return c.Tenants[tenantID]
}

type principalKey struct{}

// Principal is the authenticated caller bound to one tenant for the request.
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

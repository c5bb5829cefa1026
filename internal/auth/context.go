package auth

import (
	"context"

	"github.com/terraconstructs/gridgate/internal/db/models"
)

// Roles recognised by the role router. Any other value is treated as unprivileged.
const (
	RoleAdmin  = "admin"
	RoleTenant = "tenant"
)

// Providers record which credential strategy created a user.
const (
	ProviderLocal = "local"
	ProviderOIDC  = "oidc"
)

// Identity is the authenticated principal propagated through the request context.
// It is a read-only projection of a user record and never carries credentials.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Tenant   string `json:"tenant,omitempty"`
	Role     string `json:"role,omitempty"`
	Provider string `json:"provider"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// IdentityFromUser projects a stored user into an Identity.
func IdentityFromUser(u *models.User) *Identity {
	if u == nil {
		return nil
	}
	return &Identity{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Tenant:   u.TenantName(),
		Role:     u.Role,
		Provider: u.Provider,
	}
}

type identityContextKey struct{}

// SetIdentityContext stores the authenticated identity on the context for downstream consumers.
func SetIdentityContext(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

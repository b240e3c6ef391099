package auth

import (
	"context"

	"github.com/BradenHooton/crystals/internal/models"
)

type identityKey struct{}

// WithIdentity stores the authenticated identity in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity set by the auth stage, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *models.Principal {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Principal
	}
	return nil
}

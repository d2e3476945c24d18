package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity describes the already-authenticated caller. The edge proxy
// verifies credentials and forwards the trusted ids; nothing in this
// service re-authenticates.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID // uuid.Nil for global-scope callers
}

// Global reports whether the identity operates outside any tenant.
func (i Identity) Global() bool {
	return i.TenantID == uuid.Nil
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

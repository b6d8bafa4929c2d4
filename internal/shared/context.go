package shared

import "context"

// Identity is the authenticated actor resolved from a bearer token.
type Identity struct {
	UserID   int64
	Username string
	Email    string
	RoleID   int64
	Active   bool
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

package auth

import "context"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is the authenticated caller taken from a verified bearer token.
type Identity struct {
	CustomerID string
	Email      string
	Role       string
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

type contextKey struct{}

// WithIdentity stores the identity in the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

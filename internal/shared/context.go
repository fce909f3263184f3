package shared

import (
	"context"
	"strconv"
)

// SystemActor names automated writers in history entries.
const SystemActor = "system"

// Identity is the tenant and user supplied by the upstream auth layer.
type Identity struct {
	CompanyID int64
	UserID    int64
}

// Actor returns the history actor for the identity.
func (i Identity) Actor() string {
	if i.UserID <= 0 {
		return SystemActor
	}
	return strconv.FormatInt(i.UserID, 10)
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. ok is false when no
// company was attached.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id.CompanyID <= 0 {
		return Identity{}, false
	}
	return id, true
}

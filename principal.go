package gatehouse

import (
	"github.com/google/uuid"
)

// Principal is the authenticated caller of a request. A zero Principal is
// anonymous: no user ID, no tenant, no roles.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Roles    []string
}

// Authenticated reports whether the principal carries a user identity.
func (p Principal) Authenticated() bool {
	return p.UserID != uuid.Nil
}

// HasRole reports whether the principal holds the named role claim.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

package gatehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdminRule is the super-grant rule. Holding any level on it bypasses
// per-rule permission checks entirely.
const AdminRule = "Admin"

// PermissionCacheTTL bounds how long a resolved grant level may be served
// from cache before the grant store is consulted again.
const PermissionCacheTTL = 30 * time.Minute

// PermissionLevel is an ordered capability. Comparisons use "at least"
// semantics everywhere: Edit satisfies a View requirement.
type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelView
	LevelEdit
)

// Satisfies reports whether the level meets the required level.
func (l PermissionLevel) Satisfies(required PermissionLevel) bool {
	return l >= required
}

func (l PermissionLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelView:
		return "view"
	case LevelEdit:
		return "edit"
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// ParsePermissionLevel converts the wire representation of a level.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "view":
		return LevelView, nil
	case "edit":
		return LevelEdit, nil
	}
	return LevelNone, fmt.Errorf("unknown permission level %q", s)
}

// Grant associates a user with a level on a named rule. A user has at most
// one grant per rule.
type Grant struct {
	UserID uuid.UUID       `json:"userID"`
	Rule   string          `json:"rule"`
	Level  PermissionLevel `json:"level"`
}

// GrantStore is the persistent source of truth for grants.
type GrantStore interface {
	// Level returns the user's level on the named rule. The boolean is
	// false when the user holds no grant on the rule.
	Level(ctx context.Context, userID uuid.UUID, rule string) (PermissionLevel, bool, error)

	// Grants lists every grant held by the user.
	Grants(ctx context.Context, userID uuid.UUID) ([]Grant, error)

	// Assign creates or updates the user's grant on g.Rule.
	Assign(ctx context.Context, g Grant) error

	// Remove deletes the user's grant on the named rule.
	Remove(ctx context.Context, userID uuid.UUID, rule string) error
}

// PermissionService resolves whether a user holds at least the required
// level on a named rule. Mutations must invalidate any cached decision for
// the affected (user, rule) pair before returning.
type PermissionService interface {
	HasPermission(ctx context.Context, userID uuid.UUID, rule string, required PermissionLevel) (bool, error)

	AssignGrant(ctx context.Context, g Grant) error
	RemoveGrant(ctx context.Context, userID uuid.UUID, rule string) error
	UserGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error)
}

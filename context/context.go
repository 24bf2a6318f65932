// Package context carries request-scoped pipeline state: the authenticated
// principal, the resolved tenant, an explicit tenant override and the
// formatting locale. Nothing here mutates ambient process state.
package context

import (
	"context"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse"
)

type contextKey string

const (
	principalCtxKey      = contextKey("gatehouse/principal")
	tenantCtxKey         = contextKey("gatehouse/tenant")
	tenantOverrideCtxKey = contextKey("gatehouse/tenant-override")
	localeCtxKey         = contextKey("gatehouse/locale")
)

// SetPrincipal sets the authenticated principal on context.
func SetPrincipal(ctx context.Context, p gatehouse.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// GetPrincipal retrieves the principal from context. The boolean is false
// for anonymous requests; absence is a valid, expected state.
func GetPrincipal(ctx context.Context) (gatehouse.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(gatehouse.Principal)
	return p, ok
}

// SetTenant records the resolved tenant for the remainder of the request.
func SetTenant(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantCtxKey, id)
}

// GetTenant retrieves the resolved tenant. The boolean is false when no
// tenant was resolved; callers must treat that as unauthorized for
// tenant-scoped operations.
func GetTenant(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantCtxKey).(uuid.UUID)
	return id, ok
}

// WithTenantOverride forces the tenant for this request, taking precedence
// over any claim or header. Used during authentication flows before a
// tenant claim exists.
func WithTenantOverride(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantOverrideCtxKey, id)
}

// TenantOverride returns the explicit override, if one was set.
func TenantOverride(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantOverrideCtxKey).(uuid.UUID)
	return id, ok
}

// WithLocale sets the formatting locale for the request.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeCtxKey, locale)
}

// Locale returns the request locale, defaulting to en-US.
func Locale(ctx context.Context) string {
	if l, ok := ctx.Value(localeCtxKey).(string); ok && l != "" {
		return l
	}
	return "en-US"
}

// Package cache provides the response cache: deterministic key derivation
// with configurable variance dimensions, an advisory service wrapper and
// redis / in-memory stores with glob-pattern invalidation.
package cache

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse"
)

// KeyPrefix is the leading segment of every response-cache key, so that
// invalidation patterns like "action:Users:*" address a resource family.
const KeyPrefix = "action"

// RouteParam is one route value in its declared order.
type RouteParam struct {
	Name  string
	Value string
}

// KeyInput carries the request dimensions a key may vary by.
type KeyInput struct {
	Controller string
	Action     string

	Tenant    uuid.UUID
	HasTenant bool

	User    uuid.UUID
	HasUser bool

	Query url.Values

	// RouteParams are all route values except controller/action, in
	// encounter order.
	RouteParams []RouteParam
}

// BuildKey derives the cache key for an action. Construction is strictly
// ordered: base, tenant, user, each named query parameter in the order
// given, each route parameter in encounter order. A dimension whose value
// is absent (anonymous user, missing query parameter) contributes nothing
// to the key; there are no placeholder segments. Two requests share a key
// iff every varying dimension's value is identical.
func BuildKey(in KeyInput, opts gatehouse.CacheKeyOptions) string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteByte(':')
	b.WriteString(in.Controller)
	b.WriteByte(':')
	b.WriteString(in.Action)

	if opts.VaryByTenant && in.HasTenant {
		b.WriteString(":t:")
		b.WriteString(in.Tenant.String())
	}

	if opts.VaryByUser && in.HasUser {
		b.WriteString(":u:")
		b.WriteString(in.User.String())
	}

	for _, name := range opts.QueryParams {
		values, ok := in.Query[name]
		if !ok || len(values) == 0 {
			continue
		}
		b.WriteString(":q:")
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(values, ","))
	}

	for _, p := range in.RouteParams {
		if p.Value == "" {
			continue
		}
		b.WriteString(":r:")
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}

	return b.String()
}

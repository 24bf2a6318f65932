package gatehouse

import (
	"fmt"
	"time"
)

// RoutePolicy is the explicit per-route descriptor driving the pipeline.
// Policies are declared when a route is mounted; nothing is discovered by
// inspecting handler metadata at request time.
type RoutePolicy struct {
	// Controller and Action form the stable identity of the route used as
	// the base of cache keys and endpoint rate-limit counters.
	Controller string
	Action     string

	// RateLimitExempt bypasses every rate-limit scope unconditionally.
	RateLimitExempt bool

	// RequiredRule names the permission rule guarding the route. Empty
	// means the route performs no permission check.
	RequiredRule  string
	RequiredLevel PermissionLevel

	// Cacheable routes consult the response cache before invoking the
	// action and populate it after a successful invocation.
	Cacheable bool
	CacheTTL  time.Duration // zero means DefaultCacheTTL
	CacheKey  CacheKeyOptions

	// InvalidatePatterns are glob patterns cleared from the cache after
	// the action succeeds. Set on mutating routes whose resource family
	// is cached elsewhere.
	InvalidatePatterns []string

	// IdempotencyEligible routes replay a previously recorded 2xx
	// response when the request bears a known Idempotency-Key token.
	IdempotencyEligible bool
}

// Validate checks descriptor invariants at mount time.
func (p RoutePolicy) Validate() error {
	if p.Controller == "" || p.Action == "" {
		return fmt.Errorf("route policy requires controller and action identity")
	}
	if p.Cacheable && len(p.InvalidatePatterns) > 0 {
		return fmt.Errorf("route %s.%s cannot be both cacheable and invalidating", p.Controller, p.Action)
	}
	if p.RequiredRule == "" && p.RequiredLevel != LevelNone {
		return fmt.Errorf("route %s.%s requires a rule name for its permission level", p.Controller, p.Action)
	}
	return nil
}

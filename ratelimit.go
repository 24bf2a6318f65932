package gatehouse

import (
	"context"
	"fmt"
	"time"
)

// RateLimitScope identifies which axis of the request a policy constrains.
// Scopes are evaluated in the fixed precedence order returned by
// ScopePrecedence; the first violated scope terminates evaluation.
type RateLimitScope string

const (
	ScopeEndpoint RateLimitScope = "endpoint"
	ScopeTenant   RateLimitScope = "tenant"
	ScopeUser     RateLimitScope = "user"
	ScopeIP       RateLimitScope = "ip"
	ScopeGlobal   RateLimitScope = "global"
)

// ScopePrecedence returns the evaluation order of rate-limit scopes.
func ScopePrecedence() []RateLimitScope {
	return []RateLimitScope{ScopeEndpoint, ScopeTenant, ScopeUser, ScopeIP, ScopeGlobal}
}

// RateLimitPolicy constrains request volume on one scope. Endpoint-scoped
// policies additionally match on a path prefix and an optional HTTP method
// allow-list; both are ignored for every other scope.
type RateLimitPolicy struct {
	Scope      RateLimitScope
	Limit      int64
	Window     time.Duration
	Enabled    bool
	PathPrefix string
	Methods    []string
}

// Validate checks policy invariants. Disabled policies are always valid.
func (p RateLimitPolicy) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Limit <= 0 {
		return fmt.Errorf("rate limit policy %s: limit must be positive, got %d", p.Scope, p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("rate limit policy %s: window must be positive, got %s", p.Scope, p.Window)
	}
	if p.Scope == ScopeEndpoint && p.PathPrefix == "" {
		return fmt.Errorf("endpoint rate limit policy requires a path prefix")
	}
	return nil
}

// MatchesMethod reports whether the policy applies to the HTTP method.
// An empty allow-list matches every method.
func (p RateLimitPolicy) MatchesMethod(method string) bool {
	if len(p.Methods) == 0 {
		return true
	}
	for _, m := range p.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// RateLimitDecision is the outcome of a single sliding-window check.
type RateLimitDecision struct {
	Allowed   bool
	Remaining int64
	// RetryAfter is how long the caller must wait before the oldest
	// in-window entry expires. Zero when the request is allowed.
	RetryAfter time.Duration
	Count      int64
	Limit      int64
	Scope      RateLimitScope
}

// RateLimitService evaluates one sliding-window counter. Key identifies
// the counter; callers are responsible for scoping the key.
type RateLimitService interface {
	Check(ctx context.Context, key string, limit int64, window time.Duration) (RateLimitDecision, error)
}

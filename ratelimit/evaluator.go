package ratelimit

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
	icontext "github.com/gatehouse-io/gatehouse/context"
)

// Evaluator applies every configured rate-limit policy to a request in
// fixed precedence order: endpoint, tenant, user, IP, global. Evaluation
// stops at the first violated scope; only that scope's decision is
// reported. Scopes without an enabled policy, and scopes whose subject is
// absent (no tenant resolved, anonymous user), are skipped.
type Evaluator struct {
	limiter  gatehouse.RateLimitService
	policies []gatehouse.RateLimitPolicy
	metrics  *Metrics
	logger   *zap.Logger
}

// NewEvaluator validates the policies and returns an evaluator.
func NewEvaluator(limiter gatehouse.RateLimitService, policies []gatehouse.RateLimitPolicy, metrics *Metrics, log *zap.Logger) (*Evaluator, error) {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		limiter:  limiter,
		policies: policies,
		metrics:  metrics,
		logger:   log,
	}, nil
}

// Evaluate checks the request against every applicable scope. The returned
// decision carries the violated scope on rejection, or the most specific
// evaluated scope on success. When no scope applies at all, an allowed
// zero-limit decision is returned.
func (e *Evaluator) Evaluate(r *http.Request) (gatehouse.RateLimitDecision, error) {
	ctx := r.Context()

	first := gatehouse.RateLimitDecision{Allowed: true}
	evaluated := false

	for _, scope := range gatehouse.ScopePrecedence() {
		policy, key, ok := e.subject(r, scope)
		if !ok {
			continue
		}

		decision, err := e.limiter.Check(ctx, key, policy.Limit, policy.Window)
		if err != nil {
			return gatehouse.RateLimitDecision{}, err
		}
		decision.Scope = scope
		e.observe(decision)

		if !decision.Allowed {
			e.logger.Warn("rate limit exceeded",
				zap.String("scope", string(scope)),
				zap.String("key", key),
				zap.Int64("count", decision.Count),
				zap.Int64("limit", decision.Limit),
				zap.Duration("retry_after", decision.RetryAfter),
			)
			return decision, nil
		}

		if !evaluated {
			first = decision
			evaluated = true
		}
	}

	return first, nil
}

// subject returns the enabled policy and counter key for the scope, or
// false when the scope does not apply to this request.
func (e *Evaluator) subject(r *http.Request, scope gatehouse.RateLimitScope) (gatehouse.RateLimitPolicy, string, bool) {
	switch scope {
	case gatehouse.ScopeEndpoint:
		if p, ok := e.endpointPolicy(r); ok {
			return p, "ratelimit:endpoint:" + p.PathPrefix, true
		}

	case gatehouse.ScopeTenant:
		if p, ok := e.enabledPolicy(scope); ok {
			if id, resolved := icontext.GetTenant(r.Context()); resolved {
				return p, "ratelimit:tenant:" + id.String(), true
			}
		}

	case gatehouse.ScopeUser:
		if p, ok := e.enabledPolicy(scope); ok {
			if principal, authed := icontext.GetPrincipal(r.Context()); authed && principal.UserID != uuid.Nil {
				return p, "ratelimit:user:" + principal.UserID.String(), true
			}
		}

	case gatehouse.ScopeIP:
		if p, ok := e.enabledPolicy(scope); ok {
			if ip := ClientIP(r); ip != "" {
				return p, "ratelimit:ip:" + ip, true
			}
		}

	case gatehouse.ScopeGlobal:
		if p, ok := e.enabledPolicy(scope); ok {
			return p, "ratelimit:global", true
		}
	}

	return gatehouse.RateLimitPolicy{}, "", false
}

func (e *Evaluator) enabledPolicy(scope gatehouse.RateLimitScope) (gatehouse.RateLimitPolicy, bool) {
	for _, p := range e.policies {
		if p.Scope == scope && p.Enabled {
			return p, true
		}
	}
	return gatehouse.RateLimitPolicy{}, false
}

// endpointPolicy picks the longest-prefix enabled endpoint policy whose
// prefix and method filter match the request.
func (e *Evaluator) endpointPolicy(r *http.Request) (gatehouse.RateLimitPolicy, bool) {
	var (
		best  gatehouse.RateLimitPolicy
		found bool
	)
	for _, p := range e.policies {
		if p.Scope != gatehouse.ScopeEndpoint || !p.Enabled {
			continue
		}
		if !strings.HasPrefix(r.URL.Path, p.PathPrefix) || !p.MatchesMethod(r.Method) {
			continue
		}
		if !found || len(p.PathPrefix) > len(best.PathPrefix) {
			best = p
			found = true
		}
	}
	return best, found
}

func (e *Evaluator) observe(d gatehouse.RateLimitDecision) {
	if e.metrics == nil {
		return
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	e.metrics.decisions.WithLabelValues(string(d.Scope), outcome).Inc()
}

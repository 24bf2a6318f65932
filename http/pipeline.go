// Package http assembles the request-processing pipeline: an ordered chain
// of interceptors wrapping each action — exception boundary, tenant
// resolution, rate limiting, authorization, idempotent replay, cache
// lookup, action execution and post-action cache maintenance. Interceptor
// order is fixed and total per request; each step either passes control
// forward or terminates the response.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
	"github.com/gatehouse-io/gatehouse/cache"
	icontext "github.com/gatehouse-io/gatehouse/context"
	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
	"github.com/gatehouse-io/gatehouse/ratelimit"
)

// Pipeline wraps actions with the per-route interceptors. The surrounding
// server applies the global ones (exception boundary, authentication,
// tenant resolution) before control reaches a wrapped action.
type Pipeline struct {
	logger      *zap.Logger
	api         *kithttp.API
	limiter     *ratelimit.Evaluator
	permissions gatehouse.PermissionService
	cache       *cache.Service
	idempotency gatehouse.IdempotencyService
}

// NewPipeline returns a pipeline over the given collaborators.
func NewPipeline(
	log *zap.Logger,
	limiter *ratelimit.Evaluator,
	permissions gatehouse.PermissionService,
	responseCache *cache.Service,
	idempotency gatehouse.IdempotencyService,
) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		logger:      log,
		api:         kithttp.NewAPI(log),
		limiter:     limiter,
		permissions: permissions,
		cache:       responseCache,
		idempotency: idempotency,
	}
}

// cachedResponse is the stored form of a cacheable action result.
type cachedResponse struct {
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

// Wrap builds the interceptor chain for one route.
func (p *Pipeline) Wrap(policy gatehouse.RoutePolicy, action http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !policy.RateLimitExempt && !p.checkRateLimit(w, r) {
			return
		}

		if policy.RequiredRule != "" && !p.authorize(w, r, policy) {
			return
		}

		var (
			idemKey  gatehouse.IdempotencyKey
			hasToken bool
		)
		if policy.IdempotencyEligible {
			if token := r.Header.Get(gatehouse.IdempotencyHeader); token != "" {
				idemKey = p.idempotencyKey(ctx, token)
				hasToken = true
				if p.replay(w, r, idemKey) {
					return
				}
			}
		}

		var cacheKey string
		if policy.Cacheable {
			cacheKey = p.cacheKey(r, policy)
			if p.serveCached(w, r, cacheKey) {
				return
			}
		}

		rec := newResponseRecorder(w)
		action.ServeHTTP(rec, r)

		if !rec.success() {
			return
		}

		// Post-action maintenance is advisory and should complete even if
		// the client has gone away mid-request.
		bg := context.WithoutCancel(ctx)

		if policy.Cacheable && rec.body.Len() > 0 {
			p.populate(bg, cacheKey, rec, policy.CacheTTL)
		}

		for _, pattern := range policy.InvalidatePatterns {
			p.cache.RemoveByPattern(bg, pattern)
		}

		if hasToken {
			p.idempotency.Record(bg, idemKey, gatehouse.IdempotencyRecord{
				StatusCode:  rec.code(),
				ContentType: rec.Header().Get("Content-Type"),
				Body:        append([]byte(nil), rec.body.Bytes()...),
			})
		}
	}
	return http.HandlerFunc(fn)
}

// checkRateLimit reports whether the request may proceed, terminating the
// response with 429 when a scope is violated.
func (p *Pipeline) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	decision, err := p.limiter.Evaluate(r)
	if err != nil {
		p.api.Err(w, r, err)
		return false
	}

	if decision.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	}

	if !decision.Allowed {
		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		p.api.Err(w, r, &errors.Error{
			Code: errors.ETooManyRequests,
			Msg:  fmt.Sprintf("rate limit exceeded for %s scope", decision.Scope),
		})
		return false
	}

	return true
}

// authorize reports whether the principal may invoke the route, terminating
// the response with 401 or 403 otherwise. Permission-store failures map to
// 500: authorization never fails open.
func (p *Pipeline) authorize(w http.ResponseWriter, r *http.Request, policy gatehouse.RoutePolicy) bool {
	principal, ok := icontext.GetPrincipal(r.Context())
	if !ok || !principal.Authenticated() {
		p.api.Err(w, r, &errors.Error{
			Code: errors.EUnauthorized,
			Msg:  "authentication required",
		})
		return false
	}

	allowed, err := p.permissions.HasPermission(r.Context(), principal.UserID, policy.RequiredRule, policy.RequiredLevel)
	if err != nil {
		p.api.Err(w, r, err)
		return false
	}
	if !allowed {
		p.api.Err(w, r, &errors.Error{
			Code: errors.EForbidden,
			Msg:  fmt.Sprintf("requires at least %s on %s", policy.RequiredLevel, policy.RequiredRule),
		})
		return false
	}

	return true
}

// idempotencyKey scopes the client token to the resolved tenant and
// authenticated user, so a token can never replay across either boundary.
func (p *Pipeline) idempotencyKey(ctx context.Context, token string) gatehouse.IdempotencyKey {
	key := gatehouse.IdempotencyKey{Token: token}
	if id, ok := icontext.GetTenant(ctx); ok {
		key.TenantID = id
	}
	if principal, ok := icontext.GetPrincipal(ctx); ok && principal.Authenticated() {
		key.UserID = principal.UserID
	}
	return key
}

// replay writes the previously recorded response for key, if one exists.
func (p *Pipeline) replay(w http.ResponseWriter, r *http.Request, key gatehouse.IdempotencyKey) bool {
	rec, err := p.idempotency.Lookup(r.Context(), key)
	if err != nil || rec == nil {
		return false
	}

	p.logger.Debug("replaying idempotent response",
		zap.String("path", r.URL.Path),
		zap.Int("status_code", rec.StatusCode),
	)

	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
	return true
}

// serveCached writes the cached response for key, if one exists.
func (p *Pipeline) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	raw, ok := p.cache.Get(r.Context(), key)
	if !ok {
		return false
	}

	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		p.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		p.cache.Remove(r.Context(), key)
		return false
	}

	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// populate stores a successful response under key.
func (p *Pipeline) populate(ctx context.Context, key string, rec *responseRecorder, ttl time.Duration) {
	cached := cachedResponse{
		StatusCode:  rec.code(),
		ContentType: rec.Header().Get("Content-Type"),
		Body:        append([]byte(nil), rec.body.Bytes()...),
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		p.logger.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	p.cache.Set(ctx, key, raw, ttl)
}

func (p *Pipeline) cacheKey(r *http.Request, policy gatehouse.RoutePolicy) string {
	in := cache.KeyInput{
		Controller: policy.Controller,
		Action:     policy.Action,
		Query:      r.URL.Query(),
	}

	if id, ok := icontext.GetTenant(r.Context()); ok {
		in.Tenant, in.HasTenant = id, true
	}
	if principal, ok := icontext.GetPrincipal(r.Context()); ok && principal.Authenticated() {
		in.User, in.HasUser = principal.UserID, true
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, name := range rctx.URLParams.Keys {
			if name == "*" {
				continue
			}
			in.RouteParams = append(in.RouteParams, cache.RouteParam{
				Name:  name,
				Value: rctx.URLParams.Values[i],
			})
		}
	}

	return cache.BuildKey(in, policy.CacheKey)
}

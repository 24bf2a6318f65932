package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gatehouse-io/gatehouse"
	"github.com/gatehouse-io/gatehouse/authorization"
	"github.com/gatehouse-io/gatehouse/cache"
	gatehousehttp "github.com/gatehouse-io/gatehouse/http"
	"github.com/gatehouse-io/gatehouse/idempotency"
	"github.com/gatehouse-io/gatehouse/jsonweb"
	"github.com/gatehouse-io/gatehouse/ratelimit"
	"github.com/gatehouse-io/gatehouse/tenant"
)

var testSigningKey = []byte("pipeline-test-key")

// testHarness wires the full pipeline over in-process stores.
type testHarness struct {
	server *gatehousehttp.Server
	grants *authorization.InmemGrantStore
	perms  gatehouse.PermissionService
	cache  *cache.InmemStore
}

func newTestHarness(t *testing.T, policies []gatehouse.RateLimitPolicy) *testHarness {
	t.Helper()
	log := zaptest.NewLogger(t)

	cacheStore := cache.NewInmemStore()
	grants := authorization.NewInmemGrantStore()
	perms := authorization.NewService(grants, cacheStore, log)

	limiter := ratelimit.NewLimiter(ratelimit.NewInmemCounterStore(), log)
	evaluator, err := ratelimit.NewEvaluator(limiter, policies, nil, log)
	require.NoError(t, err)

	pipeline := gatehousehttp.NewPipeline(
		log,
		evaluator,
		perms,
		cache.NewService(cacheStore, nil, log),
		idempotency.NewService(cacheStore, log),
	)

	parser := jsonweb.NewTokenParser(jsonweb.SingleKeyStore(testSigningKey))
	server := gatehousehttp.NewServer(log, pipeline, parser, tenant.NewResolver(log), nil, nil)

	return &testHarness{server: server, grants: grants, perms: perms, cache: cacheStore}
}

func (h *testHarness) grant(t *testing.T, userID uuid.UUID, rule string, level gatehouse.PermissionLevel) {
	t.Helper()
	require.NoError(t, h.grants.Assign(context.Background(), gatehouse.Grant{
		UserID: userID,
		Rule:   rule,
		Level:  level,
	}))
}

func signTestToken(t *testing.T, userID, tenantID uuid.UUID) string {
	t.Helper()
	claims := jsonweb.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	return signed
}

func authedRequest(t *testing.T, method, target string, userID, tenantID uuid.UUID, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	r := httptest.NewRequest(method, target, reader)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, userID, tenantID))
	return r
}

// countingHandler responds 200 with a per-invocation body.
type countingHandler struct {
	calls  atomic.Int64
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := h.calls.Add(1)
	status := h.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"invocation":%d}`, n)
}

func TestPipeline_Authorization(t *testing.T) {
	h := newTestHarness(t, nil)
	action := &countingHandler{}
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method: http.MethodGet,
		Path:   "/widgets",
		Policy: gatehouse.RoutePolicy{
			Controller:    "Widgets",
			Action:        "List",
			RequiredRule:  "Widgets",
			RequiredLevel: gatehouse.LevelView,
		},
		Handler: action,
	}))

	t.Run("anonymous request gets 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widgets", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, int64(0), action.calls.Load())
	})

	t.Run("forged token gets 401", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/widgets", nil)
		r.Header.Set("Authorization", "Bearer bogus.token.value")
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ungranted user gets 403", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/widgets", uuid.New(), uuid.New(), ""))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, int64(0), action.calls.Load())
	})

	t.Run("view grant admits the read", func(t *testing.T) {
		userID := uuid.New()
		h.grant(t, userID, "Widgets", gatehouse.LevelView)

		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/widgets", userID, uuid.New(), ""))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(1), action.calls.Load())
	})

	t.Run("admin grant admits without a matching rule", func(t *testing.T) {
		userID := uuid.New()
		h.grant(t, userID, gatehouse.AdminRule, gatehouse.LevelEdit)

		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/widgets", userID, uuid.New(), ""))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGrantRoutesRequireAdmin(t *testing.T) {
	h := newTestHarness(t, nil)
	handler := authorization.NewHTTPGrantHandler(zaptest.NewLogger(t), h.perms)
	require.NoError(t, h.server.Register(handler.Routes()...))

	tenantID := uuid.New()
	assignBody := func(userID uuid.UUID) string {
		return fmt.Sprintf(`{"userID":%q,"rule":"Admin","level":"edit"}`, userID)
	}

	t.Run("anonymous client cannot touch grants", func(t *testing.T) {
		attacker := uuid.New()
		r := httptest.NewRequest(http.MethodPut, "/api/v1/grants", strings.NewReader(assignBody(attacker)))
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		allowed, err := h.perms.HasPermission(context.Background(), attacker, "Widgets", gatehouse.LevelEdit)
		require.NoError(t, err)
		assert.False(t, allowed, "a rejected assignment must leave no grant behind")
	})

	t.Run("non-admin cannot grant themselves admin", func(t *testing.T) {
		attacker := uuid.New()
		r := authedRequest(t, http.MethodPut, "/api/v1/grants", attacker, tenantID, assignBody(attacker))
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, r)
		require.Equal(t, http.StatusForbidden, w.Code)

		allowed, err := h.perms.HasPermission(context.Background(), attacker, "Widgets", gatehouse.LevelEdit)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("admin can assign, list and remove grants", func(t *testing.T) {
		admin := uuid.New()
		h.grant(t, admin, gatehouse.AdminRule, gatehouse.LevelEdit)
		subject := uuid.New()

		body := fmt.Sprintf(`{"userID":%q,"rule":"Widgets","level":"view"}`, subject)
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodPut, "/api/v1/grants", admin, tenantID, body))
		require.Equal(t, http.StatusOK, w.Code)

		allowed, err := h.perms.HasPermission(context.Background(), subject, "Widgets", gatehouse.LevelView)
		require.NoError(t, err)
		assert.True(t, allowed)

		w = httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/v1/grants/"+subject.String(), admin, tenantID, ""))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodDelete, "/api/v1/grants/"+subject.String()+"/Widgets", admin, tenantID, ""))
		require.Equal(t, http.StatusNoContent, w.Code)

		allowed, err = h.perms.HasPermission(context.Background(), subject, "Widgets", gatehouse.LevelView)
		require.NoError(t, err)
		assert.False(t, allowed)
	})
}

func TestPipeline_ForbiddenSkipsSideEffects(t *testing.T) {
	h := newTestHarness(t, nil)
	action := &countingHandler{status: http.StatusCreated}
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method: http.MethodPost,
		Path:   "/widgets",
		Policy: gatehouse.RoutePolicy{
			Controller:         "Widgets",
			Action:             "Create",
			RequiredRule:       "Widgets",
			RequiredLevel:      gatehouse.LevelEdit,
			InvalidatePatterns: []string{"action:Widgets:*"},
		},
		Handler: action,
	}))

	// Seed a cached family entry that a successful mutation would clear.
	require.NoError(t, h.cache.Set(context.Background(), "action:Widgets:List", []byte("cached"), time.Minute))

	userID := uuid.New()
	h.grant(t, userID, "Widgets", gatehouse.LevelView) // view only

	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, authedRequest(t, http.MethodPost, "/widgets", userID, uuid.New(), "{}"))
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, int64(0), action.calls.Load(), "denied request must not run the action")

	_, ok, err := h.cache.Get(context.Background(), "action:Widgets:List")
	require.NoError(t, err)
	assert.True(t, ok, "denied request must not invalidate the cached family")
}

func TestPipeline_ResponseCache(t *testing.T) {
	h := newTestHarness(t, nil)
	action := &countingHandler{}
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method: http.MethodGet,
		Path:   "/widgets",
		Policy: gatehouse.RoutePolicy{
			Controller:    "Widgets",
			Action:        "List",
			RequiredRule:  "Widgets",
			RequiredLevel: gatehouse.LevelView,
			Cacheable:     true,
			CacheKey:      gatehouse.DefaultCacheKeyOptions(),
		},
		Handler: action,
	}))

	userID := uuid.New()
	h.grant(t, userID, "Widgets", gatehouse.LevelView)
	tenantA := uuid.New()

	t.Run("second identical request is served from cache", func(t *testing.T) {
		first := httptest.NewRecorder()
		h.server.ServeHTTP(first, authedRequest(t, http.MethodGet, "/widgets", userID, tenantA, ""))
		require.Equal(t, http.StatusOK, first.Code)

		second := httptest.NewRecorder()
		h.server.ServeHTTP(second, authedRequest(t, http.MethodGet, "/widgets", userID, tenantA, ""))
		require.Equal(t, http.StatusOK, second.Code)

		assert.Equal(t, int64(1), action.calls.Load(), "cached hit must not re-run the action")
		assert.Equal(t, first.Body.String(), second.Body.String())
		assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))
	})

	t.Run("another tenant misses the first tenant's entry", func(t *testing.T) {
		before := action.calls.Load()

		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/widgets", userID, uuid.New(), ""))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before+1, action.calls.Load())
	})
}

func TestPipeline_MutationInvalidatesCache(t *testing.T) {
	h := newTestHarness(t, nil)
	list := &countingHandler{}
	create := &countingHandler{status: http.StatusCreated}

	require.NoError(t, h.server.Register(
		gatehousehttp.Route{
			Method: http.MethodGet,
			Path:   "/widgets",
			Policy: gatehouse.RoutePolicy{
				Controller:    "Widgets",
				Action:        "List",
				RequiredRule:  "Widgets",
				RequiredLevel: gatehouse.LevelView,
				Cacheable:     true,
				CacheKey:      gatehouse.DefaultCacheKeyOptions(),
			},
			Handler: list,
		},
		gatehousehttp.Route{
			Method: http.MethodPost,
			Path:   "/widgets",
			Policy: gatehouse.RoutePolicy{
				Controller:         "Widgets",
				Action:             "Create",
				RequiredRule:       "Widgets",
				RequiredLevel:      gatehouse.LevelEdit,
				InvalidatePatterns: []string{"action:Widgets:*"},
			},
			Handler: create,
		},
	))

	userID := uuid.New()
	h.grant(t, userID, "Widgets", gatehouse.LevelEdit)
	tenantID := uuid.New()

	// Prime the cache.
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/widgets", userID, tenantID, ""))
		require.Equal(t, http.StatusOK, w.Code)
	}
	require.Equal(t, int64(1), list.calls.Load())

	// Mutate, which clears the family.
	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, authedRequest(t, http.MethodPost, "/widgets", userID, tenantID, "{}"))
	require.Equal(t, http.StatusCreated, w.Code)

	// The next read recomputes.
	w = httptest.NewRecorder()
	h.server.ServeHTTP(w, authedRequest(t, http.MethodGet, "/widgets", userID, tenantID, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), list.calls.Load())
}

func TestPipeline_IdempotentReplay(t *testing.T) {
	h := newTestHarness(t, nil)
	create := &countingHandler{status: http.StatusCreated}
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method: http.MethodPost,
		Path:   "/widgets",
		Policy: gatehouse.RoutePolicy{
			Controller:          "Widgets",
			Action:              "Create",
			RequiredRule:        "Widgets",
			RequiredLevel:       gatehouse.LevelEdit,
			IdempotencyEligible: true,
		},
		Handler: create,
	}))

	userID := uuid.New()
	h.grant(t, userID, "Widgets", gatehouse.LevelEdit)
	tenantID := uuid.New()

	post := func(token string) *httptest.ResponseRecorder {
		r := authedRequest(t, http.MethodPost, "/widgets", userID, tenantID, "{}")
		if token != "" {
			r.Header.Set(gatehouse.IdempotencyHeader, token)
		}
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, r)
		return w
	}

	first := post("tok-1")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get("Idempotent-Replay"))

	replay := post("tok-1")
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replay"))
	assert.Equal(t, first.Body.String(), replay.Body.String(), "replay must be byte-identical")
	assert.Equal(t, int64(1), create.calls.Load(), "the action runs at most once per token")

	// A different token executes the action again.
	fresh := post("tok-2")
	require.Equal(t, http.StatusCreated, fresh.Code)
	assert.Equal(t, int64(2), create.calls.Load())

	// No token means no replay machinery at all.
	plain := post("")
	require.Equal(t, http.StatusCreated, plain.Code)
	assert.Equal(t, int64(3), create.calls.Load())
}

func TestPipeline_IdempotencyScopedToCaller(t *testing.T) {
	h := newTestHarness(t, nil)
	create := &countingHandler{status: http.StatusCreated}
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method: http.MethodPost,
		Path:   "/widgets",
		Policy: gatehouse.RoutePolicy{
			Controller:          "Widgets",
			Action:              "Create",
			RequiredRule:        "Widgets",
			RequiredLevel:       gatehouse.LevelEdit,
			IdempotencyEligible: true,
		},
		Handler: create,
	}))

	post := func(userID, tenantID uuid.UUID, token string) *httptest.ResponseRecorder {
		r := authedRequest(t, http.MethodPost, "/widgets", userID, tenantID, "{}")
		r.Header.Set(gatehouse.IdempotencyHeader, token)
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, r)
		return w
	}

	userA, tenantA := uuid.New(), uuid.New()
	userB, tenantB := uuid.New(), uuid.New()
	h.grant(t, userA, "Widgets", gatehouse.LevelEdit)
	h.grant(t, userB, "Widgets", gatehouse.LevelEdit)

	first := post(userA, tenantA, "shared-token")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, int64(1), create.calls.Load())

	t.Run("another tenant's token never replays the first tenant's response", func(t *testing.T) {
		w := post(userB, tenantB, "shared-token")
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get("Idempotent-Replay"))
		assert.NotEqual(t, first.Body.String(), w.Body.String())
		assert.Equal(t, int64(2), create.calls.Load(), "the action must run fresh for the other tenant")
	})

	t.Run("another user in the same tenant executes fresh", func(t *testing.T) {
		before := create.calls.Load()
		w := post(userB, tenantA, "shared-token")
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Empty(t, w.Header().Get("Idempotent-Replay"))
		assert.Equal(t, before+1, create.calls.Load())
	})

	t.Run("the original caller still replays", func(t *testing.T) {
		before := create.calls.Load()
		w := post(userA, tenantA, "shared-token")
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "true", w.Header().Get("Idempotent-Replay"))
		assert.Equal(t, first.Body.String(), w.Body.String())
		assert.Equal(t, before, create.calls.Load())
	})
}

func TestPipeline_RateLimit(t *testing.T) {
	h := newTestHarness(t, []gatehouse.RateLimitPolicy{
		{Scope: gatehouse.ScopeTenant, Limit: 2, Window: time.Minute, Enabled: true},
	})
	action := &countingHandler{}
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method:  http.MethodGet,
		Path:    "/widgets",
		Policy:  gatehouse.RoutePolicy{Controller: "Widgets", Action: "List"},
		Handler: action,
	}))
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method:  http.MethodGet,
		Path:    "/exempt",
		Policy:  gatehouse.RoutePolicy{Controller: "Widgets", Action: "Status", RateLimitExempt: true},
		Handler: &countingHandler{},
	}))

	tenantID := uuid.New()
	get := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set(tenant.Header, tenantID.String())
		w := httptest.NewRecorder()
		h.server.ServeHTTP(w, r)
		return w
	}

	w := get("/widgets")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = get("/widgets")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get("/widgets")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, int64(2), action.calls.Load())

	// Exempt routes bypass enforcement even with the budget exhausted.
	w = get("/exempt")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipeline_PanicRecovery(t *testing.T) {
	h := newTestHarness(t, nil)
	require.NoError(t, h.server.Register(gatehousehttp.Route{
		Method: http.MethodGet,
		Path:   "/boom",
		Policy: gatehouse.RoutePolicy{Controller: "Widgets", Action: "Boom"},
		Handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("unexpected")
		}),
	}))

	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
	assert.NotContains(t, w.Body.String(), "unexpected", "panic details must not leak to the client")
}

func TestPipeline_InvalidPolicyRejectedAtRegistration(t *testing.T) {
	h := newTestHarness(t, nil)

	err := h.server.Register(gatehousehttp.Route{
		Method: http.MethodGet,
		Path:   "/widgets",
		Policy: gatehouse.RoutePolicy{
			Controller:         "Widgets",
			Action:             "List",
			Cacheable:          true,
			CacheKey:           gatehouse.DefaultCacheKeyOptions(),
			InvalidatePatterns: []string{"action:Widgets:*"},
		},
		Handler: &countingHandler{},
	})
	assert.Error(t, err, "a route cannot both cache and invalidate")
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		handler := gatehousehttp.NewHealthHandler(map[string]gatehousehttp.HealthCheck{
			"redis": func(context.Context) error { return nil },
		})

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "pass", body.Status)
	})

	t.Run("failing dependency reports 503", func(t *testing.T) {
		handler := gatehousehttp.NewHealthHandler(map[string]gatehousehttp.HealthCheck{
			"postgres": func(context.Context) error { return fmt.Errorf("dial refused") },
		})

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

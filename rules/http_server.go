package rules

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
	icontext "github.com/gatehouse-io/gatehouse/context"
	gatehousehttp "github.com/gatehouse-io/gatehouse/http"
	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
)

// RuleName is the permission rule guarding this resource.
const RuleName = "Rules"

// invalidateFamily clears every cached Rules response after a mutation.
const invalidateFamily = "action:Rules:*"

// RuleHandler serves the rules resource through the pipeline.
type RuleHandler struct {
	api         *kithttp.API
	logger      *zap.Logger
	ruleService *Service
}

// NewHTTPRuleHandler constructs a handler for the rules API.
func NewHTTPRuleHandler(log *zap.Logger, s *Service) *RuleHandler {
	return &RuleHandler{
		api:         kithttp.NewAPI(log),
		logger:      log,
		ruleService: s,
	}
}

// Routes declares the resource's routes with their pipeline policies.
func (h *RuleHandler) Routes() []gatehousehttp.Route {
	return []gatehousehttp.Route{
		{
			Method: http.MethodGet,
			Path:   "/api/v1/rules",
			Policy: gatehouse.RoutePolicy{
				Controller:    "Rules",
				Action:        "List",
				RequiredRule:  RuleName,
				RequiredLevel: gatehouse.LevelView,
				Cacheable:     true,
				CacheKey: gatehouse.CacheKeyOptions{
					VaryByTenant: true,
					QueryParams:  []string{"name"},
				},
			},
			Handler: http.HandlerFunc(h.handleList),
		},
		{
			Method: http.MethodGet,
			Path:   "/api/v1/rules/{id}",
			Policy: gatehouse.RoutePolicy{
				Controller:    "Rules",
				Action:        "Get",
				RequiredRule:  RuleName,
				RequiredLevel: gatehouse.LevelView,
				Cacheable:     true,
				CacheKey:      gatehouse.DefaultCacheKeyOptions(),
			},
			Handler: http.HandlerFunc(h.handleGet),
		},
		{
			Method: http.MethodPost,
			Path:   "/api/v1/rules",
			Policy: gatehouse.RoutePolicy{
				Controller:          "Rules",
				Action:              "Create",
				RequiredRule:        RuleName,
				RequiredLevel:       gatehouse.LevelEdit,
				InvalidatePatterns:  []string{invalidateFamily},
				IdempotencyEligible: true,
			},
			Handler: http.HandlerFunc(h.handleCreate),
		},
		{
			Method: http.MethodDelete,
			Path:   "/api/v1/rules/{id}",
			Policy: gatehouse.RoutePolicy{
				Controller:         "Rules",
				Action:             "Delete",
				RequiredRule:       RuleName,
				RequiredLevel:      gatehouse.LevelEdit,
				InvalidatePatterns: []string{invalidateFamily},
			},
			Handler: http.HandlerFunc(h.handleDelete),
		},
	}
}

// requireTenant returns the resolved tenant or terminates with 401; every
// operation here is tenant-scoped.
func (h *RuleHandler) requireTenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := icontext.GetTenant(r.Context())
	if !ok {
		h.api.Err(w, r, &errors.Error{
			Code: errors.EUnauthorized,
			Msg:  "a tenant is required",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (h *RuleHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	rules, err := h.ruleService.List(r.Context(), tenantID, r.URL.Query().Get("name"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	if rules == nil {
		rules = []Rule{}
	}

	h.api.Respond(w, r, http.StatusOK, rules)
}

func (h *RuleHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid rule id", Err: err})
		return
	}

	rule, err := h.ruleService.Find(r.Context(), tenantID, id)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}

	h.api.Respond(w, r, http.StatusOK, rule)
}

type createRuleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *RuleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid rule body", Err: err})
		return
	}

	rule, err := h.ruleService.Create(r.Context(), tenantID, req.Name, req.Description)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}

	h.api.Respond(w, r, http.StatusCreated, rule)
}

func (h *RuleHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid rule id", Err: err})
		return
	}

	if err := h.ruleService.Delete(r.Context(), tenantID, id); err != nil {
		h.api.Err(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

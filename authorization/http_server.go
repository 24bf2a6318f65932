package authorization

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
	gatehousehttp "github.com/gatehouse-io/gatehouse/http"
	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
)

// GrantHandler exposes grant management over HTTP. Every route runs through
// the pipeline behind the Admin super-grant, so only an existing admin can
// read or change who holds what. Mutations invalidate the permission cache
// synchronously inside the service before responding.
type GrantHandler struct {
	api               *kithttp.API
	logger            *zap.Logger
	permissionService gatehouse.PermissionService
}

// NewHTTPGrantHandler constructs a handler for the grants API.
func NewHTTPGrantHandler(log *zap.Logger, s gatehouse.PermissionService) *GrantHandler {
	return &GrantHandler{
		api:               kithttp.NewAPI(log),
		logger:            log,
		permissionService: s,
	}
}

// Routes declares the grant routes with their pipeline policies.
func (h *GrantHandler) Routes() []gatehousehttp.Route {
	return []gatehousehttp.Route{
		{
			Method: http.MethodPut,
			Path:   "/api/v1/grants",
			Policy: gatehouse.RoutePolicy{
				Controller:    "Grants",
				Action:        "Assign",
				RequiredRule:  gatehouse.AdminRule,
				RequiredLevel: gatehouse.LevelEdit,
			},
			Handler: http.HandlerFunc(h.handleAssignGrant),
		},
		{
			Method: http.MethodGet,
			Path:   "/api/v1/grants/{userID}",
			Policy: gatehouse.RoutePolicy{
				Controller:    "Grants",
				Action:        "List",
				RequiredRule:  gatehouse.AdminRule,
				RequiredLevel: gatehouse.LevelView,
			},
			Handler: http.HandlerFunc(h.handleListGrants),
		},
		{
			Method: http.MethodDelete,
			Path:   "/api/v1/grants/{userID}/{rule}",
			Policy: gatehouse.RoutePolicy{
				Controller:    "Grants",
				Action:        "Remove",
				RequiredRule:  gatehouse.AdminRule,
				RequiredLevel: gatehouse.LevelEdit,
			},
			Handler: http.HandlerFunc(h.handleRemoveGrant),
		},
	}
}

type assignGrantRequest struct {
	UserID string `json:"userID"`
	Rule   string `json:"rule"`
	Level  string `json:"level"`
}

func (h *GrantHandler) handleAssignGrant(w http.ResponseWriter, r *http.Request) {
	var req assignGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.api.Err(w, r, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "invalid grant body",
			Err:  err,
		})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid user id", Err: err})
		return
	}
	level, err := gatehouse.ParsePermissionLevel(req.Level)
	if err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid permission level", Err: err})
		return
	}

	g := gatehouse.Grant{UserID: userID, Rule: req.Rule, Level: level}
	if err := h.permissionService.AssignGrant(r.Context(), g); err != nil {
		h.api.Err(w, r, err)
		return
	}

	h.api.Respond(w, r, http.StatusOK, g)
}

func (h *GrantHandler) handleListGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid user id", Err: err})
		return
	}

	grants, err := h.permissionService.UserGrants(r.Context(), userID)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}

	h.api.Respond(w, r, http.StatusOK, grants)
}

func (h *GrantHandler) handleRemoveGrant(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.api.Err(w, r, &errors.Error{Code: errors.EInvalid, Msg: "invalid user id", Err: err})
		return
	}
	rule := chi.URLParam(r, "rule")

	if err := h.permissionService.RemoveGrant(r.Context(), userID, rule); err != nil {
		h.api.Err(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package http

import (
	"context"
	"net/http"
	"time"

	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports backing-store reachability. A degraded dependency
// turns the overall status unhealthy but the handler still responds, so
// orchestrators can distinguish a dead process from a degraded one.
type HealthHandler struct {
	api    *kithttp.API
	checks map[string]HealthCheck
}

// NewHealthHandler returns a handler probing the named checks.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		api:    kithttp.NewAPI(nil),
		checks: checks,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}{
		Status: "pass",
		Checks: make(map[string]string, len(h.checks)),
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			body.Status = "fail"
			body.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		body.Checks[name] = "pass"
	}

	h.api.Respond(w, r, status, body)
}

package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// API is a tiny helper for encoding JSON responses and platform errors.
type API struct {
	logger       *zap.Logger
	errorHandler ErrorHandler
}

// NewAPI creates an API. A nil logger defaults to a no-op logger.
func NewAPI(log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{logger: log}
}

// Respond writes the JSON encoding of v with the given status code.
func (a *API) Respond(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response body",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

// Err writes the platform error to the response.
func (a *API) Err(w http.ResponseWriter, r *http.Request, err error) {
	a.errorHandler.HandleHTTPError(r.Context(), err, w)
}

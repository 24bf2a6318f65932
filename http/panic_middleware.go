package http

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	icontext "github.com/gatehouse-io/gatehouse/context"
	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
)

// PanicMW is the outermost exception boundary. Unhandled panics anywhere in
// the chain are logged with full request context and mapped to a generic
// 500 whose message leaks nothing.
func PanicMW(log *zap.Logger) kithttp.Middleware {
	api := kithttp.NewAPI(log)
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				panicErr := recover()
				if panicErr == nil {
					return
				}

				traceID := uuid.NewString()
				userID := ""
				if principal, ok := icontext.GetPrincipal(r.Context()); ok {
					userID = principal.UserID.String()
				}

				log.Error("panic while handling request",
					zap.Any("panic", panicErr),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("trace_id", traceID),
					zap.String("user_id", userID),
					zap.Stack("stack"),
				)

				w.Header().Set("X-Trace-Id", traceID)
				api.Err(w, r, &errors.Error{
					Code: errors.EInternal,
					Msg:  "an internal error has occurred",
				})
			}()

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

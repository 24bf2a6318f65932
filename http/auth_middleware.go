package http

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	icontext "github.com/gatehouse-io/gatehouse/context"
	"github.com/gatehouse-io/gatehouse/jsonweb"
	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
)

// AuthenticationMW parses a bearer token into the request principal.
// Requests without a token continue anonymously; a token that fails to
// verify is rejected so a forged principal can never reach the pipeline.
func AuthenticationMW(parser *jsonweb.TokenParser, log *zap.Logger) kithttp.Middleware {
	api := kithttp.NewAPI(log)
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == header {
				api.Err(w, r, &errors.Error{
					Code: errors.EUnauthorized,
					Msg:  "unsupported authorization scheme",
				})
				return
			}

			claims, err := parser.Parse(raw)
			if err != nil {
				api.Err(w, r, &errors.Error{
					Code: errors.EUnauthorized,
					Msg:  "invalid token",
					Err:  err,
				})
				return
			}

			ctx := icontext.SetPrincipal(r.Context(), claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

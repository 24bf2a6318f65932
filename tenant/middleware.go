package tenant

import (
	"net/http"

	"go.uber.org/zap"

	icontext "github.com/gatehouse-io/gatehouse/context"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
)

// Middleware resolves the request tenant once and makes it available to
// every downstream interceptor via context. The tenant is immutable for
// the rest of the request.
func Middleware(resolver *Resolver, log *zap.Logger) kithttp.Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id, ok := resolver.Resolve(ctx, r); ok {
				log.Debug("tenant resolved", zap.String("tenant_id", id.String()))
				ctx = icontext.SetTenant(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

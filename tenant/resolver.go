// Package tenant resolves the tenant of each inbound request.
package tenant

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	icontext "github.com/gatehouse-io/gatehouse/context"
)

// Header identifies the tenant on requests without an authenticated
// principal carrying a tenant claim.
const Header = "X-Tenant-ID"

// Resolver resolves the tenant for a request. Resolution order: explicit
// in-request override, tenant claim on the principal, tenant header. An
// unresolved tenant is not an error; anonymous endpoints run without one.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver returns a tenant resolver.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{logger: log}
}

// Resolve returns the tenant for the request, and false when none applies.
func (s *Resolver) Resolve(ctx context.Context, r *http.Request) (uuid.UUID, bool) {
	if id, ok := icontext.TenantOverride(ctx); ok {
		return id, true
	}

	if p, ok := icontext.GetPrincipal(ctx); ok && p.TenantID != uuid.Nil {
		return p.TenantID, true
	}

	if raw := r.Header.Get(Header); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Debug("ignoring malformed tenant header", zap.String("value", raw))
			return uuid.Nil, false
		}
		return id, true
	}

	return uuid.Nil, false
}

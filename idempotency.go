package gatehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotencyHeader is the request header carrying the client token.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyTTL is the replay window for recorded responses.
const IdempotencyTTL = 60 * time.Minute

// IdempotencyKey scopes a client token to the tenant and user that
// presented it. Records are never shared across that boundary: a token
// leaked from one tenant can never replay another tenant's response.
type IdempotencyKey struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Token    string
}

// IdempotencyRecord is a previously produced successful response, replayed
// verbatim when the same token is presented again within the window.
// Records are only ever created for 2xx outcomes.
type IdempotencyRecord struct {
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	StoredAt    time.Time `json:"storedAt"`
}

// IdempotencyService records and replays successful responses by key.
type IdempotencyService interface {
	// Lookup returns the record for key, or nil when none exists.
	Lookup(ctx context.Context, key IdempotencyKey) (*IdempotencyRecord, error)

	// Record stores the response for key. Best-effort: failures are
	// logged by the implementation and must not fail the request.
	Record(ctx context.Context, key IdempotencyKey, rec IdempotencyRecord)
}

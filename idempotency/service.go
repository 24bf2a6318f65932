// Package idempotency replays previously produced successful responses for
// retried mutating requests carrying the same client token.
package idempotency

import (
	"context"
	"encoding/json"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
)

// Service stores response records in the cache store under the client
// token, scoped by the tenant and user that presented it. Persistence is
// best-effort: a failed lookup means the action runs again, a failed
// record write is logged and dropped. Neither may fail the request.
type Service struct {
	store  gatehouse.CacheStore
	clock  clock.Clock
	logger *zap.Logger
}

var _ gatehouse.IdempotencyService = (*Service)(nil)

// NewService returns an idempotency service over store.
func NewService(store gatehouse.CacheStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:  store,
		clock:  clock.New(),
		logger: log,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// recordKey folds the tenant and user into the storage key so a token only
// ever replays within the context that created the record.
func recordKey(key gatehouse.IdempotencyKey) string {
	return "idem:" + key.TenantID.String() + ":" + key.UserID.String() + ":" + key.Token
}

// Lookup returns the recorded response for key, or nil when none exists
// or the store is unavailable.
func (s *Service) Lookup(ctx context.Context, key gatehouse.IdempotencyKey) (*gatehouse.IdempotencyRecord, error) {
	raw, ok, err := s.store.Get(ctx, recordKey(key))
	if err != nil {
		s.logger.Warn("idempotency lookup failed", zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	var rec gatehouse.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("discarding corrupt idempotency record", zap.String("token", key.Token), zap.Error(err))
		return nil, nil
	}
	return &rec, nil
}

// Record stores the response for key. Records are only created for 2xx
// outcomes; anything else is ignored.
func (s *Service) Record(ctx context.Context, key gatehouse.IdempotencyKey, rec gatehouse.IdempotencyRecord) {
	if rec.StatusCode < 200 || rec.StatusCode > 299 {
		return
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = s.clock.Now()
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("failed to encode idempotency record", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, recordKey(key), raw, gatehouse.IdempotencyTTL); err != nil {
		s.logger.Warn("failed to persist idempotency record", zap.String("token", key.Token), zap.Error(err))
	}
}

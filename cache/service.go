package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
)

// Service wraps a CacheStore with advisory semantics: a failed read is a
// miss, a failed write is logged and swallowed. Caching is a performance
// optimization, never a correctness dependency, so no store failure is
// allowed to fail the request.
type Service struct {
	store   gatehouse.CacheStore
	logger  *zap.Logger
	metrics *Metrics
}

// NewService returns an advisory cache service over store.
func NewService(store gatehouse.CacheStore, metrics *Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		logger:  log,
		metrics: metrics,
	}
}

// Get returns the cached value for key, treating store errors as misses.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		s.observe("error")
		return nil, false
	}
	if ok {
		s.logger.Debug("cache hit", zap.String("key", key))
		s.observe("hit")
	} else {
		s.logger.Debug("cache miss", zap.String("key", key))
		s.observe("miss")
	}
	return value, ok
}

// Set stores value under key for ttl, logging and swallowing failures.
// A non-positive ttl falls back to the default cache TTL.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gatehouse.DefaultCacheTTL
	}
	if err := s.store.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes key, logging and swallowing failures.
func (s *Service) Remove(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("cache remove failed", zap.String("key", key), zap.Error(err))
	}
}

// RemoveByPattern deletes every key matching the glob pattern, logging and
// swallowing failures.
func (s *Service) RemoveByPattern(ctx context.Context, pattern string) {
	n, err := s.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	s.logger.Debug("cache invalidated", zap.String("pattern", pattern), zap.Int64("removed", n))
}

// Exists reports whether key is present; store errors report false.
func (s *Service) Exists(ctx context.Context, key string) bool {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		s.logger.Warn("cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// GetOrSet returns the cached value for key, invoking factory and caching
// its result on a miss. Factory errors propagate; they are the caller's,
// not the cache's.
func (s *Service) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := s.Get(ctx, key); ok {
		return value, nil
	}

	value, err := factory(ctx)
	if err != nil {
		return nil, err
	}

	s.Set(ctx, key, value, ttl)
	return value, nil
}

// Increment adds delta to the counter at key. Store errors return zero and
// are logged; callers needing strict counting must not use the cache.
func (s *Service) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) int64 {
	n, err := s.store.Increment(ctx, key, delta, ttl)
	if err != nil {
		s.logger.Warn("cache increment failed", zap.String("key", key), zap.Error(err))
		return 0
	}
	return n
}

func (s *Service) observe(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.lookups.WithLabelValues(result).Inc()
}

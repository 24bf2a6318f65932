package gatehouse

import (
	"context"
	"time"
)

// DefaultCacheTTL applies when a cacheable route does not configure its own.
const DefaultCacheTTL = 5 * time.Minute

// CacheStore is a key-value store with TTL and glob-pattern deletion.
// Implementations must be safe for concurrent use. All errors are
// infrastructure errors; advisory semantics (treat a failed read as a miss,
// log and swallow a failed write) are layered on top by cache.Service.
type CacheStore interface {
	// Get returns the value for key. The boolean is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A non-positive ttl stores the
	// value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes every key matching the glob pattern
	// (e.g. "action:Users:*") and returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically adds delta to the integer value at key,
	// initializing it to delta when absent, and refreshes the ttl.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// CacheKeyOptions enumerates the variance dimensions of a cached action.
// Dimensions whose value is absent on a given request (for example an
// anonymous user with VaryByUser set) are omitted from the key entirely
// rather than encoded as a placeholder.
type CacheKeyOptions struct {
	VaryByTenant bool
	VaryByUser   bool
	// QueryParams names the query parameters the key varies by, in the
	// order their values are appended to the key.
	QueryParams []string
}

// DefaultCacheKeyOptions vary by tenant only.
func DefaultCacheKeyOptions() CacheKeyOptions {
	return CacheKeyOptions{VaryByTenant: true}
}

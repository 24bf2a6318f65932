package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gobwas/glob"

	"github.com/gatehouse-io/gatehouse"
)

// inmemSweepInterval bounds how often a write triggers a full scan for
// expired entries.
const inmemSweepInterval = time.Minute

// InmemStore is a process-local CacheStore with TTL expiry and glob
// pattern deletion, matching redis MATCH semantics via gobwas/glob.
// It backs tests and single-node deployments without redis. Expired
// entries are dropped on read and swept periodically on write, so the
// map does not grow without bound under churning keys.
type InmemStore struct {
	mu        sync.Mutex
	entries   map[string]inmemEntry
	clock     clock.Clock
	nextSweep time.Time
}

type inmemEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

var _ gatehouse.CacheStore = (*InmemStore)(nil)

// NewInmemStore returns an empty in-memory cache store.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		entries: make(map[string]inmemEntry),
		clock:   clock.New(),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *InmemStore) WithClock(c clock.Clock) *InmemStore {
	s.clock = c
	return s
}

func (e inmemEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || e.expiresAt.After(now)
}

// sweep drops every expired entry. Callers must hold mu.
func (s *InmemStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(inmemSweepInterval)
	for key, e := range s.entries {
		if !e.live(now) {
			delete(s.entries, key)
		}
	}
}

func (s *InmemStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.live(s.clock.Now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *InmemStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.clock.Now()
	e := inmemEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.sweep(now)
	s.mu.Unlock()
	return nil
}

func (s *InmemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *InmemStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var removed int64
	for key, e := range s.entries {
		if g.Match(key) {
			delete(s.entries, key)
			if e.live(now) {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *InmemStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !e.live(s.clock.Now()) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *InmemStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var current int64
	if e, ok := s.entries[key]; ok {
		if !e.live(now) {
			delete(s.entries, key)
		} else {
			n, err := strconv.ParseInt(string(e.value), 10, 64)
			if err != nil {
				return 0, err
			}
			current = n
		}
	}

	current += delta
	e := inmemEntry{value: []byte(strconv.FormatInt(current, 10))}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return current, nil
}

// Len reports the number of resident entries, expired or not, for tests.
func (s *InmemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

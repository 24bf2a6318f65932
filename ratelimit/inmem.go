package ratelimit

import (
	"context"
	"sync"
	"time"
)

// inmemSweepInterval bounds how often a Slide triggers a full scan for
// idle keys.
const inmemSweepInterval = time.Minute

// InmemCounterStore is a process-local counter store. It backs tests and
// single-node deployments without redis; counters are not shared across
// processes. Keys that have gone idle past their window are swept
// periodically, so one-off clients do not accumulate forever.
type InmemCounterStore struct {
	mu        sync.Mutex
	counters  map[string]*slidingLog
	nextSweep time.Time
}

type slidingLog struct {
	entries   []time.Time
	expiresAt time.Time // when the newest entry ages out of its window
}

var _ CounterStore = (*InmemCounterStore)(nil)

// NewInmemCounterStore returns an empty in-memory counter store.
func NewInmemCounterStore() *InmemCounterStore {
	return &InmemCounterStore{
		counters: make(map[string]*slidingLog),
	}
}

// sweep drops keys whose every entry has aged out. Callers must hold mu.
func (s *InmemCounterStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(inmemSweepInterval)
	for key, log := range s.counters {
		if !log.expiresAt.After(now) {
			delete(s.counters, key)
		}
	}
}

func (s *InmemCounterStore) Slide(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)

	log := s.counters[key]
	if log == nil {
		log = &slidingLog{}
		s.counters[key] = log
	}

	// Lazily purge entries that have aged out of the window.
	min := now.Add(-window)
	kept := log.entries[:0]
	for _, at := range log.entries {
		if !at.Before(min) {
			kept = append(kept, at)
		}
	}
	log.entries = append(kept, now)
	log.expiresAt = now.Add(window)

	return int64(len(log.entries)), log.entries[0], nil
}

// Len reports the live entry count for key, for tests.
func (s *InmemCounterStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log := s.counters[key]; log != nil {
		return len(log.entries)
	}
	return 0
}

// Keys reports the number of resident counter keys, for tests.
func (s *InmemCounterStore) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

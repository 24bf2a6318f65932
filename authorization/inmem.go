package authorization

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse"
)

// InmemGrantStore is a process-local grant store for tests and
// single-node deployments without postgres.
type InmemGrantStore struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]map[string]gatehouse.PermissionLevel
}

var _ gatehouse.GrantStore = (*InmemGrantStore)(nil)

// NewInmemGrantStore returns an empty in-memory grant store.
func NewInmemGrantStore() *InmemGrantStore {
	return &InmemGrantStore{
		grants: make(map[uuid.UUID]map[string]gatehouse.PermissionLevel),
	}
}

func (s *InmemGrantStore) Level(ctx context.Context, userID uuid.UUID, rule string) (gatehouse.PermissionLevel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.grants[userID][rule]
	return level, ok, nil
}

func (s *InmemGrantStore) Grants(ctx context.Context, userID uuid.UUID) ([]gatehouse.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []gatehouse.Grant
	for rule, level := range s.grants[userID] {
		grants = append(grants, gatehouse.Grant{UserID: userID, Rule: rule, Level: level})
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Rule < grants[j].Rule })
	return grants, nil
}

func (s *InmemGrantStore) Assign(ctx context.Context, g gatehouse.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[g.UserID] == nil {
		s.grants[g.UserID] = make(map[string]gatehouse.PermissionLevel)
	}
	s.grants[g.UserID][g.Rule] = g.Level
	return nil
}

func (s *InmemGrantStore) Remove(ctx context.Context, userID uuid.UUID, rule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[userID], rule)
	return nil
}

// Package rules is a tenant-scoped resource served through the pipeline:
// reads are cached per tenant, mutations are permission-guarded, invalidate
// the cached family and honor idempotency tokens.
package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/kit/platform/errors"
)

// Rule is a named rule owned by exactly one tenant. TenantID is set at
// creation and never reassigned.
type Rule struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenantID"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Service keeps rules in memory, scoped by tenant.
type Service struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]map[uuid.UUID]Rule // tenant -> rule id -> rule
}

// NewService returns an empty rule service.
func NewService() *Service {
	return &Service{
		rules: make(map[uuid.UUID]map[uuid.UUID]Rule),
	}
}

// List returns the tenant's rules, optionally filtered by exact name.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, name string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rule
	for _, rule := range s.rules[tenantID] {
		if name != "" && rule.Name != name {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find returns one rule by id within the tenant.
func (s *Service) Find(ctx context.Context, tenantID, id uuid.UUID) (Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[tenantID][id]
	if !ok {
		return Rule{}, &errors.Error{
			Code: errors.ENotFound,
			Msg:  "rule not found",
		}
	}
	return rule, nil
}

// Create stores a new rule for the tenant.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, name, description string) (Rule, error) {
	if name == "" {
		return Rule{}, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "rule name is required",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range s.rules[tenantID] {
		if rule.Name == name {
			return Rule{}, &errors.Error{
				Code: errors.EConflict,
				Msg:  "a rule with this name already exists",
			}
		}
	}

	rule := Rule{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if s.rules[tenantID] == nil {
		s.rules[tenantID] = make(map[uuid.UUID]Rule)
	}
	s.rules[tenantID][rule.ID] = rule
	return rule, nil
}

// Delete removes a rule within the tenant.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[tenantID][id]; !ok {
		return &errors.Error{
			Code: errors.ENotFound,
			Msg:  "rule not found",
		}
	}
	delete(s.rules[tenantID], id)
	return nil
}

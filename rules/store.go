package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore manages rule definition persistence and retrieval
type RuleStore interface {
	// Add a new definition
	Add(def *RuleDefinition) error

	// Get a definition by ID
	Get(id string) (*RuleDefinition, error)

	// List all active definitions in evaluation order
	ListActive() ([]*RuleDefinition, error)

	// Update an existing definition
	Update(def *RuleDefinition) error

	// Delete a definition
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Safe for concurrent use.
type InMemoryRuleStore struct {
	defs map[string]*RuleDefinition
	mu   sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		defs: make(map[string]*RuleDefinition),
	}
}

// Add adds a new definition and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleStore) Add(def *RuleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("rule with ID %s: %w", def.ID, ErrRuleExists)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.defs[def.ID] = def
	return nil
}

// Get retrieves a definition by ID
func (s *InMemoryRuleStore) Get(id string) (*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.defs[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return def, nil
}

// ListActive returns all active definitions ordered by position
func (s *InMemoryRuleStore) ListActive() ([]*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*RuleDefinition
	for _, def := range s.defs {
		if def.Active {
			active = append(active, def)
		}
	}
	SortDefinitions(active)
	return active, nil
}

// List returns every definition, active or not, in evaluation order
func (s *InMemoryRuleStore) List() ([]*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*RuleDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	SortDefinitions(defs)
	return defs, nil
}

// Update replaces an existing definition, preserving CreatedAt
func (s *InMemoryRuleStore) Update(def *RuleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.defs[def.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", def.ID, ErrRuleNotFound)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.defs[def.ID] = def
	return nil
}

// Delete removes a definition from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[id]; !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	delete(s.defs, id)
	return nil
}

// SortDefinitions orders definitions by Position, then CreatedAt, then ID
func SortDefinitions(defs []*RuleDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

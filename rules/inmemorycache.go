package rules

import (
	"sync"
	"time"
)

// InMemoryRulesCache is an in-memory RulesCache. Safe for concurrent use.
type InMemoryRulesCache struct {
	defs     []*RuleDefinition
	cachedAt time.Time
	config   CacheConfig
	isValid  bool
	mu       sync.RWMutex

	// now is replaced in tests
	now func() time.Time
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		config: config,
		now:    time.Now,
	}
}

func (c *InMemoryRulesCache) expired() bool {
	return c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL
}

// Get returns a copy of the cached definitions, or nil if the cache is invalid or expired
func (c *InMemoryRulesCache) Get() []*RuleDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid || c.expired() {
		return nil
	}

	defs := make([]*RuleDefinition, len(c.defs))
	copy(defs, c.defs)
	return defs
}

// Set stores a copy of defs
func (c *InMemoryRulesCache) Set(defs []*RuleDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defs = make([]*RuleDefinition, len(defs))
	copy(c.defs, defs)
	c.cachedAt = c.now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.defs = nil
}

// IsValid returns true if cache contains unexpired data
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.isValid && !c.expired()
}

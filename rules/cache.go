package rules

import "time"

// RulesCache caches the ordered list of active rule definitions
// so that evaluation does not hit the store on every run
type RulesCache interface {
	// Get retrieves cached definitions, returns nil on a miss or after expiry
	Get() []*RuleDefinition

	// Set stores definitions in cache
	Set(defs []*RuleDefinition)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the default cache configuration: no TTL, invalidated on mutations
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0,
	}
}

package config

import "time"

// CacheConfig configures the Redis cache of availability responses.  Seat
// counters change constantly, so the TTL is short; reservations and
// cancellations also evict the class's entry.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables.
func LoadCacheConfig() CacheConfig {
	c := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 5*time.Second),
		Prefix:       envStr("CACHE_PREFIX", "cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 64<<10),
	}
	if c.TTL <= 0 {
		c.Enabled = false
	}
	return c
}

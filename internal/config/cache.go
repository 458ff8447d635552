package config

import (
	"path/filepath"
	"time"
)

// CacheConfig configures the on-disk IR cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	// TTL after which a cached IR is evicted on read.
	TTL string `yaml:"ttl"`
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: true,
		Dir:     filepath.Join(".specforge", "ircache"),
		TTL:     "24h",
	}
}

// TTLDuration returns the cache TTL as a duration.
func (c CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

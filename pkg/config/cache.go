package config

import "time"

// CacheConfig controls the two-tier semantic cache.
type CacheConfig struct {
	// TTL is how long cached answers remain valid.
	TTL time.Duration

	// Capacity bounds the exact-parameter LRU tier.
	Capacity int

	// SemanticFloor is the minimum cosine similarity for a semantic-tier
	// hit. Never lowered below 0.85 — lower thresholds caused cross-topic
	// contamination.
	SemanticFloor float64
}

// DefaultCacheConfig returns the built-in cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:           1 * time.Hour,
		Capacity:      100,
		SemanticFloor: 0.85,
	}
}

func (c *CacheConfig) loadEnv() error {
	var err error
	if c.TTL, err = envDuration("CACHE_TTL", c.TTL); err != nil {
		return err
	}
	if c.Capacity, err = envInt("CACHE_CAPACITY", c.Capacity); err != nil {
		return err
	}
	if c.SemanticFloor, err = envFloat("CACHE_SEMANTIC_FLOOR", c.SemanticFloor); err != nil {
		return err
	}
	if c.SemanticFloor < 0.85 {
		c.SemanticFloor = 0.85
	}
	return nil
}

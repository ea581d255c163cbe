package cache

import "sync/atomic"

// Stats holds lookup counters for a cache.
type Stats struct {
	// Hits is the number of lookups served from the cache.
	Hits int64
	// Misses counts absent or expired keys.
	Misses int64
	// Errors counts backend failures; only the Redis cache reports them.
	Errors int64
	// HitRate is Hits / (Hits + Misses), zero before the first lookup.
	HitRate float64

	// Redis connection pool figures, zero for the in-memory cache.
	PoolHits       uint32
	PoolMisses     uint32
	PoolTimeouts   uint32
	PoolTotalConns uint32
	PoolIdleConns  uint32
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func (c *counters) snapshot() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Errors:  c.errors.Load(),
		HitRate: rate,
	}
}

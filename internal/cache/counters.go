package cache

import "sync/atomic"

// Counters is a point-in-time copy of the store's activity counters.
type Counters struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Stores        uint64 `json:"stores"`
	StoreFailures uint64 `json:"store_failures"`
	Evictions     uint64 `json:"evictions"`
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (c Counters) HitRatio() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// counters are updated without holding the store mutex.
type counters struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	stores        atomic.Uint64
	storeFailures atomic.Uint64
	evictions     atomic.Uint64
}

func (c *counters) snapshot() Counters {
	return Counters{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stores:        c.stores.Load(),
		StoreFailures: c.storeFailures.Load(),
		Evictions:     c.evictions.Load(),
	}
}

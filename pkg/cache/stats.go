package cache

import "sync/atomic"

type statsCounters struct {
	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	errors      atomic.Uint64
	invalidated atomic.Uint64
}

func (s *statsCounters) snapshot() Stats {
	return Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Evictions:   s.evictions.Load(),
		Errors:      s.errors.Load(),
		Invalidated: s.invalidated.Load(),
	}
}

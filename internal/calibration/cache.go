package calibration

import (
	"sync/atomic"

	"github.com/strrl/viralscope/internal/signals"
)

// ParameterCache holds the most recent Platt parameters. Empty means raw
// scores are used uncorrected. Readers never block.
//
// Every Store and Invalidate bumps a generation. A reader that refills the
// cache from the store passes the generation it saw before reading, so a
// value fetched before an invalidation can never land after it.
type ParameterCache struct {
	slot atomic.Pointer[cacheEntry]
}

type cacheEntry struct {
	gen    uint64
	params *signals.PlattParameters
}

func NewParameterCache() *ParameterCache {
	return &ParameterCache{}
}

// Get returns a copy of the cached parameters, or nil.
func (c *ParameterCache) Get() *signals.PlattParameters {
	e := c.slot.Load()
	if e == nil || e.params == nil {
		return nil
	}
	cp := *e.params
	return &cp
}

// Generation identifies the current cache state.
func (c *ParameterCache) Generation() uint64 {
	return generation(c.slot.Load())
}

// Store replaces the cached value.
func (c *ParameterCache) Store(p signals.PlattParameters) {
	c.replace(&p)
}

// StoreIfUnchanged stores p only if no Store or Invalidate happened since gen
// was read. It reports whether p was stored.
func (c *ParameterCache) StoreIfUnchanged(gen uint64, p signals.PlattParameters) bool {
	old := c.slot.Load()
	if generation(old) != gen {
		return false
	}
	return c.slot.CompareAndSwap(old, &cacheEntry{gen: gen + 1, params: &p})
}

// Invalidate clears the slot. The next consumer re-reads persisted
// parameters; nothing refills the cache in the background.
func (c *ParameterCache) Invalidate() {
	c.replace(nil)
}

func (c *ParameterCache) replace(p *signals.PlattParameters) {
	for {
		old := c.slot.Load()
		if c.slot.CompareAndSwap(old, &cacheEntry{gen: generation(old) + 1, params: p}) {
			return
		}
	}
}

func generation(e *cacheEntry) uint64 {
	if e == nil {
		return 0
	}
	return e.gen
}

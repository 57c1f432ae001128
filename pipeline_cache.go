package rhi

import (
	"sync"
	"sync/atomic"
)

// pipelineCache deduplicates pipelines by structural key.
//
// Every CreatePipeline result holds one reference; a cached pipeline is
// destroyed when DestroyPipeline has been called once per reference.
//
// pipelineCache is safe for concurrent use. Hits only take the read lock.
// A miss registers the key as in flight and creates the pipeline without
// holding the lock; callers asking for the same key wait for that creation,
// callers asking for other keys do not.
type pipelineCache struct {
	mu       sync.RWMutex
	entries  map[pipelineKey]*pipelineEntry
	inflight map[pipelineKey]*pendingPipeline

	hits   atomic.Uint64
	misses atomic.Uint64
}

type pipelineEntry struct {
	ref Pipeline
	obj *pipelineObject
}

// pendingPipeline is a creation in progress. done is closed once the
// outcome is known; err is the creation error, if any.
type pendingPipeline struct {
	done chan struct{}
	err  error
}

// PipelineCacheStats reports pipeline cache effectiveness.
type PipelineCacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// HitRate returns the fraction of lookups served from the cache.
func (s PipelineCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func newPipelineCache() *pipelineCache {
	return &pipelineCache{
		entries:  make(map[pipelineKey]*pipelineEntry),
		inflight: make(map[pipelineKey]*pendingPipeline),
	}
}

// getOrCreate returns the pipeline cached under key, taking a reference,
// or calls create and caches its result. hit reports whether the pipeline
// was already cached or being created by another caller. create runs
// without the cache lock held.
func (c *pipelineCache) getOrCreate(key pipelineKey, create func() (Pipeline, *pipelineObject, error)) (p Pipeline, hit bool, err error) {
	// Fast path: read lock.
	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		e.obj.refs.Add(1)
		c.mu.RUnlock()
		c.hits.Add(1)
		return e.ref, true, nil
	}
	c.mu.RUnlock()

	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.obj.refs.Add(1)
			c.mu.Unlock()
			c.hits.Add(1)
			return e.ref, true, nil
		}
		pending, waiting := c.inflight[key]
		if !waiting {
			break
		}
		c.mu.Unlock()

		<-pending.done
		if pending.err != nil {
			return Pipeline{}, false, pending.err
		}
		// The entry may have been released again before this caller
		// took its reference; the loop then creates it anew.
	}

	pending := &pendingPipeline{done: make(chan struct{})}
	c.inflight[key] = pending
	c.misses.Add(1)
	c.mu.Unlock()

	p, obj, err := create()

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		obj.refs.Store(1)
		c.entries[key] = &pipelineEntry{ref: p, obj: obj}
	}
	pending.err = err
	c.mu.Unlock()
	close(pending.done)

	if err != nil {
		return Pipeline{}, false, err
	}
	return p, false, nil
}

// release drops one reference to p. It reports true when that was the last
// reference; p has then been evicted and must be destroyed by the caller.
func (c *pipelineCache) release(p Pipeline, obj *pipelineObject) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if obj.refs.Add(-1) > 0 {
		return false
	}
	if e, ok := c.entries[obj.key]; ok && e.ref == p {
		delete(c.entries, obj.key)
	}
	return true
}

// refs returns the reference count of the pipeline cached under key.
func (c *pipelineCache) refs(key pipelineKey) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[key]; ok {
		return int(e.obj.refs.Load())
	}
	return 0
}

// clear forgets every entry. The table still owns the objects.
func (c *pipelineCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[pipelineKey]*pipelineEntry)
}

func (c *pipelineCache) stats() PipelineCacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return PipelineCacheStats{
		Size:   n,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

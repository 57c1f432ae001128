// Package cache provides a generic soft-limit LRU cache.
//
// The device uses it to memoize shader translation, keyed by source text:
//
//	c := cache.New[string, []uint32](128)
//	words, err := c.GetOrCreate(src, func() ([]uint32, error) {
//	    return compile(src)
//	})
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache

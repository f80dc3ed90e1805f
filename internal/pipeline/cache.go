package pipeline

import "sync"

// InstanceCache is a read-mostly, single-flight-guarded cache keyed by
// router.Target.Key() (spec.md §5 "pipeline instance cache"). Concurrent
// requests for the same not-yet-cached key block on the same construction
// call instead of racing to build duplicate instances; a construction
// failure is not cached, so the next caller retries it.
type InstanceCache[T any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[T]
}

type cacheEntry[T any] struct {
	once  sync.Once
	value T
	err   error
}

// NewInstanceCache constructs an empty InstanceCache.
func NewInstanceCache[T any]() *InstanceCache[T] {
	return &InstanceCache[T]{entries: make(map[string]*cacheEntry[T])}
}

// GetOrCreate returns the cached value for key, constructing it via build
// exactly once across however many goroutines race to request it
// concurrently.
func (c *InstanceCache[T]) GetOrCreate(key string, build func() (T, error)) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry[T]{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.value, e.err = build()
	})
	if e.err != nil {
		c.evictFailed(key, e)
	}
	return e.value, e.err
}

// evictFailed removes a failed entry so the next GetOrCreate call retries
// construction instead of returning the cached error forever.
func (c *InstanceCache[T]) evictFailed(key string, e *cacheEntry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] == e {
		delete(c.entries, key)
	}
}

package router

import (
	"sync"
	"time"
)

// health tracks consecutive-failure counts and cooldown windows per target
// key (spec.md §4.5: targets that exceed FailureThreshold consecutive
// failures are removed from selection until CooldownMs elapses).
type health struct {
	mu            sync.Mutex
	failures      map[string]int
	cooldownUntil map[string]time.Time
	cursor        map[string]uint64
}

func newHealth() *health {
	return &health{
		failures:      make(map[string]int),
		cooldownUntil: make(map[string]time.Time),
		cursor:        make(map[string]uint64),
	}
}

// recordFailure increments the failure counter for key and, once it reaches
// threshold, opens a cooldown window of cooldownMs.
func (h *health) recordFailure(key string, threshold int, cooldownMs int64, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[key]++
	if h.failures[key] >= threshold {
		h.cooldownUntil[key] = now.Add(time.Duration(cooldownMs) * time.Millisecond)
	}
}

// recordSuccess clears the failure counter and any cooldown for key.
func (h *health) recordSuccess(key string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, key)
	delete(h.cooldownUntil, key)
}

// inCooldown reports whether key is currently cooling down.
func (h *health) inCooldown(key string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	until, ok := h.cooldownUntil[key]
	if !ok {
		return false
	}
	if now.After(until) {
		return false
	}
	return true
}

// nextCursor returns the next round-robin index for poolKey, advancing the
// shared counter so repeated calls within the same pool rotate targets.
func (h *health) nextCursor(poolKey string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.cursor[poolKey]
	h.cursor[poolKey] = v + 1
	return v
}

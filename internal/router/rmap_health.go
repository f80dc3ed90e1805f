package router

import (
	"context"
	"strconv"
	"time"

	"goa.design/pulse/rmap"
)

// RmapHealth is a ClusterHealth backed by two Pulse replicated maps, so
// cooldown state and round-robin cursors are shared across every gateway
// instance in the cluster (spec.md §4.5). It follows the
// Get/Set/Delete/TestAndSet usage shown by the teacher's
// registry.healthTracker.
type RmapHealth struct {
	cooldowns *rmap.Map // key -> cooldown-until unix nanos
	failures  *rmap.Map // key -> consecutive failure count
	cursors   *rmap.Map // poolKey -> next round-robin index
}

// NewRmapHealth wraps the given replicated maps. All three must share a
// Pulse pool/namespace so every gateway node observes the same state.
func NewRmapHealth(cooldowns, failures, cursors *rmap.Map) *RmapHealth {
	return &RmapHealth{cooldowns: cooldowns, failures: failures, cursors: cursors}
}

func (r *RmapHealth) RecordFailure(ctx context.Context, key string, threshold int, cooldownMs int64) {
	count := r.incr(ctx, r.failures, key) + 1
	if count >= uint64(threshold) {
		until := time.Now().Add(time.Duration(cooldownMs) * time.Millisecond).UnixNano()
		_, _ = r.cooldowns.Set(ctx, key, strconv.FormatInt(until, 10))
	}
}

func (r *RmapHealth) RecordSuccess(ctx context.Context, key string) {
	_, _ = r.failures.Delete(ctx, key)
	_, _ = r.cooldowns.Delete(ctx, key)
}

func (r *RmapHealth) InCooldown(ctx context.Context, key string) bool {
	val, ok := r.cooldowns.Get(key)
	if !ok {
		return false
	}
	until, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().UnixNano() < until
}

func (r *RmapHealth) NextCursor(ctx context.Context, poolKey string) uint64 {
	return r.incr(ctx, r.cursors, poolKey)
}

// incr performs a compare-and-swap increment loop against an rmap.Map entry
// storing a decimal counter, retrying on concurrent writers exactly as
// TestAndSet's contract requires.
func (r *RmapHealth) incr(ctx context.Context, m *rmap.Map, key string) uint64 {
	for {
		cur, ok := m.Get(key)
		if !ok {
			if ok, err := m.SetIfNotExists(ctx, key, "1"); err == nil && ok {
				return 0
			}
			continue
		}
		n, err := strconv.ParseUint(cur, 10, 64)
		if err != nil {
			n = 0
		}
		next := n + 1
		if _, err := m.TestAndSet(ctx, key, cur, strconv.FormatUint(next, 10)); err == nil {
			return n
		}
	}
}

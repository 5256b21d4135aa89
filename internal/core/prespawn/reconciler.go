package prespawn

import (
	"go.uber.org/zap"

	"github.com/rollsync/rollsync/internal/core/observability/log"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// DefaultWindow is how many ticks a pending spawn may wait for its
// authoritative match before it is despawned as an orphan.
const DefaultWindow = 50

type pending struct {
	entity  world.EntityID
	created timeline.Tick
}

// Reconciler matches client-predicted entity spawns to server-confirmed
// spawns of the same logical event. Entries are transient: each one is
// removed on match, on timeout, or when a rollback replays its spawn tick.
type Reconciler struct {
	pendingByHash map[uint64]pending
	window        int32
	lg            *log.Logger
}

func NewReconciler(windowTicks int, lg *log.Logger) *Reconciler {
	if windowTicks <= 0 {
		windowTicks = DefaultWindow
	}
	if lg == nil {
		lg = log.Nop()
	}
	return &Reconciler{
		pendingByHash: make(map[uint64]pending),
		window:        int32(windowTicks),
		lg:            lg,
	}
}

// Track registers a speculative local spawn under its hash. On a hash
// collision the last-inserted entry wins; the previous one is reported as
// displaced so the caller can despawn it, and a diagnostic is logged since
// the disambiguating salt is the caller's responsibility.
func (r *Reconciler) Track(hash uint64, entity world.EntityID, created timeline.Tick) (displaced world.EntityID, collision bool) {
	if prev, exists := r.pendingByHash[hash]; exists {
		r.lg.Warn("pending spawn hash collision, last inserted wins",
			zap.Uint64("hash", hash),
			zap.Uint64("kept", uint64(entity)),
			zap.Uint64("displaced", uint64(prev.entity)),
			zap.Uint32("tick", uint32(created)),
		)
		displaced, collision = prev.entity, true
	}
	r.pendingByHash[hash] = pending{entity: entity, created: created}
	return displaced, collision
}

// Match consumes the pending entry for a hash, if any. A hit means the
// incoming authoritative spawn maps onto an existing local entity.
func (r *Reconciler) Match(hash uint64) (world.EntityID, bool) {
	p, ok := r.pendingByHash[hash]
	if !ok {
		return 0, false
	}
	delete(r.pendingByHash, hash)
	return p.entity, true
}

// Expire removes entries older than the timeout window and returns their
// entities; the caller despawns them as orphaned speculative creations.
func (r *Reconciler) Expire(now timeline.Tick) []world.EntityID {
	var orphans []world.EntityID
	for hash, p := range r.pendingByHash {
		if timeline.Delta(now, p.created) > r.window {
			orphans = append(orphans, p.entity)
			delete(r.pendingByHash, hash)
			r.lg.Debug("pending spawn expired unmatched",
				zap.Uint64("hash", hash),
				zap.Uint64("entity", uint64(p.entity)),
			)
		}
	}
	return orphans
}

// TakeAfter removes and returns every pending entity created strictly after
// the given tick. Rollback despawns these before resimulation so the replay
// re-enters the normal matching process instead of leaving stale duplicates.
func (r *Reconciler) TakeAfter(tick timeline.Tick) []world.EntityID {
	var taken []world.EntityID
	for hash, p := range r.pendingByHash {
		if p.created.After(tick) {
			taken = append(taken, p.entity)
			delete(r.pendingByHash, hash)
		}
	}
	return taken
}

func (r *Reconciler) Len() int {
	return len(r.pendingByHash)
}

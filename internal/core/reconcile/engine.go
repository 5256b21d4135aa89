package reconcile

import (
	"sort"

	"go.uber.org/zap"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/history"
	"github.com/rollsync/rollsync/internal/core/observability/log"
	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// State of one entity/component pair relative to the authority.
type State uint8

const (
	StateInSync State = iota
	StateDiverged
)

type confirmedValue struct {
	tick  timeline.Tick
	value any
}

// ResyncEvent reports an unrecoverable divergence: the rollback target fell
// out of the history buffer, so the entity was snapped to the authoritative
// value instead of replayed. The only case where a visible snap is allowed.
type ResyncEvent struct {
	Entity    world.EntityID
	Component components.ID
	Tick      timeline.Tick
}

// Engine compares authoritative snapshots against predicted history and
// decides whether the resimulator must roll back. It owns the confirmed
// shadow state; gameplay logic never mutates it.
type Engine struct {
	registry *components.Registry
	store    *history.Store
	lg       *log.Logger

	states    map[history.Key]State
	confirmed map[history.Key]confirmedValue

	lastConfirmed timeline.Tick
	hasConfirmed  bool
	divergedAt    timeline.Tick
	hasDiverged   bool
	resyncs       []ResyncEvent
	staleDropped  uint64
}

func NewEngine(registry *components.Registry, store *history.Store, lg *log.Logger) *Engine {
	if lg == nil {
		lg = log.Nop()
	}
	return &Engine{
		registry:  registry,
		store:     store,
		lg:        lg,
		states:    make(map[history.Key]State),
		confirmed: make(map[history.Key]confirmedValue),
	}
}

// Ingest applies one authoritative snapshot. Snapshots older than the last
// applied tick for a pair are discarded; re-applying the same snapshot is a
// no-op, so redelivery never causes an extra rollback. currentTick is the
// local predicted tick, used to detect snapshots from the local future.
func (e *Engine) Ingest(msg *protocol.SnapshotMessage, w *world.World, currentTick timeline.Tick) error {
	entity, ok := w.Get(msg.Entity)
	if !ok {
		e.lg.Debug("snapshot for unknown entity dropped", zap.Uint64("entity", uint64(msg.Entity)))
		return nil
	}
	if entity.Role() == world.RoleInterpolated {
		// Interpolated entities are smoothed, not reconciled; the client
		// routes their snapshots into the interpolation buffer instead.
		return nil
	}

	for _, id := range sortedComponentIDs(msg.Components) {
		payload := msg.Components[id]
		compID := components.ID(id)
		reg, known := e.registry.Lookup(compID)
		if !known {
			continue
		}
		if reg.Decode == nil {
			e.lg.Warn("component has no decoder, snapshot value dropped",
				zap.String("component", reg.Name))
			continue
		}
		value, err := reg.Decode(payload)
		if err != nil {
			return err
		}
		e.ingestComponent(entity, compID, reg, value, msg.Tick, msg.Forced, currentTick)
	}
	return nil
}

func (e *Engine) ingestComponent(
	entity *world.Entity,
	compID components.ID,
	reg components.Registration,
	value any,
	tick timeline.Tick,
	forced bool,
	currentTick timeline.Tick,
) {
	key := history.Key{Entity: entity.ID(), Component: compID}

	if prev, seen := e.confirmed[key]; seen && !tick.After(prev.tick) {
		e.staleDropped++
		return
	}
	e.confirmed[key] = confirmedValue{tick: tick, value: value}
	if !e.hasConfirmed || tick.After(e.lastConfirmed) {
		e.lastConfirmed = tick
		e.hasConfirmed = true
	}

	if reg.Mode == components.ReplicatedOnly {
		// Authority to all, never predicted: apply directly.
		entity.Set(compID, value)
		return
	}

	if forced {
		entity.Set(compID, value)
		e.states[key] = StateInSync
		e.resyncs = append(e.resyncs, ResyncEvent{Entity: entity.ID(), Component: compID, Tick: tick})
		return
	}

	if tick.After(currentTick) {
		// The authority is ahead of our local timeline for this entity; we
		// have no prediction to compare against, adopt the value.
		entity.Set(compID, reg.Clone(value))
		e.states[key] = StateInSync
		return
	}

	buffer, ok := e.store.Lookup(entity.ID(), compID)
	if !ok {
		entity.Set(compID, reg.Clone(value))
		e.states[key] = StateInSync
		return
	}
	predicted, err := buffer.At(tick)
	switch err {
	case nil:
	case history.ErrUnderflow:
		e.forceResync(entity, compID, value, tick)
		return
	default:
		entity.Set(compID, reg.Clone(value))
		e.states[key] = StateInSync
		return
	}

	if reg.Compare(predicted, value) {
		e.states[key] = StateInSync
		return
	}

	e.states[key] = StateDiverged
	// Rewrite history at the snapshot tick immediately. The confirmed map
	// only keeps the newest value per pair, so when several snapshots drain
	// in one tick the rollback must find the authoritative state for this
	// tick in the buffer, not in the map.
	if err := buffer.Record(tick, reg.Clone(value)); err != nil {
		e.lg.Warn("confirmed value could not be recorded",
			zap.Uint64("entity", uint64(entity.ID())),
			zap.String("component", reg.Name),
			zap.Error(err),
		)
	}
	if !e.hasDiverged || tick.Before(e.divergedAt) {
		e.divergedAt = tick
		e.hasDiverged = true
	}
	e.lg.Debug("divergence detected",
		zap.Uint64("entity", uint64(entity.ID())),
		zap.String("component", reg.Name),
		zap.Uint32("tick", uint32(tick)),
	)
}

func (e *Engine) forceResync(entity *world.Entity, compID components.ID, value any, tick timeline.Tick) {
	key := history.Key{Entity: entity.ID(), Component: compID}
	entity.Set(compID, value)
	e.states[key] = StateInSync
	e.resyncs = append(e.resyncs, ResyncEvent{Entity: entity.ID(), Component: compID, Tick: tick})
	e.lg.Warn("history underflow, forcing resync",
		zap.Uint64("entity", uint64(entity.ID())),
		zap.Uint32("tick", uint32(tick)),
	)
}

// Diverged returns the minimum tick across every diverged pair. All
// predicted entities roll back to this single shared tick, so one entity's
// correction can never desynchronize another that depends on it.
func (e *Engine) Diverged() (timeline.Tick, bool) {
	return e.divergedAt, e.hasDiverged
}

// IsDiverged reports whether any component of the entity is diverged.
func (e *Engine) IsDiverged(entity world.EntityID) bool {
	for key, state := range e.states {
		if key.Entity == entity && state == StateDiverged {
			return true
		}
	}
	return false
}

// LastConfirmedTick returns the newest authoritative tick seen so far.
func (e *Engine) LastConfirmedTick() (timeline.Tick, bool) {
	return e.lastConfirmed, e.hasConfirmed
}

// ConfirmedAt returns the latest confirmed value for a pair.
func (e *Engine) ConfirmedAt(entity world.EntityID, component components.ID) (timeline.Tick, any, bool) {
	cv, ok := e.confirmed[history.Key{Entity: entity, Component: component}]
	return cv.tick, cv.value, ok
}

// Resolve marks pairs in sync after a completed resimulation from the given
// tick and trims history that can no longer be rolled back to. Pairs whose
// confirmed tick lies after the rollback point are re-compared against the
// replayed history first: a replay driven by different inputs than the
// authority used can still disagree there, and those pairs stay diverged so
// the next tick rolls back again from that later point.
func (e *Engine) Resolve(from timeline.Tick) {
	for key := range e.states {
		e.states[key] = StateInSync
	}
	e.hasDiverged = false

	for key, cv := range e.confirmed {
		if !cv.tick.After(from) {
			continue
		}
		reg, known := e.registry.Lookup(key.Component)
		if !known || reg.Mode == components.ReplicatedOnly {
			continue
		}
		buffer, ok := e.store.Lookup(key.Entity, key.Component)
		if !ok {
			continue
		}
		replayed, err := buffer.At(cv.tick)
		if err != nil {
			continue
		}
		if reg.Compare(replayed, cv.value) {
			continue
		}
		_ = buffer.Record(cv.tick, reg.Clone(cv.value))
		e.states[key] = StateDiverged
		if !e.hasDiverged || cv.tick.Before(e.divergedAt) {
			e.divergedAt = cv.tick
			e.hasDiverged = true
		}
	}

	e.store.TruncateBefore(from)
}

// DrainResyncs returns and clears accumulated forced-resync events. The
// gameplay layer surfaces these; everything else the engine handles locally.
func (e *Engine) DrainResyncs() []ResyncEvent {
	out := e.resyncs
	e.resyncs = nil
	return out
}

// DropEntity clears all reconciliation state for a despawned entity.
func (e *Engine) DropEntity(entity world.EntityID) {
	for key := range e.states {
		if key.Entity == entity {
			delete(e.states, key)
		}
	}
	for key := range e.confirmed {
		if key.Entity == entity {
			delete(e.confirmed, key)
		}
	}
}

// RemapEntity moves reconciliation state onto a new entity ID after spawn
// reconciliation adopts the authoritative identity.
func (e *Engine) RemapEntity(oldID, newID world.EntityID) {
	for key, state := range e.states {
		if key.Entity == oldID {
			delete(e.states, key)
			e.states[history.Key{Entity: newID, Component: key.Component}] = state
		}
	}
	for key, cv := range e.confirmed {
		if key.Entity == oldID {
			delete(e.confirmed, key)
			e.confirmed[history.Key{Entity: newID, Component: key.Component}] = cv
		}
	}
}

// StaleDropped counts snapshots discarded for arriving out of order.
func (e *Engine) StaleDropped() uint64 {
	return e.staleDropped
}

func sortedComponentIDs(m map[uint32][]byte) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package reconcile

import (
	"go.uber.org/zap"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/history"
	"github.com/rollsync/rollsync/internal/core/observability/log"
	"github.com/rollsync/rollsync/internal/core/prespawn"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// InputSource supplies recorded inputs to the simulation step. exact is
// false when the payload came from the missing-input policy rather than an
// actual received message.
type InputSource interface {
	InputFor(entity world.EntityID, tick timeline.Tick) (payload []byte, exact bool)
}

// StepContext is what the registered simulation step sees each tick. The
// step must be a pure function of (Tick, Inputs, World state): no wall-clock
// reads, no unseeded randomness, no iteration-order dependence, or replayed
// ticks will diverge from the original run.
type StepContext struct {
	Tick         timeline.Tick
	World        *world.World
	Inputs       InputSource
	Resimulating bool
}

// StepFunc is the deterministic simulation step supplied by the gameplay
// layer. The core calls it identically during forward simulation and
// resimulation.
type StepFunc func(StepContext)

// Correction reports the visible displacement a rollback produced on a
// corrected component, for the visual layer to smooth over.
type Correction struct {
	Entity    world.EntityID
	Component components.ID
	Before    any
	After     any
}

// Resimulator re-runs the simulation from a rollback tick to the present
// using the corrected historical state as the new starting point. The whole
// operation is synchronous and all-or-nothing: it runs inside the same
// scheduling slot that detected the divergence.
type Resimulator struct {
	registry *components.Registry
	store    *history.Store
	spawns   *prespawn.Reconciler
	lg       *log.Logger
}

func NewResimulator(registry *components.Registry, store *history.Store, spawns *prespawn.Reconciler, lg *log.Logger) *Resimulator {
	if lg == nil {
		lg = log.Nop()
	}
	return &Resimulator{registry: registry, store: store, spawns: spawns, lg: lg}
}

// Rollback restores every predicted entity to its state at tick from, then
// replays the step function through tick current. Cost is proportional to
// (current-from) times the active entity count, never to total elapsed game
// time. Returns the corrections the visual layer should blend.
func (r *Resimulator) Rollback(
	w *world.World,
	engine *Engine,
	inputs InputSource,
	step StepFunc,
	from, current timeline.Tick,
) []Correction {
	depth := timeline.Delta(current, from)
	if depth < 0 {
		return nil
	}
	r.lg.Debug("rollback",
		zap.Uint32("from", uint32(from)),
		zap.Uint32("current", uint32(current)),
		zap.Int32("depth", depth),
	)

	before := r.captureCorrected(w)

	// Speculative spawns from after the rollback point are despawned
	// unconditionally; the replay re-runs their spawn logic and they
	// re-enter the matching process fresh.
	for _, id := range r.spawns.TakeAfter(from) {
		if w.Despawn(id) {
			r.store.Drop(id)
			engine.DropEntity(id)
		}
	}

	r.restoreAt(w, engine, from)

	for t := from.Add(1); !t.After(current); t = t.Add(1) {
		step(StepContext{Tick: t, World: w, Inputs: inputs, Resimulating: true})
		r.recordTick(w, t)
	}

	corrections := r.collectCorrections(w, before)
	engine.Resolve(from)
	return corrections
}

// RecordTick snapshots every predicted component value into history after a
// forward simulation step. The client calls this once per tick; the
// resimulator calls the same path while replaying so both runs share one
// recording discipline.
func (r *Resimulator) RecordTick(w *world.World, tick timeline.Tick) {
	r.recordTick(w, tick)
}

func (r *Resimulator) recordTick(w *world.World, tick timeline.Tick) {
	w.Each(func(e *world.Entity) {
		if !isLocallySimulated(e.Role()) {
			return
		}
		for _, compID := range r.registry.Predicted() {
			if !e.Has(compID) {
				continue
			}
			value, ok := e.Get(compID)
			if !ok {
				continue
			}
			reg, _ := r.registry.Lookup(compID)
			if err := r.store.Buffer(e.ID(), compID).Record(tick, reg.Clone(value)); err != nil {
				r.lg.Warn("history record failed",
					zap.Uint64("entity", uint64(e.ID())),
					zap.String("component", reg.Name),
					zap.Uint32("tick", uint32(tick)),
					zap.Error(err),
				)
			}
		}
	})
}

// restoreAt rewinds predicted component values to their state at the
// rollback tick. The engine writes confirmed values into history as it
// detects divergence, so the buffer entry at the rollback tick is already
// the authoritative state wherever the authority disagreed.
func (r *Resimulator) restoreAt(w *world.World, engine *Engine, from timeline.Tick) {
	w.Each(func(e *world.Entity) {
		if !isLocallySimulated(e.Role()) {
			return
		}
		for _, compID := range r.registry.Predicted() {
			if !e.Has(compID) {
				continue
			}
			reg, _ := r.registry.Lookup(compID)

			buffer, ok := r.store.Lookup(e.ID(), compID)
			if !ok {
				continue
			}
			value, err := buffer.At(from)
			if err != nil {
				// The buffer no longer reaches the rollback tick. Snap to
				// the newest confirmed value; the engine has already
				// queued the forced-resync event on ingest.
				if _, confValue, hasConf := engine.ConfirmedAt(e.ID(), compID); hasConf {
					e.Set(compID, reg.Clone(confValue))
				}
				continue
			}
			e.Set(compID, reg.Clone(value))
		}
	})
}

func (r *Resimulator) captureCorrected(w *world.World) map[history.Key]any {
	before := make(map[history.Key]any)
	w.Each(func(e *world.Entity) {
		if !isLocallySimulated(e.Role()) {
			return
		}
		for _, compID := range r.registry.Predicted() {
			reg, _ := r.registry.Lookup(compID)
			if reg.Mode != components.PredictedCorrected || !e.Has(compID) {
				continue
			}
			if value, ok := e.Get(compID); ok {
				before[history.Key{Entity: e.ID(), Component: compID}] = reg.Clone(value)
			}
		}
	})
	return before
}

func (r *Resimulator) collectCorrections(w *world.World, before map[history.Key]any) []Correction {
	var corrections []Correction
	w.Each(func(e *world.Entity) {
		if !isLocallySimulated(e.Role()) {
			return
		}
		for _, compID := range r.registry.Predicted() {
			key := history.Key{Entity: e.ID(), Component: compID}
			prev, tracked := before[key]
			if !tracked {
				continue
			}
			after, ok := e.Get(compID)
			if !ok {
				continue
			}
			if r.registry.InSync(compID, prev, after) {
				continue
			}
			corrections = append(corrections, Correction{
				Entity:    e.ID(),
				Component: compID,
				Before:    prev,
				After:     after,
			})
		}
	})
	return corrections
}

// isLocallySimulated reports whether a role participates in prediction and
// rollback on this peer.
func isLocallySimulated(role world.Role) bool {
	return role == world.RolePredicted || role == world.RolePendingSpawn
}

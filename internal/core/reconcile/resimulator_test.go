package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/history"
	"github.com/rollsync/rollsync/internal/core/input"
	"github.com/rollsync/rollsync/internal/core/prespawn"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// stepAddInput is a deterministic step: each predicted entity adds its
// one-byte input payload to its position.
func stepAddInput(ctx StepContext) {
	ctx.World.Each(func(e *world.Entity) {
		if e.Role() != world.RolePredicted && e.Role() != world.RolePendingSpawn {
			return
		}
		payload, _ := ctx.Inputs.InputFor(e.ID(), ctx.Tick)
		if len(payload) == 0 {
			return
		}
		pos, _ := e.Get(compPos)
		e.Set(compPos, pos.(float64)+float64(payload[0]))
	})
}

func TestRollbackReplaysInputsFromCorrectedState(t *testing.T) {
	f := newFixture(t)
	spawns := prespawn.NewReconciler(50, nil)
	resim := NewResimulator(f.registry, f.store, spawns, nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	// Forward simulation: +1 per tick over ticks 100..105, starting at 0.
	f.entity.Set(compPos, 0.0)
	for tick := timeline.Tick(100); tick <= 105; tick++ {
		inputs.Capture(tick, 1, []byte{1})
		stepAddInput(StepContext{Tick: tick, World: f.w, Inputs: inputs})
		resim.RecordTick(f.w, tick)
	}
	v, _ := f.entity.Get(compPos)
	require.Equal(t, 6.0, v)

	// The authority disagrees about tick 102: it says 5, we predicted 3.
	require.NoError(t, f.engine.Ingest(snapshot(t, 102, 1, 5.0), f.w, 105))
	from, diverged := f.engine.Diverged()
	require.True(t, diverged)
	require.Equal(t, timeline.Tick(102), from)

	corrections := resim.Rollback(f.w, f.engine, inputs, stepAddInput, from, 105)

	// Replayed, not snapped: the recorded inputs for 103..105 are re-applied
	// on top of the corrected tick-102 state.
	v, _ = f.entity.Get(compPos)
	assert.Equal(t, 8.0, v)

	require.Len(t, corrections, 1)
	assert.Equal(t, world.EntityID(1), corrections[0].Entity)
	assert.Equal(t, compPos, corrections[0].Component)
	assert.Equal(t, 6.0, corrections[0].Before)
	assert.Equal(t, 8.0, corrections[0].After)

	// History was rewritten by the replay and the divergence resolved.
	assert.False(t, f.engine.IsDiverged(1))
	replayed, err := f.store.Buffer(1, compPos).At(104)
	require.NoError(t, err)
	assert.Equal(t, 7.0, replayed)
}

func TestRollbackKeepsCorrectionWhenSnapshotsDrainInBurst(t *testing.T) {
	f := newFixture(t)
	resim := NewResimulator(f.registry, f.store, prespawn.NewReconciler(50, nil), nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	f.entity.Set(compPos, 0.0)
	for tick := timeline.Tick(100); tick <= 105; tick++ {
		inputs.Capture(tick, 1, []byte{1})
		stepAddInput(StepContext{Tick: tick, World: f.w, Inputs: inputs})
		resim.RecordTick(f.w, tick)
	}

	// A frame hitch delivers two consecutive snapshots in one drain. The
	// second displaces the first in the confirmed map, but the correction
	// at tick 102 must still be applied, not the stale predicted value.
	require.NoError(t, f.engine.Ingest(snapshot(t, 102, 1, 5.0), f.w, 105))
	require.NoError(t, f.engine.Ingest(snapshot(t, 103, 1, 6.0), f.w, 105))
	from, diverged := f.engine.Diverged()
	require.True(t, diverged)
	require.Equal(t, timeline.Tick(102), from)

	corrections := resim.Rollback(f.w, f.engine, inputs, stepAddInput, from, 105)

	v, _ := f.entity.Get(compPos)
	assert.Equal(t, 8.0, v)
	require.Len(t, corrections, 1)
	assert.Equal(t, 6.0, corrections[0].Before)
	assert.Equal(t, 8.0, corrections[0].After)

	// The replay reproduced the authority's tick-103 value, so nothing is
	// left diverged.
	assert.False(t, f.engine.IsDiverged(1))
	replayed, err := f.store.Buffer(1, compPos).At(103)
	require.NoError(t, err)
	assert.Equal(t, 6.0, replayed)
}

func TestRollbackReconvergesWhenReplayStillDisagrees(t *testing.T) {
	f := newFixture(t)
	resim := NewResimulator(f.registry, f.store, prespawn.NewReconciler(50, nil), nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	f.entity.Set(compPos, 0.0)
	for tick := timeline.Tick(100); tick <= 105; tick++ {
		inputs.Capture(tick, 1, []byte{1})
		stepAddInput(StepContext{Tick: tick, World: f.w, Inputs: inputs})
		resim.RecordTick(f.w, tick)
	}

	// Two snapshots in one drain that the local inputs cannot both
	// reproduce: replaying from 102 lands on 7 at 104, not 20.
	require.NoError(t, f.engine.Ingest(snapshot(t, 102, 1, 5.0), f.w, 105))
	require.NoError(t, f.engine.Ingest(snapshot(t, 104, 1, 20.0), f.w, 105))
	from, diverged := f.engine.Diverged()
	require.True(t, diverged)
	require.Equal(t, timeline.Tick(102), from)

	resim.Rollback(f.w, f.engine, inputs, stepAddInput, from, 105)

	// The first replay converged on 102 but not on 104; the pair stays
	// diverged there and the next tick rolls back again.
	from, diverged = f.engine.Diverged()
	require.True(t, diverged)
	require.Equal(t, timeline.Tick(104), from)

	resim.Rollback(f.w, f.engine, inputs, stepAddInput, from, 105)

	v, _ := f.entity.Get(compPos)
	assert.Equal(t, 21.0, v)
	_, diverged = f.engine.Diverged()
	assert.False(t, diverged)
}

func TestRollbackSkipsCorrectionWithinThreshold(t *testing.T) {
	f := newFixture(t)
	resim := NewResimulator(f.registry, f.store, prespawn.NewReconciler(50, nil), nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	f.entity.Set(compPos, 0.0)
	for tick := timeline.Tick(100); tick <= 103; tick++ {
		inputs.Capture(tick, 1, []byte{1})
		stepAddInput(StepContext{Tick: tick, World: f.w, Inputs: inputs})
		resim.RecordTick(f.w, tick)
	}

	// The confirmed value differs only by float noise below the threshold,
	// so the replay converges back to an equivalent present.
	require.NoError(t, f.engine.Ingest(snapshot(t, 101, 1, 2.005), f.w, 103))
	from, diverged := f.engine.Diverged()
	if !diverged {
		// Within threshold there is nothing to roll back at all.
		return
	}
	corrections := resim.Rollback(f.w, f.engine, inputs, stepAddInput, from, 103)
	assert.Empty(t, corrections)
}

func TestRollbackDespawnsSpeculativeSpawns(t *testing.T) {
	f := newFixture(t)
	spawns := prespawn.NewReconciler(50, nil)
	resim := NewResimulator(f.registry, f.store, spawns, nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	f.entity.Set(compPos, 0.0)
	for tick := timeline.Tick(100); tick <= 105; tick++ {
		inputs.Capture(tick, 1, []byte{1})
		stepAddInput(StepContext{Tick: tick, World: f.w, Inputs: inputs})
		resim.RecordTick(f.w, tick)
	}

	// A speculative projectile spawned at tick 104, after the divergence.
	proj := f.w.SpawnLocal(world.RolePendingSpawn, []components.ID{compPos}, 104)
	proj.Set(compPos, 0.0)
	spawns.Track(prespawn.Hash(104, []components.ID{compPos}, 1), proj.ID(), 104)

	require.NoError(t, f.engine.Ingest(snapshot(t, 102, 1, 5.0), f.w, 105))
	from, _ := f.engine.Diverged()
	resim.Rollback(f.w, f.engine, inputs, stepAddInput, from, 105)

	// The replay did not re-create it, so it is gone entirely.
	_, exists := f.w.Get(proj.ID())
	assert.False(t, exists)
	assert.Equal(t, 0, spawns.Len())
}

func TestRollbackNoopOnInvertedRange(t *testing.T) {
	f := newFixture(t)
	resim := NewResimulator(f.registry, f.store, prespawn.NewReconciler(50, nil), nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	assert.Nil(t, resim.Rollback(f.w, f.engine, inputs, stepAddInput, 105, 102))
}

func TestRecordTickSkipsInterpolatedEntities(t *testing.T) {
	f := newFixture(t)
	resim := NewResimulator(f.registry, f.store, prespawn.NewReconciler(50, nil), nil)

	remote, err := f.w.Spawn(7, world.RoleInterpolated, []components.ID{compPos}, 100)
	require.NoError(t, err)
	remote.Set(compPos, 1.0)

	resim.RecordTick(f.w, 100)
	_, ok := f.store.Lookup(7, compPos)
	assert.False(t, ok)
}

func BenchmarkRollbackDepth32(b *testing.B) {
	registry := components.NewRegistry()
	_ = registry.Register(compPos, components.Registration{
		Name:    "pos",
		Mode:    components.PredictedCorrected,
		Compare: components.Float64Threshold(components.DefaultThreshold),
		Decode:  components.DecoderFor[float64](),
	})
	store := history.NewStore(64)
	w := world.New()
	e, _ := w.Spawn(1, world.RolePredicted, []components.ID{compPos}, 100)
	engine := NewEngine(registry, store, nil)
	resim := NewResimulator(registry, store, prespawn.NewReconciler(50, nil), nil)
	inputs := input.NewChannel(64, input.RepeatLast)

	e.Set(compPos, 0.0)
	for tick := timeline.Tick(100); tick <= 140; tick++ {
		inputs.Capture(tick, 1, []byte{1})
		stepAddInput(StepContext{Tick: tick, World: w, Inputs: inputs})
		resim.RecordTick(w, tick)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resim.Rollback(w, engine, inputs, stepAddInput, 108, 140)
	}
}

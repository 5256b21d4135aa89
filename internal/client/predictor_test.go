package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/config"
	"github.com/rollsync/rollsync/internal/core/input"
	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/reconcile"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
	"github.com/rollsync/rollsync/internal/server"
)

const compPos components.ID = 1

var testArchetype = []components.ID{compPos}

func newTestRegistry(t *testing.T) *components.Registry {
	t.Helper()
	r := components.NewRegistry()
	require.NoError(t, r.Register(compPos, components.Registration{
		Name:    "pos",
		Mode:    components.PredictedCorrected,
		Compare: components.Float64Threshold(components.DefaultThreshold),
		Correct: components.Snap,
		Decode:  components.DecoderFor[float64](),
	}))
	return r
}

// advanceBy walks each entity forward by its one-byte input payload. The
// same function serves as the server step and the client step.
func advanceBy(tick timeline.Tick, w *world.World, inputs interface {
	InputFor(world.EntityID, timeline.Tick) ([]byte, bool)
}) {
	w.Each(func(e *world.Entity) {
		payload, _ := inputs.InputFor(e.ID(), tick)
		if len(payload) == 0 {
			return
		}
		pos, ok := e.Get(compPos)
		if !ok {
			return
		}
		e.Set(compPos, pos.(float64)+float64(payload[0]))
	})
}

func TestPredictorEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end loop needs wall-clock time")
	}

	cfg := config.Default()
	cfg.Transport = "memory"
	registry := newTestRegistry(t)

	hub := server.NewHub(cfg, registry, nil)
	hub.OnJoin(func(w *world.World, tick timeline.Tick, alloc *world.IDAllocator) world.EntityID {
		id := alloc.Next()
		e, err := w.Spawn(id, world.RoleAuthoritative, testArchetype, tick)
		if err != nil {
			return 0
		}
		e.Set(compPos, 0.0)
		return id
	})
	hub.RegisterStep(func(tick timeline.Tick, w *world.World, inputs *input.Channel) {
		advanceBy(tick, w, inputs)
	})

	transport := protocol.NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Start(ctx, transport) }()

	predictor := New(cfg, registry, nil)
	predictor.RegisterStep(func(stepCtx reconcile.StepContext) {
		advanceBy(stepCtx.Tick, stepCtx.World, stepCtx.Inputs)
	})
	predictor.OnCapture(func(timeline.Tick) []byte {
		return []byte{1}
	})

	require.NoError(t, predictor.Connect(ctx, transport, "memory", "tester"))
	defer func() { _ = predictor.Close() }()

	require.NotZero(t, predictor.LocalEntity())

	// Drive the client at the simulation rate for about a second and a half
	// of real time so the server's own tick loop keeps pace.
	step := time.Second / time.Duration(cfg.TickRate)
	for i := 0; i < 96; i++ {
		time.Sleep(step)
		require.NoError(t, predictor.Advance(step))
	}

	me := predictor.LocalEntity()
	e, ok := predictor.World().Get(me)
	require.True(t, ok, "spawn announce should have created the local entity")
	assert.Equal(t, world.RolePredicted, e.Role())

	// The predicted cube moved, and the authority has been confirming it.
	pos, ok := e.Get(compPos)
	require.True(t, ok)
	assert.Greater(t, pos.(float64), 0.0)

	confirmed, ok := predictor.LastConfirmedTick()
	require.True(t, ok)
	assert.NotZero(t, confirmed)

	// Prediction and authority run the same step with the same inputs, so
	// after the initial join settles there is nothing left diverged.
	assert.False(t, predictor.IsDiverged(me))

	rendered, ok := predictor.RenderValue(me, compPos)
	require.True(t, ok)
	assert.IsType(t, float64(0), rendered)
}

func TestPredictSpawnMatchesAnnounce(t *testing.T) {
	cfg := config.Default()
	registry := newTestRegistry(t)
	p := New(cfg, registry, nil)
	p.RegisterStep(func(reconcile.StepContext) {})

	// Speculative spawn at tick 100 with a deterministic salt.
	salt := uint64(7)
	localID := p.PredictSpawn(100, testArchetype, salt, map[components.ID]any{compPos: 1.5})
	require.True(t, localID.IsLocal())
	_, ok := p.World().Get(localID)
	require.True(t, ok)

	// The authoritative announce for the same logical spawn arrives.
	p.handleSpawn(&protocol.SpawnAnnounce{
		Tick:      100,
		Entity:    42,
		Archetype: []uint32{uint32(compPos)},
		Salt:      salt,
	})

	// The speculative entity adopted the authoritative identity.
	_, ok = p.World().Get(localID)
	assert.False(t, ok)
	adopted, ok := p.World().Get(42)
	require.True(t, ok)
	assert.Equal(t, world.RolePredicted, adopted.Role())
	v, ok := adopted.Get(compPos)
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestUnmatchedAnnounceSpawnsFresh(t *testing.T) {
	cfg := config.Default()
	registry := newTestRegistry(t)
	p := New(cfg, registry, nil)

	data, err := components.EncodeValue(3.0)
	require.NoError(t, err)
	p.handleSpawn(&protocol.SpawnAnnounce{
		Tick:       100,
		Entity:     42,
		Archetype:  []uint32{uint32(compPos)},
		Components: map[uint32][]byte{uint32(compPos): data},
	})

	e, ok := p.World().Get(42)
	require.True(t, ok)
	v, ok := e.Get(compPos)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestOrphanedPredictSpawnExpires(t *testing.T) {
	cfg := config.Default()
	cfg.PrespawnWindow = 10
	registry := newTestRegistry(t)
	p := New(cfg, registry, nil)
	p.RegisterStep(func(reconcile.StepContext) {})
	p.tl.Seek(100)

	localID := p.PredictSpawn(100, testArchetype, 1, nil)
	_, ok := p.World().Get(localID)
	require.True(t, ok)

	// No announce ever arrives; past the window the orphan is despawned.
	for i := 0; i < 12; i++ {
		p.runTick()
	}
	_, ok = p.World().Get(localID)
	assert.False(t, ok)
}

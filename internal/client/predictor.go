package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/config"
	"github.com/rollsync/rollsync/internal/core/history"
	"github.com/rollsync/rollsync/internal/core/input"
	"github.com/rollsync/rollsync/internal/core/interp"
	"github.com/rollsync/rollsync/internal/core/observability/log"
	"github.com/rollsync/rollsync/internal/core/prespawn"
	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/reconcile"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// CaptureFunc samples the local input device state for one tick. nil result
// means "no input this tick".
type CaptureFunc func(tick timeline.Tick) []byte

// ResyncFunc receives forced-resync events, the only failures the core
// surfaces to the gameplay layer.
type ResyncFunc func(events []reconcile.ResyncEvent)

// Predictor is the predicting peer. It runs the client's fixed-step loop:
// drain the network, reconcile and maybe roll back, capture input, step,
// record history, flush. All simulation state is owned by the single
// goroutine that calls Advance.
type Predictor struct {
	cfg      config.Config
	lg       *log.Logger
	registry *components.Registry

	tl        *timeline.Timeline
	w         *world.World
	store     *history.Store
	inputs    *input.Channel
	engine    *reconcile.Engine
	resim     *reconcile.Resimulator
	spawns    *prespawn.Reconciler
	corrector *interp.Corrector
	remote    *interp.SnapshotBuffer

	step     reconcile.StepFunc
	capture  CaptureFunc
	onResync ResyncFunc

	conn        protocol.Connection
	incoming    chan any
	localEntity world.EntityID
	token       string
	joined      bool
}

func New(cfg config.Config, registry *components.Registry, lg *log.Logger) *Predictor {
	if lg == nil {
		lg = log.Nop()
	}
	lg = lg.With(zap.String("role", "client"))

	policy := input.RepeatLast
	if cfg.MissingInputPolicy == "blank" {
		policy = input.Blank
	}
	store := history.NewStore(cfg.HistoryCapacity)
	spawns := prespawn.NewReconciler(cfg.PrespawnWindow, lg)

	return &Predictor{
		cfg:       cfg,
		lg:        lg,
		registry:  registry,
		tl:        timeline.New(timeline.RoleClient, cfg.TickRate),
		w:         world.New(),
		store:     store,
		inputs:    input.NewChannel(cfg.HistoryCapacity*2, policy),
		engine:    reconcile.NewEngine(registry, store, lg),
		resim:     reconcile.NewResimulator(registry, store, spawns, lg),
		spawns:    spawns,
		corrector: interp.NewCorrector(registry, cfg.CorrectionSeconds),
		remote:    interp.NewSnapshotBuffer(registry, cfg.InterpolationDelayTicks),
		incoming:  make(chan any, 1024),
	}
}

// RegisterStep installs the deterministic simulation step. It runs
// identically during forward simulation and resimulation.
func (p *Predictor) RegisterStep(step reconcile.StepFunc) {
	p.step = step
}

// OnCapture installs the local input sampler.
func (p *Predictor) OnCapture(capture CaptureFunc) {
	p.capture = capture
}

// OnResync installs the forced-resync listener.
func (p *Predictor) OnResync(fn ResyncFunc) {
	p.onResync = fn
}

func (p *Predictor) World() *world.World {
	return p.w
}

func (p *Predictor) CurrentTick() timeline.Tick {
	return p.tl.CurrentTick()
}

func (p *Predictor) LocalEntity() world.EntityID {
	return p.localEntity
}

// Connect dials the server, runs the join handshake, and starts the read
// pump. The pump only moves frames into the incoming queue; they are
// processed at the start of each tick, never mid-step.
func (p *Predictor) Connect(ctx context.Context, transport protocol.Transport, address, name string) error {
	conn, err := transport.Dial(ctx, address)
	if err != nil {
		return err
	}
	p.conn = conn

	join, err := protocol.Encode(&protocol.JoinRequest{Name: name, Token: p.token})
	if err != nil {
		return err
	}
	if err = conn.Send(join); err != nil {
		return err
	}

	data, err := conn.Receive()
	if err != nil {
		return err
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	accept, ok := msg.(*protocol.JoinAccept)
	if !ok {
		return errUnexpectedHandshake
	}

	p.token = accept.Token
	p.localEntity = accept.Entity
	p.tl.Seek(accept.Tick)
	p.joined = true
	p.lg.Info("joined",
		zap.Uint64("entity", uint64(accept.Entity)),
		zap.Uint32("tick", uint32(accept.Tick)),
	)

	go p.readPump()
	return nil
}

func (p *Predictor) readPump() {
	for {
		data, err := p.conn.Receive()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			p.lg.Debug("undecodable frame", zap.Error(err))
			continue
		}
		select {
		case p.incoming <- msg:
		default:
			p.lg.Warn("incoming queue full, frame dropped")
		}
	}
}

// Advance feeds elapsed render time into the loop, running however many
// fixed steps are due, then advances the visual correction blends.
func (p *Predictor) Advance(elapsed time.Duration) error {
	if p.step == nil {
		return errNoStep
	}
	steps := p.tl.Advance(elapsed)
	for i := 0; i < steps; i++ {
		p.runTick()
	}
	p.corrector.Update(elapsed.Seconds())
	return nil
}

// runTick is one full client tick.
func (p *Predictor) runTick() {
	tick := p.tl.Step()

	p.drainNetwork(tick)

	if from, diverged := p.engine.Diverged(); diverged {
		last := tick.Add(-1)
		corrections := p.resim.Rollback(p.w, p.engine, p.inputs, p.step, from, last)
		p.corrector.Apply(corrections)
	}

	for _, orphan := range p.spawns.Expire(tick) {
		p.despawnLocal(orphan)
		p.lg.Debug("orphaned speculative spawn despawned", zap.Uint64("entity", uint64(orphan)))
	}

	if p.capture != nil && p.joined {
		if payload := p.capture(tick); payload != nil {
			p.inputs.Capture(tick, p.localEntity, payload)
		}
	}

	p.step(reconcile.StepContext{Tick: tick, World: p.w, Inputs: p.inputs})
	p.resim.RecordTick(p.w, tick)

	p.flushOutgoing()
	p.deliverResyncs()

	if confirmed, ok := p.engine.LastConfirmedTick(); ok {
		p.inputs.Truncate(confirmed.Add(-int32(p.cfg.HistoryCapacity)))
	}
}

func (p *Predictor) drainNetwork(current timeline.Tick) {
	for {
		select {
		case msg := <-p.incoming:
			p.dispatch(msg, current)
		default:
			return
		}
	}
}

func (p *Predictor) dispatch(msg any, current timeline.Tick) {
	switch m := msg.(type) {
	case *protocol.SpawnAnnounce:
		p.handleSpawn(m)
	case *protocol.DespawnAnnounce:
		p.handleDespawn(m)
	case *protocol.SnapshotMessage:
		p.handleSnapshot(m, current)
	case *protocol.InputMessage:
		// Rebroadcast input from another client; feeds prediction of its
		// entity.
		p.inputs.Receive(*m)
	default:
		p.lg.Debug("unexpected message kind")
	}
}

// handleSpawn matches an authoritative spawn against the pending table
// before creating anything, so a predicted spawn and its confirmation
// resolve to a single entity.
func (p *Predictor) handleSpawn(msg *protocol.SpawnAnnounce) {
	if _, exists := p.w.Get(msg.Entity); exists {
		return
	}

	archetype := make([]components.ID, 0, len(msg.Archetype))
	for _, id := range msg.Archetype {
		archetype = append(archetype, components.ID(id))
	}

	hash := prespawn.Hash(msg.Tick, archetype, msg.Salt)
	if localID, matched := p.spawns.Match(hash); matched {
		if err := p.w.Remap(localID, msg.Entity); err == nil {
			p.store.Remap(localID, msg.Entity)
			p.engine.RemapEntity(localID, msg.Entity)
			if e, ok := p.w.Get(msg.Entity); ok {
				e.SetRole(world.RolePredicted)
			}
			p.lg.Debug("pending spawn matched",
				zap.Uint64("hash", hash),
				zap.Uint64("entity", uint64(msg.Entity)),
			)
			return
		}
		// Remap can only fail if the local entity vanished; fall through
		// and spawn normally.
	}

	role := p.roleFor(msg.Entity)
	e, err := p.w.Spawn(msg.Entity, role, archetype, msg.Tick)
	if err != nil {
		p.lg.Warn("spawn failed", zap.Error(err))
		return
	}
	for _, compID := range archetype {
		payload, ok := msg.Components[uint32(compID)]
		if !ok {
			continue
		}
		reg, known := p.registry.Lookup(compID)
		if !known || reg.Decode == nil {
			continue
		}
		value, err := reg.Decode(payload)
		if err != nil {
			continue
		}
		e.Set(compID, value)
	}
}

// roleFor decides how this peer treats a newly announced entity. The local
// entity is always predicted; remote entities are predicted too when input
// rebroadcast supplies their inputs, otherwise they are only interpolated.
func (p *Predictor) roleFor(id world.EntityID) world.Role {
	if id == p.localEntity {
		return world.RolePredicted
	}
	if p.cfg.RebroadcastInputs {
		return world.RolePredicted
	}
	return world.RoleInterpolated
}

func (p *Predictor) handleDespawn(msg *protocol.DespawnAnnounce) {
	p.despawnLocal(msg.Entity)
}

func (p *Predictor) despawnLocal(id world.EntityID) {
	if !p.w.Despawn(id) {
		return
	}
	p.store.Drop(id)
	p.engine.DropEntity(id)
	p.corrector.Drop(id)
	p.remote.Drop(id)
	p.inputs.Drop(id)
}

func (p *Predictor) handleSnapshot(msg *protocol.SnapshotMessage, current timeline.Tick) {
	e, ok := p.w.Get(msg.Entity)
	if !ok {
		return
	}
	if e.Role() == world.RoleInterpolated {
		for compID, payload := range msg.Components {
			reg, known := p.registry.Lookup(components.ID(compID))
			if !known || reg.Decode == nil {
				continue
			}
			value, err := reg.Decode(payload)
			if err != nil {
				continue
			}
			p.remote.Push(msg.Entity, components.ID(compID), msg.Tick, value)
		}
		return
	}
	if err := p.engine.Ingest(msg, p.w, current); err != nil {
		p.lg.Warn("snapshot ingest failed", zap.Error(err))
	}
}

func (p *Predictor) flushOutgoing() {
	if p.conn == nil {
		return
	}
	for _, msg := range p.inputs.Flush() {
		data, err := protocol.Encode(&msg)
		if err != nil {
			continue
		}
		_ = p.conn.Send(data)
	}
}

func (p *Predictor) deliverResyncs() {
	events := p.engine.DrainResyncs()
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		p.corrector.Snap(ev.Entity)
	}
	if p.onResync != nil {
		p.onResync(events)
	}
}

// PredictSpawn creates a speculative entity ahead of authority confirmation.
// The salt must make this spawn unique among same-tick, same-archetype
// spawns; prespawn.ComposeSalt and prespawn.DerivedSalt build conventional
// ones. Returns the provisional local entity ID.
func (p *Predictor) PredictSpawn(tick timeline.Tick, archetype []components.ID, salt uint64, values map[components.ID]any) world.EntityID {
	e := p.w.SpawnLocal(world.RolePendingSpawn, archetype, tick)
	for compID, v := range values {
		e.Set(compID, v)
	}
	hash := prespawn.Hash(tick, archetype, salt)
	if displaced, collision := p.spawns.Track(hash, e.ID(), tick); collision {
		p.despawnLocal(displaced)
	}
	return e.ID()
}

// IsDiverged reports whether any component of the entity currently disagrees
// with the authority.
func (p *Predictor) IsDiverged(id world.EntityID) bool {
	return p.engine.IsDiverged(id)
}

// LastConfirmedTick is the newest authoritative tick seen so far.
func (p *Predictor) LastConfirmedTick() (timeline.Tick, bool) {
	return p.engine.LastConfirmedTick()
}

// RenderValue returns what the render layer should draw for a component
// this frame: corrected-blend values for predicted entities, time-delayed
// interpolation for remote ones, raw simulation values otherwise.
func (p *Predictor) RenderValue(id world.EntityID, component components.ID) (any, bool) {
	e, ok := p.w.Get(id)
	if !ok {
		return nil, false
	}
	if e.Role() == world.RoleInterpolated {
		return p.remote.ValueAt(id, component, p.remote.RenderTick(p.tl.CurrentTick()))
	}
	value, ok := e.Get(component)
	if !ok {
		return nil, false
	}
	return p.corrector.RenderValue(id, component, value), true
}

// Close tears down the connection.
func (p *Predictor) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

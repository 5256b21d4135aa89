package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/config"
	"github.com/rollsync/rollsync/internal/core/input"
	"github.com/rollsync/rollsync/internal/core/observability/log"
	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// JoinHandler spawns the entity a newly joined client will control and
// returns its ID. It runs with the hub lock held, serialized against the
// tick loop.
type JoinHandler func(w *world.World, tick timeline.Tick, alloc *world.IDAllocator) world.EntityID

// StepFunc is the authoritative simulation step. It receives the server's
// input channel directly; the server never resimulates, so it does not need
// the rollback-aware step contract the client uses.
type StepFunc func(tick timeline.Tick, w *world.World, inputs *input.Channel)

// Hub is the authoritative peer. It owns the server timeline and world,
// drains client inputs at the start of each tick, steps the registered
// simulation once per tick, and broadcasts authoritative snapshots at the
// end. Network I/O never happens mid-step.
type Hub struct {
	cfg      config.Config
	lg       *log.Logger
	registry *components.Registry

	tl     *timeline.Timeline
	w      *world.World
	inputs *input.Channel
	alloc  world.IDAllocator

	step   StepFunc
	onJoin JoinHandler
	jwtKey []byte

	mu       sync.Mutex
	sessions map[string]*Session
	inbox    []inbound

	announceQueue []any // SpawnAnnounce / DespawnAnnounce awaiting broadcast
}

type inbound struct {
	session *Session
	msg     *protocol.InputMessage
}

func NewHub(cfg config.Config, registry *components.Registry, lg *log.Logger) *Hub {
	if lg == nil {
		lg = log.Nop()
	}
	policy := input.RepeatLast
	if cfg.MissingInputPolicy == "blank" {
		policy = input.Blank
	}
	return &Hub{
		cfg:      cfg,
		lg:       lg.With(zap.String("role", "server")),
		registry: registry,
		tl:       timeline.New(timeline.RoleServer, cfg.TickRate),
		w:        world.New(),
		inputs:   input.NewChannel(cfg.HistoryCapacity*2, policy),
		jwtKey:   signingKey(cfg.JWTSecret),
		sessions: make(map[string]*Session),
	}
}

// RegisterStep installs the deterministic simulation step.
func (h *Hub) RegisterStep(step StepFunc) {
	h.step = step
}

// OnJoin installs the handler that spawns joining clients' entities.
func (h *Hub) OnJoin(handler JoinHandler) {
	h.onJoin = handler
}

// World exposes the authoritative world to the gameplay layer. Only touch
// it from the step function or join handler.
func (h *Hub) World() *world.World {
	return h.w
}

func (h *Hub) CurrentTick() timeline.Tick {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tl.CurrentTick()
}

// Start runs the accept loop and the tick loop until the context ends.
func (h *Hub) Start(ctx context.Context, transport protocol.Transport) error {
	if h.step == nil {
		return errNoStep
	}
	if err := transport.Listen(ctx, h.cfg.ListenAddr); err != nil {
		return err
	}
	h.lg.Info("listening",
		zap.String("addr", h.cfg.ListenAddr),
		zap.String("transport", h.cfg.Transport),
		zap.Int("tick_rate", h.cfg.TickRate),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return h.acceptLoop(ctx, transport) })
	group.Go(func() error { return h.tickLoop(ctx) })
	return group.Wait()
}

func (h *Hub) acceptLoop(ctx context.Context, transport protocol.Transport) error {
	for {
		conn, err := transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		session := newSession(conn, h.cfg.InputRatePerSecond, h.cfg.InputBurst)
		go h.serve(ctx, session)
	}
}

// serve reads one session's messages. Join handling and input queueing are
// the only things a client can ask of the server.
func (h *Hub) serve(ctx context.Context, session *Session) {
	defer h.dropSession(session)
	for {
		data, err := session.conn.Receive()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			h.lg.Debug("undecodable frame", zap.String("session", session.id), zap.Error(err))
			continue
		}
		switch m := msg.(type) {
		case *protocol.JoinRequest:
			h.handleJoin(session, m)
		case *protocol.InputMessage:
			if !session.authed || m.Entity != session.entity {
				continue
			}
			if !session.limiter.Allow() {
				h.lg.Warn("input rate limit exceeded", zap.String("session", session.id))
				continue
			}
			h.mu.Lock()
			h.inbox = append(h.inbox, inbound{session: session, msg: m})
			h.mu.Unlock()
		default:
			h.lg.Debug("unexpected message from client", zap.String("session", session.id))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (h *Hub) handleJoin(session *Session, req *protocol.JoinRequest) {
	if req.Token != "" {
		if _, entity, err := verifySessionToken(h.jwtKey, req.Token); err == nil {
			h.mu.Lock()
			session.entity = world.EntityID(entity)
			session.authed = true
			h.sessions[session.id] = session
			tick := h.tl.CurrentTick()
			h.mu.Unlock()
			session.send(&protocol.JoinAccept{
				Token:    req.Token,
				Entity:   session.entity,
				Tick:     tick,
				TickRate: h.cfg.TickRate,
			})
			h.sendWorldState(session)
			return
		}
		h.lg.Warn("stale session token rejected", zap.String("session", session.id))
	}

	h.mu.Lock()
	tick := h.tl.CurrentTick()
	var entity world.EntityID
	if h.onJoin != nil {
		entity = h.onJoin(h.w, tick, &h.alloc)
		if e, ok := h.w.Get(entity); ok {
			h.queueSpawnAnnounceLocked(e, tick, 0)
		}
	}
	session.entity = entity
	session.authed = true
	h.sessions[session.id] = session
	h.mu.Unlock()

	token, err := issueSessionToken(h.jwtKey, session.id, uint64(entity))
	if err != nil {
		h.lg.Error("issue session token", zap.Error(err))
		return
	}
	session.send(&protocol.JoinAccept{
		Token:    token,
		Entity:   entity,
		Tick:     tick,
		TickRate: h.cfg.TickRate,
	})
	h.sendWorldState(session)
	h.lg.Info("client joined",
		zap.String("session", session.id),
		zap.Uint64("entity", uint64(entity)),
	)
}

// sendWorldState replays the current entity population to a fresh session as
// spawn announces, so it does not have to wait for organic snapshots.
func (h *Hub) sendWorldState(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tick := h.tl.CurrentTick()
	h.w.Each(func(e *world.Entity) {
		announce, err := h.buildSpawnAnnounce(e, tick, 0)
		if err != nil {
			return
		}
		session.send(announce)
	})
}

func (h *Hub) dropSession(session *Session) {
	h.mu.Lock()
	delete(h.sessions, session.id)
	h.mu.Unlock()
	_ = session.conn.Close()
	h.lg.Info("client left", zap.String("session", session.id))
}

func (h *Hub) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(h.tl.TickDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.runTick()
		}
	}
}

// runTick is one full server tick: drain, step, broadcast. Simulation state
// is touched only under the hub lock, which also serializes join handling.
func (h *Hub) runTick() {
	h.mu.Lock()
	pending := h.inbox
	h.inbox = nil
	h.mu.Unlock()

	for _, in := range pending {
		h.inputs.Receive(*in.msg)
		if h.cfg.RebroadcastInputs {
			h.broadcastExcept(in.session.id, in.msg)
		}
	}

	h.mu.Lock()
	tick := h.tl.Step()
	h.step(tick, h.w, h.inputs)

	frames := h.encodeSnapshotsLocked(tick)
	for _, msg := range h.announceQueue {
		if data, err := protocol.Encode(msg); err == nil {
			frames = append(frames, data)
		}
	}
	h.announceQueue = nil
	sessions := h.sessionListLocked()
	h.mu.Unlock()

	for _, s := range sessions {
		for _, f := range frames {
			_ = s.conn.Send(f)
		}
	}

	keep := int32(h.cfg.HistoryCapacity * 2)
	h.inputs.Truncate(tick.Add(-keep))
}

func (h *Hub) encodeSnapshotsLocked(tick timeline.Tick) [][]byte {
	var frames [][]byte
	h.w.Each(func(e *world.Entity) {
		msg := &protocol.SnapshotMessage{
			Tick:       tick,
			Entity:     e.ID(),
			Components: make(map[uint32][]byte),
		}
		for _, compID := range e.Archetype() {
			reg, known := h.registry.Lookup(compID)
			if !known {
				continue
			}
			value, ok := e.Get(compID)
			if !ok {
				continue
			}
			payload, err := reg.Encode(value)
			if err != nil {
				h.lg.Warn("snapshot encode failed",
					zap.String("component", reg.Name), zap.Error(err))
				continue
			}
			msg.Components[uint32(compID)] = payload
		}
		if len(msg.Components) == 0 {
			return
		}
		data, err := protocol.Encode(msg)
		if err != nil {
			return
		}
		frames = append(frames, data)
	})
	return frames
}

func (h *Hub) sessionListLocked() []*Session {
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (h *Hub) broadcastExcept(excludeID string, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		if id == excludeID {
			continue
		}
		_ = s.conn.Send(data)
	}
}

// SpawnEntity creates an authoritative entity mid-simulation and announces
// it with the given salt. Call only from the step function or a join
// handler; both already run under the hub lock.
func (h *Hub) SpawnEntity(tick timeline.Tick, archetype []components.ID, salt uint64, values map[components.ID]any) (world.EntityID, error) {
	id := h.alloc.Next()
	e, err := h.w.Spawn(id, world.RoleAuthoritative, archetype, tick)
	if err != nil {
		return 0, err
	}
	for compID, v := range values {
		e.Set(compID, v)
	}
	h.queueSpawnAnnounceLocked(e, tick, salt)
	return id, nil
}

// DespawnEntity removes an authoritative entity and announces the despawn.
// Same calling contract as SpawnEntity.
func (h *Hub) DespawnEntity(tick timeline.Tick, id world.EntityID) {
	if !h.w.Despawn(id) {
		return
	}
	h.inputs.Drop(id)
	h.announceQueue = append(h.announceQueue, &protocol.DespawnAnnounce{Tick: tick, Entity: id})
}

func (h *Hub) queueSpawnAnnounceLocked(e *world.Entity, tick timeline.Tick, salt uint64) {
	announce, err := h.buildSpawnAnnounce(e, tick, salt)
	if err != nil {
		h.lg.Warn("spawn announce build failed", zap.Error(err))
		return
	}
	h.announceQueue = append(h.announceQueue, announce)
}

func (h *Hub) buildSpawnAnnounce(e *world.Entity, tick timeline.Tick, salt uint64) (*protocol.SpawnAnnounce, error) {
	announce := &protocol.SpawnAnnounce{
		Tick:       tick,
		Entity:     e.ID(),
		Salt:       salt,
		Components: make(map[uint32][]byte),
	}
	for _, compID := range e.Archetype() {
		announce.Archetype = append(announce.Archetype, uint32(compID))
		reg, known := h.registry.Lookup(compID)
		if !known {
			continue
		}
		value, ok := e.Get(compID)
		if !ok {
			continue
		}
		payload, err := reg.Encode(value)
		if err != nil {
			return nil, err
		}
		announce.Components[uint32(compID)] = payload
	}
	return announce, nil
}


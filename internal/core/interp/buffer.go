package interp

import (
	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/history"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
	"github.com/rollsync/rollsync/pkg/sequence"
)

// DefaultDelayTicks is how far behind the newest snapshot interpolated
// entities are rendered, leaving room for one snapshot's worth of jitter.
const DefaultDelayTicks = 4

// SnapshotBuffer renders remote entities the client does not simulate. It
// holds a short run of authoritative snapshots per entity/component and
// renders a time-delayed point between two of them, so motion stays smooth
// across irregular snapshot arrival.
type SnapshotBuffer struct {
	registry *components.Registry
	delay    int32
	buffers  map[history.Key]*sequence.Ring[history.Entry]
	capacity int
}

func NewSnapshotBuffer(registry *components.Registry, delayTicks int) *SnapshotBuffer {
	if delayTicks <= 0 {
		delayTicks = DefaultDelayTicks
	}
	return &SnapshotBuffer{
		registry: registry,
		delay:    int32(delayTicks),
		buffers:  make(map[history.Key]*sequence.Ring[history.Entry]),
		capacity: delayTicks * 4,
	}
}

// Push stores an authoritative value for an interpolated entity. Snapshots
// arriving out of order behind the newest entry are dropped; interpolation
// only ever reads forward.
func (s *SnapshotBuffer) Push(entity world.EntityID, component components.ID, tick timeline.Tick, value any) {
	key := history.Key{Entity: entity, Component: component}
	ring, ok := s.buffers[key]
	if !ok {
		ring = sequence.NewRing[history.Entry](s.capacity)
		s.buffers[key] = ring
	}
	if newest, has := ring.Back(); has && !tick.After(newest.Tick) {
		return
	}
	ring.PushBack(history.Entry{Tick: tick, Value: value})
}

// ValueAt returns the rendered value for the given render tick (the current
// tick minus the configured delay). With only one snapshot buffered it
// returns that snapshot; with none it reports false. Tick positions are
// compared through wrap-safe deltas against the newest buffered snapshot, so
// the window stays ordered across the tick counter wrap.
func (s *SnapshotBuffer) ValueAt(entity world.EntityID, component components.ID, renderTick timeline.Tick) (any, bool) {
	ring, ok := s.buffers[history.Key{Entity: entity, Component: component}]
	if !ok || ring.Len() == 0 {
		return nil, false
	}

	reg, known := s.registry.Lookup(component)
	if !known {
		return nil, false
	}

	newest, _ := ring.Back()
	renderPos := float64(timeline.Delta(renderTick, newest.Tick))

	for i := 0; i < ring.Len()-1; i++ {
		prev, _ := ring.At(i)
		next, _ := ring.At(i + 1)
		p := float64(timeline.Delta(prev.Tick, newest.Tick))
		n := float64(timeline.Delta(next.Tick, newest.Tick))
		if p <= renderPos && renderPos <= n {
			span := n - p
			if span <= 0 {
				return next.Value, true
			}
			t := (renderPos - p) / span
			return reg.Lerp(prev.Value, next.Value, t), true
		}
	}

	// Render time is outside the buffered window; hold the nearest edge
	// rather than extrapolating.
	if renderPos > 0 {
		return newest.Value, true
	}
	oldest, _ := ring.Front()
	return oldest.Value, true
}

// RenderTick converts the current local tick into the delayed render tick.
func (s *SnapshotBuffer) RenderTick(current timeline.Tick) timeline.Tick {
	return current.Add(-s.delay)
}

// Drop removes all buffered snapshots for an entity.
func (s *SnapshotBuffer) Drop(entity world.EntityID) {
	for key := range s.buffers {
		if key.Entity == entity {
			delete(s.buffers, key)
		}
	}
}

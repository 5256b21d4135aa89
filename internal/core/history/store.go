package history

import (
	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// Key addresses one entity/component history buffer.
type Key struct {
	Entity    world.EntityID
	Component components.ID
}

// Store owns the history buffers of a predicting peer. Buffers are created
// lazily on first record and dropped when their entity despawns. Only the
// simulation step and the resimulator touch it, both on the peer's single
// simulation goroutine, so there is no locking.
type Store struct {
	buffers  map[Key]*Buffer
	capacity int
}

func NewStore(capacityTicks int) *Store {
	if capacityTicks <= 0 {
		capacityTicks = 64
	}
	return &Store{
		buffers:  make(map[Key]*Buffer),
		capacity: capacityTicks,
	}
}

// Buffer returns the buffer for a pair, creating it if needed.
func (s *Store) Buffer(entity world.EntityID, component components.ID) *Buffer {
	key := Key{Entity: entity, Component: component}
	b, ok := s.buffers[key]
	if !ok {
		b = NewBuffer(s.capacity)
		s.buffers[key] = b
	}
	return b
}

// Lookup returns the buffer for a pair without creating it.
func (s *Store) Lookup(entity world.EntityID, component components.ID) (*Buffer, bool) {
	b, ok := s.buffers[Key{Entity: entity, Component: component}]
	return b, ok
}

// Drop removes every buffer belonging to an entity.
func (s *Store) Drop(entity world.EntityID) {
	for key := range s.buffers {
		if key.Entity == entity {
			delete(s.buffers, key)
		}
	}
}

// Remap moves an entity's buffers onto a new entity ID, preserving recorded
// history across a spawn-reconciliation identity adoption.
func (s *Store) Remap(oldID, newID world.EntityID) {
	for key, b := range s.buffers {
		if key.Entity == oldID {
			delete(s.buffers, key)
			s.buffers[Key{Entity: newID, Component: key.Component}] = b
		}
	}
}

// TruncateBefore trims every buffer to ticks at or after the given tick.
func (s *Store) TruncateBefore(tick timeline.Tick) {
	for _, b := range s.buffers {
		b.TruncateBefore(tick)
	}
}

func (s *Store) Capacity() int {
	return s.capacity
}

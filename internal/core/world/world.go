package world

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/timeline"
)

// World is the peer-scoped entity container. Each peer owns exactly one; it
// is passed explicitly into the simulation step, never shared between peers
// or reached through package globals. All iteration is in ascending entity-ID
// order so a replayed tick visits entities in the same order as the original
// run.
type World struct {
	entities  map[EntityID]*Entity
	order     []EntityID
	nextLocal EntityID
}

func New() *World {
	return &World{
		entities:  make(map[EntityID]*Entity),
		nextLocal: localIDBit,
	}
}

// Spawn creates an entity with a known (authority-assigned) ID.
func (w *World) Spawn(id EntityID, role Role, archetype []components.ID, tick timeline.Tick) (*Entity, error) {
	if _, exists := w.entities[id]; exists {
		return nil, errors.Errorf("entity %d already exists", id)
	}
	e := newEntity(id, role, archetype, tick)
	w.entities[id] = e
	w.insert(id)
	return e, nil
}

// SpawnLocal creates a speculative entity with an ID from the local range.
func (w *World) SpawnLocal(role Role, archetype []components.ID, tick timeline.Tick) *Entity {
	w.nextLocal++
	e := newEntity(w.nextLocal, role, archetype, tick)
	w.entities[e.id] = e
	w.insert(e.id)
	return e
}

func (w *World) Despawn(id EntityID) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	w.remove(id)
	return true
}

func (w *World) Get(id EntityID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

func (w *World) Len() int {
	return len(w.entities)
}

// Remap moves an entity onto a new identity, keeping its components and
// role. Used when a pending spawn is matched to the authoritative entity.
func (w *World) Remap(oldID, newID EntityID) error {
	e, ok := w.entities[oldID]
	if !ok {
		return errors.Errorf("remap: entity %d not found", oldID)
	}
	if _, taken := w.entities[newID]; taken {
		return errors.Errorf("remap: entity %d already exists", newID)
	}
	delete(w.entities, oldID)
	w.remove(oldID)
	e.id = newID
	w.entities[newID] = e
	w.insert(newID)
	return nil
}

// Each visits every entity in ascending ID order. The visitor must not spawn
// or despawn during iteration; the simulation step collects those into
// deferred commands instead.
func (w *World) Each(fn func(*Entity)) {
	for _, id := range w.order {
		fn(w.entities[id])
	}
}

// EachWithRole visits entities holding the given role, in ascending ID order.
func (w *World) EachWithRole(role Role, fn func(*Entity)) {
	for _, id := range w.order {
		if e := w.entities[id]; e.role == role {
			fn(e)
		}
	}
}

func (w *World) insert(id EntityID) {
	i := sort.Search(len(w.order), func(i int) bool { return w.order[i] >= id })
	w.order = append(w.order, 0)
	copy(w.order[i+1:], w.order[i:])
	w.order[i] = id
}

func (w *World) remove(id EntityID) {
	i := sort.Search(len(w.order), func(i int) bool { return w.order[i] >= id })
	if i < len(w.order) && w.order[i] == id {
		w.order = append(w.order[:i], w.order[i+1:]...)
	}
}

// IDAllocator hands out authoritative entity IDs on the server.
type IDAllocator struct {
	next EntityID
}

func (a *IDAllocator) Next() EntityID {
	a.next++
	return a.next
}

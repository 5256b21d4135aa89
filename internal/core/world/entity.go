package world

import (
	"sort"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/timeline"
)

// EntityID identifies an entity. Authority-assigned IDs come from the
// server's allocator; speculative local spawns use the high-bit local range
// until the spawn reconciler remaps them onto the authoritative identity.
type EntityID uint64

// localIDBit marks client-local speculative IDs. The two ranges never
// overlap, so a remap can never collide with a server assignment.
const localIDBit EntityID = 1 << 63

// IsLocal reports whether the ID lives in the speculative local range.
func (id EntityID) IsLocal() bool {
	return id&localIDBit != 0
}

// Role describes how a peer treats an entity.
type Role uint8

const (
	// RoleAuthoritative entities are server-owned ground truth.
	RoleAuthoritative Role = iota
	// RolePredicted entities are the client's locally simulated copies,
	// backed by confirmed state held in the reconciliation engine.
	RolePredicted
	// RoleInterpolated entities are remote copies the client only smooths,
	// never simulates.
	RoleInterpolated
	// RolePendingSpawn entities were spawned speculatively and await an
	// authoritative match.
	RolePendingSpawn
)

func (r Role) String() string {
	switch r {
	case RoleAuthoritative:
		return "authoritative"
	case RolePredicted:
		return "predicted"
	case RoleInterpolated:
		return "interpolated"
	case RolePendingSpawn:
		return "pending-spawn"
	default:
		return "unknown"
	}
}

// Entity is one simulated object: an identity, a role, a sorted archetype
// and the current component values.
type Entity struct {
	id        EntityID
	role      Role
	archetype []components.ID
	values    map[components.ID]any
	spawnedAt timeline.Tick
}

func newEntity(id EntityID, role Role, archetype []components.ID, spawnedAt timeline.Tick) *Entity {
	sorted := make([]components.ID, len(archetype))
	copy(sorted, archetype)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &Entity{
		id:        id,
		role:      role,
		archetype: sorted,
		values:    make(map[components.ID]any, len(sorted)),
		spawnedAt: spawnedAt,
	}
}

func (e *Entity) ID() EntityID {
	return e.id
}

func (e *Entity) Role() Role {
	return e.role
}

func (e *Entity) SetRole(r Role) {
	e.role = r
}

// Archetype returns the sorted component IDs. Callers must not mutate it.
func (e *Entity) Archetype() []components.ID {
	return e.archetype
}

func (e *Entity) Has(id components.ID) bool {
	i := sort.Search(len(e.archetype), func(i int) bool { return e.archetype[i] >= id })
	return i < len(e.archetype) && e.archetype[i] == id
}

func (e *Entity) Get(id components.ID) (any, bool) {
	v, ok := e.values[id]
	return v, ok
}

// Set stores a component value. IDs outside the archetype are ignored; the
// archetype is fixed at spawn and is part of the entity's wire identity.
func (e *Entity) Set(id components.ID, v any) {
	if !e.Has(id) {
		return
	}
	e.values[id] = v
}

func (e *Entity) SpawnedAt() timeline.Tick {
	return e.spawnedAt
}

package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollsync/rollsync/internal/core/components"
)

var testArchetype = []components.ID{1, 2}

func TestSpawnRejectsDuplicateID(t *testing.T) {
	w := New()
	_, err := w.Spawn(5, RoleAuthoritative, testArchetype, 1)
	require.NoError(t, err)
	_, err = w.Spawn(5, RoleAuthoritative, testArchetype, 1)
	assert.Error(t, err)
}

func TestSpawnLocalUsesLocalRange(t *testing.T) {
	w := New()
	e := w.SpawnLocal(RolePendingSpawn, testArchetype, 10)
	assert.True(t, e.ID().IsLocal())
	assert.Equal(t, RolePendingSpawn, e.Role())

	other := w.SpawnLocal(RolePendingSpawn, testArchetype, 10)
	assert.NotEqual(t, e.ID(), other.ID())
}

func TestEachVisitsInAscendingOrder(t *testing.T) {
	w := New()
	for _, id := range []EntityID{30, 10, 20} {
		_, err := w.Spawn(id, RolePredicted, testArchetype, 1)
		require.NoError(t, err)
	}

	var visited []EntityID
	w.Each(func(e *Entity) { visited = append(visited, e.ID()) })
	assert.Equal(t, []EntityID{10, 20, 30}, visited)
}

func TestRemapKeepsComponents(t *testing.T) {
	w := New()
	e := w.SpawnLocal(RolePendingSpawn, testArchetype, 10)
	e.Set(1, "payload")
	localID := e.ID()

	require.NoError(t, w.Remap(localID, 42))

	_, ok := w.Get(localID)
	assert.False(t, ok)
	adopted, ok := w.Get(42)
	require.True(t, ok)
	assert.Equal(t, EntityID(42), adopted.ID())
	v, ok := adopted.Get(1)
	require.True(t, ok)
	assert.Equal(t, "payload", v)
}

func TestRemapErrors(t *testing.T) {
	w := New()
	_, err := w.Spawn(1, RoleAuthoritative, testArchetype, 1)
	require.NoError(t, err)

	assert.Error(t, w.Remap(99, 100))
	// Target already taken.
	e := w.SpawnLocal(RolePendingSpawn, testArchetype, 1)
	assert.Error(t, w.Remap(e.ID(), 1))
}

func TestDespawn(t *testing.T) {
	w := New()
	_, err := w.Spawn(1, RoleAuthoritative, testArchetype, 1)
	require.NoError(t, err)

	assert.True(t, w.Despawn(1))
	assert.False(t, w.Despawn(1))
	assert.Equal(t, 0, w.Len())
}

func TestEntitySetRejectsOutsideArchetype(t *testing.T) {
	w := New()
	e, err := w.Spawn(1, RolePredicted, testArchetype, 1)
	require.NoError(t, err)

	e.Set(1, "ok")
	e.Set(9, "ignored")

	assert.True(t, e.Has(1))
	assert.False(t, e.Has(9))
	_, ok := e.Get(9)
	assert.False(t, ok)
}

func TestEachWithRole(t *testing.T) {
	w := New()
	_, err := w.Spawn(1, RolePredicted, testArchetype, 1)
	require.NoError(t, err)
	_, err = w.Spawn(2, RoleInterpolated, testArchetype, 1)
	require.NoError(t, err)

	var count int
	w.EachWithRole(RolePredicted, func(e *Entity) { count++ })
	assert.Equal(t, 1, count)
}

package prespawn

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/timeline"
)

// Hash derives the spawn-matching key from the spawn tick, the entity's
// archetype and a caller-supplied salt. Both the predicting client and the
// server compute it independently; equal inputs must produce equal hashes,
// so the archetype is sorted before digesting.
func Hash(tick timeline.Tick, archetype []components.ID, salt uint64) uint64 {
	sorted := make([]components.ID, len(archetype))
	copy(sorted, archetype)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	digest := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(tick))
	_, _ = digest.Write(buf[:4])
	for _, id := range sorted {
		binary.LittleEndian.PutUint32(buf[:4], uint32(id))
		_, _ = digest.Write(buf[:4])
	}
	binary.LittleEndian.PutUint64(buf[:], salt)
	_, _ = digest.Write(buf[:])
	return digest.Sum64()
}

// ComposeSalt packs an owner identity and a slot index into a salt. Two
// spawns by different owners, or by the same owner from different slots, in
// the same tick with the same archetype stay distinguishable.
func ComposeSalt(owner uint64, slot uint8) uint64 {
	return owner<<32 | uint64(slot)<<16
}

// DerivedSalt hashes a richer identity tuple into a salt, for nested spawn
// chains where slot and depth alone would collide.
func DerivedSalt(owner uint64, slot, depth uint8, name string) uint64 {
	digest := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], owner)
	_, _ = digest.Write(buf[:])
	_, _ = digest.Write([]byte{slot, depth})
	_, _ = digest.WriteString(name)
	return digest.Sum64()
}

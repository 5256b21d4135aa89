package protocol

import (
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// Kind is the one-byte wire discriminator prefixed to every encoded message.
type Kind byte

const (
	KindJoinRequest Kind = iota + 1
	KindJoinAccept
	KindInput
	KindSnapshot
	KindSpawn
	KindDespawn
)

func (k Kind) String() string {
	switch k {
	case KindJoinRequest:
		return "join-request"
	case KindJoinAccept:
		return "join-accept"
	case KindInput:
		return "input"
	case KindSnapshot:
		return "snapshot"
	case KindSpawn:
		return "spawn"
	case KindDespawn:
		return "despawn"
	default:
		return "unknown"
	}
}

// JoinRequest opens a session. Token carries the session JWT on reconnect;
// first joins leave it empty and receive one in JoinAccept.
type JoinRequest struct {
	Name  string `codec:"name"`
	Token string `codec:"token"`
}

// JoinAccept confirms a session and tells the client which entity it
// controls and where the server timeline currently stands.
type JoinAccept struct {
	Token    string         `codec:"token"`
	Entity   world.EntityID `codec:"entity"`
	Tick     timeline.Tick  `codec:"tick"`
	TickRate int            `codec:"tick_rate"`
}

// InputMessage carries one tick's input for one entity. Idempotent: the same
// (tick, entity) pair may arrive more than once, out of order, or never.
type InputMessage struct {
	Tick    timeline.Tick  `codec:"tick"`
	Entity  world.EntityID `codec:"entity"`
	Payload []byte         `codec:"payload"`
}

// SnapshotMessage carries the authoritative component values for one entity
// at one tick. Forced marks a full resync push that clients must apply
// directly instead of reconciling.
type SnapshotMessage struct {
	Tick       timeline.Tick     `codec:"tick"`
	Entity     world.EntityID    `codec:"entity"`
	Components map[uint32][]byte `codec:"components"`
	Forced     bool              `codec:"forced,omitempty"`
}

// SpawnAnnounce replicates an authoritative spawn. Receivers hash
// (Tick, Archetype, Salt) and try to match it against their pending
// speculative spawns before creating a new entity.
type SpawnAnnounce struct {
	Tick       timeline.Tick     `codec:"tick"`
	Entity     world.EntityID    `codec:"entity"`
	Archetype  []uint32          `codec:"archetype"`
	Salt       uint64            `codec:"salt,omitempty"`
	Components map[uint32][]byte `codec:"components"`
}

// DespawnAnnounce replicates an authoritative despawn.
type DespawnAnnounce struct {
	Tick   timeline.Tick  `codec:"tick"`
	Entity world.EntityID `codec:"entity"`
}

package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

const player world.EntityID = 1

func TestCaptureQueuesAndStores(t *testing.T) {
	c := NewChannel(64, RepeatLast)
	c.Capture(10, player, []byte("jump"))

	// Capture feeds both the send queue and the local lookup path.
	payload, exact := c.InputFor(player, 10)
	assert.True(t, exact)
	assert.Equal(t, []byte("jump"), payload)

	queued := c.Flush()
	require.Len(t, queued, 1)
	assert.Equal(t, protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("jump")}, queued[0])

	// Flush drains the queue without touching the lookup buffer.
	assert.Empty(t, c.Flush())
	_, exact = c.InputFor(player, 10)
	assert.True(t, exact)
}

func TestReceiveIdempotent(t *testing.T) {
	c := NewChannel(64, RepeatLast)
	c.Receive(protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("first")})
	c.Receive(protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("redelivered")})

	payload, exact := c.InputFor(player, 10)
	assert.True(t, exact)
	assert.Equal(t, []byte("first"), payload)
}

func TestRepeatLastPolicy(t *testing.T) {
	c := NewChannel(64, RepeatLast)
	c.Receive(protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("held")})

	// Tick 13 never arrived; the most recent earlier input is repeated.
	payload, exact := c.InputFor(player, 13)
	assert.False(t, exact)
	assert.Equal(t, []byte("held"), payload)
}

func TestBlankPolicy(t *testing.T) {
	c := NewChannel(64, Blank)
	c.Receive(protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("held")})

	payload, exact := c.InputFor(player, 13)
	assert.False(t, exact)
	assert.Nil(t, payload)
}

func TestRepeatLastWindowBounded(t *testing.T) {
	c := NewChannel(4, RepeatLast)
	c.Receive(protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("stale")})

	// Beyond the retention window nothing is repeated.
	payload, exact := c.InputFor(player, 20)
	assert.False(t, exact)
	assert.Nil(t, payload)
}

func TestInputForUnknownEntity(t *testing.T) {
	c := NewChannel(64, RepeatLast)
	payload, exact := c.InputFor(99, 10)
	assert.False(t, exact)
	assert.Nil(t, payload)
}

func TestTruncate(t *testing.T) {
	c := NewChannel(64, RepeatLast)
	for tick := 10; tick <= 14; tick++ {
		c.Receive(protocol.InputMessage{Tick: timeline.Tick(tick), Entity: player, Payload: []byte{byte(tick)}})
	}

	c.Truncate(timeline.Tick(13))

	_, exact := c.InputFor(player, timeline.Tick(12))
	assert.False(t, exact)
	payload, exact := c.InputFor(player, timeline.Tick(13))
	assert.True(t, exact)
	assert.Equal(t, []byte{13}, payload)
}

func TestDrop(t *testing.T) {
	c := NewChannel(64, RepeatLast)
	c.Receive(protocol.InputMessage{Tick: 10, Entity: player, Payload: []byte("x")})
	c.Drop(player)

	_, exact := c.InputFor(player, 10)
	assert.False(t, exact)
}

package input

import (
	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/internal/core/world"
)

// MissingPolicy decides what a simulation step sees for a tick whose input
// never arrived. The core does not fabricate input beyond what the policy
// declares.
type MissingPolicy uint8

const (
	// RepeatLast hands the step the most recent earlier input.
	RepeatLast MissingPolicy = iota
	// Blank hands the step no input at all.
	Blank
)

// Channel captures local input per tick, queues it for transmission, and
// buffers confirmed remote inputs for the prediction of non-local entities.
// Receive is idempotent and tolerates out-of-order and dropped messages.
type Channel struct {
	policy   MissingPolicy
	capacity int32

	pendingSend []protocol.InputMessage
	received    map[world.EntityID]*entityInputs
}

type entityInputs struct {
	byTick map[timeline.Tick][]byte
	latest timeline.Tick
	has    bool
}

func NewChannel(capacityTicks int, policy MissingPolicy) *Channel {
	if capacityTicks <= 0 {
		capacityTicks = 128
	}
	return &Channel{
		policy:   policy,
		capacity: int32(capacityTicks),
		received: make(map[world.EntityID]*entityInputs),
	}
}

// Capture records the local entity's input for a tick and queues it for the
// next Flush. The payload is also stored locally so forward simulation and
// resimulation read inputs through the same path.
func (c *Channel) Capture(tick timeline.Tick, entity world.EntityID, payload []byte) {
	msg := protocol.InputMessage{Tick: tick, Entity: entity, Payload: payload}
	c.pendingSend = append(c.pendingSend, msg)
	c.store(msg)
}

// Flush returns and clears the messages queued since the last flush. Called
// at the end of the tick loop, never mid-step.
func (c *Channel) Flush() []protocol.InputMessage {
	out := c.pendingSend
	c.pendingSend = nil
	return out
}

// Receive buffers an input message from the network. Duplicate (tick,
// entity) pairs overwrite in place, which makes redelivery harmless.
func (c *Channel) Receive(msg protocol.InputMessage) {
	c.store(msg)
}

func (c *Channel) store(msg protocol.InputMessage) {
	inputs, ok := c.received[msg.Entity]
	if !ok {
		inputs = &entityInputs{byTick: make(map[timeline.Tick][]byte)}
		c.received[msg.Entity] = inputs
	}
	if old, dup := inputs.byTick[msg.Tick]; dup && old != nil {
		// Idempotent redelivery; nothing to update.
		return
	}
	inputs.byTick[msg.Tick] = msg.Payload
	if !inputs.has || msg.Tick.After(inputs.latest) {
		inputs.latest = msg.Tick
		inputs.has = true
	}
}

// InputFor returns the input the step function should see for an entity at a
// tick. exact reports whether the payload was actually received for that
// tick; when false, the configured MissingPolicy determined the result.
func (c *Channel) InputFor(entity world.EntityID, tick timeline.Tick) (payload []byte, exact bool) {
	inputs, ok := c.received[entity]
	if !ok {
		return nil, false
	}
	if p, hit := inputs.byTick[tick]; hit {
		return p, true
	}
	if c.policy == Blank {
		return nil, false
	}
	// RepeatLast: walk back within the retention window for the most recent
	// earlier input.
	for d := int32(1); d <= c.capacity; d++ {
		if p, hit := inputs.byTick[tick.Add(-d)]; hit {
			return p, false
		}
	}
	return nil, false
}

// Truncate drops buffered inputs older than the given tick. Called once the
// reconciliation engine confirms ticks can no longer be rolled back to.
func (c *Channel) Truncate(before timeline.Tick) {
	for entity, inputs := range c.received {
		for t := range inputs.byTick {
			if t.Before(before) {
				delete(inputs.byTick, t)
			}
		}
		if len(inputs.byTick) == 0 && !inputs.latest.After(before) {
			delete(c.received, entity)
		}
	}
}

// Drop removes all buffered input for an entity, used on despawn.
func (c *Channel) Drop(entity world.EntityID) {
	delete(c.received, entity)
}

package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceAccumulation(t *testing.T) {
	tl := New(RoleClient, 64)
	step := tl.TickDuration()

	// Half a step produces nothing, the remainder carries over.
	assert.Equal(t, 0, tl.Advance(step/2))
	assert.Equal(t, 1, tl.Advance(step/2))
	assert.Equal(t, 3, tl.Advance(3*step))
}

func TestAdvanceCapsCatchUp(t *testing.T) {
	tl := New(RoleServer, 64)

	// A long stall must not demand an unbounded replay burst.
	steps := tl.Advance(5 * time.Second)
	assert.Equal(t, maxStepsPerAdvance, steps)

	// The backlog is dropped, not deferred.
	assert.Equal(t, 0, tl.Advance(0))
}

func TestAdvanceNegativeElapsed(t *testing.T) {
	tl := New(RoleClient, 64)
	assert.Equal(t, 0, tl.Advance(-time.Second))
}

func TestStepAndSeek(t *testing.T) {
	tl := New(RoleClient, 64)
	assert.Equal(t, Tick(1), tl.Step())
	assert.Equal(t, Tick(2), tl.Step())

	tl.Seek(Tick(500))
	assert.Equal(t, Tick(500), tl.CurrentTick())
	assert.Equal(t, Tick(501), tl.Step())
}

func TestDeltaWrapAround(t *testing.T) {
	// Tick comparisons must stay correct across uint32 wrap.
	var before Tick = ^Tick(0) - 1
	after := before.Add(3)

	assert.Equal(t, int32(3), Delta(after, before))
	assert.True(t, after.After(before))
	assert.True(t, before.Before(after))
}

func TestDefaultTickRate(t *testing.T) {
	tl := New(RoleClient, 0)
	assert.Equal(t, time.Second/DefaultTickRate, tl.TickDuration())
}

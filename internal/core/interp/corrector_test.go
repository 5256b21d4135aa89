package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/reconcile"
	"github.com/rollsync/rollsync/pkg/mathx"
)

const compPos components.ID = 1

func newCorrectorFixture(t *testing.T) (*components.Registry, *Corrector) {
	t.Helper()
	r := components.NewRegistry()
	require.NoError(t, r.Register(compPos, components.Registration{
		Name:    "pos",
		Mode:    components.PredictedCorrected,
		Compare: components.Vec3Threshold(components.DefaultThreshold),
		Correct: components.Vec3Lerp,
		Lerp:    components.Vec3Lerp,
	}))
	return r, NewCorrector(r, 0.2)
}

func correction(before, after mathx.Vec3) reconcile.Correction {
	return reconcile.Correction{Entity: 1, Component: compPos, Before: before, After: after}
}

func TestRenderValueBlendsTowardSimulation(t *testing.T) {
	_, c := newCorrectorFixture(t)

	before := mathx.Vec3{X: 0}
	after := mathx.Vec3{X: 10}
	c.Apply([]reconcile.Correction{correction(before, after)})

	// At progress zero the render value still shows the pre-rollback state.
	v := c.RenderValue(1, compPos, after).(mathx.Vec3)
	assert.InDelta(t, 0.0, v.X, 1e-9)

	// Partway through, the rendered point sits between the two.
	c.Update(0.1)
	v = c.RenderValue(1, compPos, after).(mathx.Vec3)
	assert.Greater(t, v.X, 0.0)
	assert.Less(t, v.X, 10.0)

	// After the full duration the offset is gone.
	c.Update(0.2)
	v = c.RenderValue(1, compPos, after).(mathx.Vec3)
	assert.InDelta(t, 10.0, v.X, 1e-9)
	assert.Equal(t, 0, c.ActiveBlends())
}

func TestRenderValueWithoutBlendPassesThrough(t *testing.T) {
	_, c := newCorrectorFixture(t)
	sim := mathx.Vec3{X: 3}
	assert.Equal(t, sim, c.RenderValue(1, compPos, sim))
}

func TestApplyMidBlendKeepsContinuity(t *testing.T) {
	_, c := newCorrectorFixture(t)

	c.Apply([]reconcile.Correction{correction(mathx.Vec3{X: 0}, mathx.Vec3{X: 10})})
	c.Update(0.1)
	rendered := c.RenderValue(1, compPos, mathx.Vec3{X: 10}).(mathx.Vec3)

	// A second rollback lands mid-blend. The new blend must start from the
	// currently rendered point, not jump back to the stale origin.
	c.Apply([]reconcile.Correction{correction(mathx.Vec3{X: 10}, mathx.Vec3{X: 20})})
	restarted := c.RenderValue(1, compPos, mathx.Vec3{X: 20}).(mathx.Vec3)
	assert.InDelta(t, rendered.X, restarted.X, 0.5)
}

func TestSnapCancelsBlends(t *testing.T) {
	_, c := newCorrectorFixture(t)
	c.Apply([]reconcile.Correction{correction(mathx.Vec3{X: 0}, mathx.Vec3{X: 10})})

	c.Snap(1)

	sim := mathx.Vec3{X: 10}
	assert.Equal(t, sim, c.RenderValue(1, compPos, sim))
	assert.Equal(t, 0, c.ActiveBlends())
}

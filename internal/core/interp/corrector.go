package interp

import (
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/rollsync/rollsync/internal/core/components"
	"github.com/rollsync/rollsync/internal/core/history"
	"github.com/rollsync/rollsync/internal/core/reconcile"
	"github.com/rollsync/rollsync/internal/core/world"
)

// DefaultCorrectionSeconds is how long a rollback's visible displacement
// takes to blend out.
const DefaultCorrectionSeconds = 0.15

// Corrector smooths the visual discontinuity a rollback leaves behind. It
// operates purely on render values; the underlying simulation state is
// already exact the moment the correction is applied. Each active blend
// drives the registered correction function with a tween from 0 to 1.
type Corrector struct {
	registry *components.Registry
	duration float32
	active   map[history.Key]*blend
}

type blend struct {
	tween    *gween.Tween
	from     any
	progress float64
	done     bool
}

func NewCorrector(registry *components.Registry, durationSeconds float64) *Corrector {
	if durationSeconds <= 0 {
		durationSeconds = DefaultCorrectionSeconds
	}
	return &Corrector{
		registry: registry,
		duration: float32(durationSeconds),
		active:   make(map[history.Key]*blend),
	}
}

// Apply starts (or restarts) a blend for each correction produced by a
// rollback. The pre-correction rendered value becomes the blend origin.
func (c *Corrector) Apply(corrections []reconcile.Correction) {
	for _, corr := range corrections {
		key := history.Key{Entity: corr.Entity, Component: corr.Component}
		from := corr.Before
		if existing, ok := c.active[key]; ok && !existing.done {
			// A correction landed mid-blend: restart from the currently
			// rendered value so the visual path stays continuous.
			reg, known := c.registry.Lookup(corr.Component)
			if known {
				from = reg.Correct(existing.from, corr.Before, existing.progress)
			}
		}
		c.active[key] = &blend{
			tween: gween.New(0, 1, c.duration, ease.OutQuad),
			from:  from,
		}
	}
}

// Update advances all active blends by dt seconds of render time.
func (c *Corrector) Update(dt float64) {
	for key, b := range c.active {
		value, finished := b.tween.Update(float32(dt))
		b.progress = float64(value)
		if finished {
			b.done = true
			delete(c.active, key)
		}
	}
}

// RenderValue returns what the render layer should display for a component
// right now: the simulation value, pulled back toward the pre-correction
// value by however much of the blend remains.
func (c *Corrector) RenderValue(entity world.EntityID, component components.ID, simValue any) any {
	b, ok := c.active[history.Key{Entity: entity, Component: component}]
	if !ok || b.done {
		return simValue
	}
	reg, known := c.registry.Lookup(component)
	if !known {
		return simValue
	}
	return reg.Correct(b.from, simValue, b.progress)
}

// Snap cancels every active blend for an entity. Forced resyncs skip
// smoothing entirely.
func (c *Corrector) Snap(entity world.EntityID) {
	for key := range c.active {
		if key.Entity == entity {
			delete(c.active, key)
		}
	}
}

// Drop removes all state for a despawned entity.
func (c *Corrector) Drop(entity world.EntityID) {
	c.Snap(entity)
}

// ActiveBlends reports how many corrections are currently being smoothed.
func (c *Corrector) ActiveBlends() int {
	return len(c.active)
}

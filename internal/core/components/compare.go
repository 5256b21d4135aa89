package components

import (
	"math"

	"github.com/rollsync/rollsync/pkg/mathx"
)

// Threshold comparators for continuous-valued components. Exact float
// equality after a resimulation replay is too strict; these treat values
// within epsilon as in sync to avoid rollback thrashing on floating-point
// noise. 0.01 is the conventional default for both distance and radians.

const DefaultThreshold = 0.01

// Vec3Threshold reports values in sync while their distance stays below eps.
func Vec3Threshold(eps float64) CompareFunc {
	return func(predicted, confirmed any) bool {
		a, okA := predicted.(mathx.Vec3)
		b, okB := confirmed.(mathx.Vec3)
		if !okA || !okB {
			return false
		}
		return a.Sub(b).Length() < eps
	}
}

// QuatThreshold reports orientations in sync while the angle between them
// stays below eps radians.
func QuatThreshold(eps float64) CompareFunc {
	return func(predicted, confirmed any) bool {
		a, okA := predicted.(mathx.Quat)
		b, okB := confirmed.(mathx.Quat)
		if !okA || !okB {
			return false
		}
		return a.AngleBetween(b) < eps
	}
}

// Float64Threshold reports scalars in sync while their difference stays
// below eps.
func Float64Threshold(eps float64) CompareFunc {
	return func(predicted, confirmed any) bool {
		a, okA := predicted.(float64)
		b, okB := confirmed.(float64)
		if !okA || !okB {
			return false
		}
		return math.Abs(a-b) < eps
	}
}

// Vec3Lerp is the blend function for positions.
func Vec3Lerp(from, to any, t float64) any {
	a, okA := from.(mathx.Vec3)
	b, okB := to.(mathx.Vec3)
	if !okA || !okB {
		return to
	}
	return a.Lerp(b, t)
}

// QuatNlerp is the blend function for orientations.
func QuatNlerp(from, to any, t float64) any {
	a, okA := from.(mathx.Quat)
	b, okB := to.(mathx.Quat)
	if !okA || !okB {
		return to
	}
	return a.Nlerp(b, t)
}

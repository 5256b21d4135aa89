package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3Arithmetic(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: 4, Y: 5, Z: 6}

	assert.Equal(t, Vec3{X: 5, Y: 7, Z: 9}, a.Add(b))
	assert.Equal(t, Vec3{X: -3, Y: -3, Z: -3}, a.Sub(b))
	assert.Equal(t, Vec3{X: 2, Y: 4, Z: 6}, a.Scale(2))
	assert.InDelta(t, 32.0, a.Dot(b), 1e-12)
	assert.InDelta(t, math.Sqrt(14), a.Length(), 1e-12)
}

func TestVec3LerpClamps(t *testing.T) {
	a := Vec3{}
	b := Vec3{X: 10}

	assert.InDelta(t, 5.0, a.Lerp(b, 0.5).X, 1e-12)
	assert.Equal(t, b, a.Lerp(b, 1.5))
	assert.Equal(t, a, a.Lerp(b, -0.5))
}

func TestQuatAngleBetween(t *testing.T) {
	a := QuatFromYaw(0)
	b := QuatFromYaw(math.Pi / 2)

	assert.InDelta(t, math.Pi/2, a.AngleBetween(b), 1e-9)
	assert.InDelta(t, 0.0, a.AngleBetween(a), 1e-6)
}

func TestQuatNlerpStaysUnit(t *testing.T) {
	a := QuatFromYaw(0)
	b := QuatFromYaw(math.Pi)

	mid := a.Nlerp(b, 0.5)
	assert.InDelta(t, 1.0, math.Sqrt(mid.Dot(mid)), 1e-9)
	assert.InDelta(t, math.Pi/2, a.AngleBetween(mid), 1e-6)
}

func TestQuatNlerpShortestArc(t *testing.T) {
	a := QuatFromYaw(0.1)
	// The negated quaternion represents the same orientation; nlerp must not
	// take the long way around.
	b := QuatFromYaw(0.3)
	neg := Quat{-b.X, -b.Y, -b.Z, -b.W}

	assert.InDelta(t, a.Nlerp(b, 0.5).AngleBetween(a.Nlerp(neg, 0.5)), 0, 1e-9)
}

package mathx

import "math"

// Quat is a unit quaternion orientation.
type Quat struct {
	X float64 `codec:"x"`
	Y float64 `codec:"y"`
	Z float64 `codec:"z"`
	W float64 `codec:"w"`
}

func QuatIdentity() Quat {
	return Quat{W: 1}
}

// QuatFromYaw builds a rotation of angle radians around the Y axis.
func QuatFromYaw(angle float64) Quat {
	half := angle / 2
	return Quat{Y: math.Sin(half), W: math.Cos(half)}
}

func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// AngleBetween returns the rotation angle in radians separating q and o.
func (q Quat) AngleBetween(o Quat) float64 {
	d := math.Abs(q.Dot(o))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// Nlerp interpolates toward o along the shortest arc and renormalizes.
// Normalized lerp is good enough for small correction deltas and stays
// deterministic across platforms, unlike a trig-heavy slerp.
func (q Quat) Nlerp(o Quat, t float64) Quat {
	t = clamp01(t)
	if q.Dot(o) < 0 {
		o = Quat{-o.X, -o.Y, -o.Z, -o.W}
	}
	r := Quat{
		X: q.X + (o.X-q.X)*t,
		Y: q.Y + (o.Y-q.Y)*t,
		Z: q.Z + (o.Z-q.Z)*t,
		W: q.W + (o.W-q.W)*t,
	}
	return r.normalize()
}

func (q Quat) normalize() Quat {
	n := math.Sqrt(q.Dot(q))
	if n == 0 {
		return QuatIdentity()
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

package timeline

import "strconv"

// Tick identifies one fixed-duration simulation step. Arithmetic is modular:
// the counter wraps, and Delta yields a signed difference that stays correct
// across the wrap point as long as the two ticks are within half the range
// of each other.
type Tick uint32

// Delta returns a-b as a signed tick count.
func Delta(a, b Tick) int32 {
	return int32(a - b)
}

// Add offsets the tick by n, which may be negative.
func (t Tick) Add(n int32) Tick {
	return Tick(uint32(t) + uint32(n))
}

// After reports whether t is strictly later than other.
func (t Tick) After(other Tick) bool {
	return Delta(t, other) > 0
}

// Before reports whether t is strictly earlier than other.
func (t Tick) Before(other Tick) bool {
	return Delta(t, other) < 0
}

func (t Tick) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

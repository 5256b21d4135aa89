package timeline

import "time"

// Role tags which peer a timeline belongs to. Server and client timelines run
// independently; clock sync is handled elsewhere, this package only drives
// fixed-rate stepping.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// DefaultTickRate is the fixed simulation rate in Hz.
const DefaultTickRate = 64

// maxStepsPerAdvance caps how many simulation steps a single Advance may
// request, so a long stall does not turn into an unbounded catch-up burst.
const maxStepsPerAdvance = 8

// Timeline accumulates wall-clock time and converts it into a whole number of
// fixed simulation steps. The tick counter itself never touches wall-clock
// time; rendering frame rate and simulation rate are fully decoupled.
type Timeline struct {
	role Role
	tick Tick
	step time.Duration
	acc  time.Duration
}

func New(role Role, tickRate int) *Timeline {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	return &Timeline{
		role: role,
		step: time.Second / time.Duration(tickRate),
	}
}

// Advance feeds elapsed wall-clock time into the accumulator and returns how
// many fixed steps the caller must run now. The caller runs that many steps,
// calling Step once per step.
func (tl *Timeline) Advance(elapsed time.Duration) int {
	if elapsed < 0 {
		return 0
	}
	tl.acc += elapsed
	steps := int(tl.acc / tl.step)
	if steps > maxStepsPerAdvance {
		// Drop the backlog; catching up further would freeze the frame.
		steps = maxStepsPerAdvance
		tl.acc = 0
	} else {
		tl.acc -= time.Duration(steps) * tl.step
	}
	return steps
}

// Step increments the tick counter exactly once and returns the new current
// tick.
func (tl *Timeline) Step() Tick {
	tl.tick++
	return tl.tick
}

func (tl *Timeline) CurrentTick() Tick {
	return tl.tick
}

func (tl *Timeline) TickDuration() time.Duration {
	return tl.step
}

func (tl *Timeline) Role() Role {
	return tl.role
}

// Seek jumps the tick counter, used when a client adopts the server's tick
// during the join handshake.
func (tl *Timeline) Seek(t Tick) {
	tl.tick = t
	tl.acc = 0
}

package history

import (
	"errors"

	"github.com/rollsync/rollsync/internal/core/timeline"
)

var (
	// ErrUnderflow means the requested tick has already been evicted from
	// the buffer. The caller cannot roll back to it and must force a full
	// resync instead.
	ErrUnderflow = errors.New("history underflow: tick older than retained buffer")
	// ErrGap means a record would break the contiguous run of ticks the
	// buffer must hold for resimulation to be correct.
	ErrGap = errors.New("history gap: tick not contiguous with buffer head")
	// ErrMissing means the tick lies ahead of everything recorded so far.
	ErrMissing = errors.New("history missing: tick not yet recorded")
)

// Entry is one (tick, value) snapshot.
type Entry struct {
	Tick  timeline.Tick
	Value any
}

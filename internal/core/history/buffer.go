package history

import (
	"github.com/rollsync/rollsync/internal/core/timeline"
	"github.com/rollsync/rollsync/pkg/sequence"
)

// Buffer is a bounded ring of per-tick snapshots for one entity/component
// pair. Entries form a contiguous tick run from the oldest retained tick to
// the newest; gaps are rejected because resimulation reads every tick in
// between.
type Buffer struct {
	ring *sequence.Ring[Entry]
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &Buffer{ring: sequence.NewRing[Entry](capacity)}
}

// Record stores a value at a tick. Appending the next tick extends the run
// (evicting the oldest entry when full); a tick already in the buffer is
// overwritten in place, which is how resimulation rewrites history. A tick
// older than the buffer returns ErrUnderflow, a tick beyond head+1 ErrGap.
func (b *Buffer) Record(tick timeline.Tick, value any) error {
	if b.ring.Len() == 0 {
		b.ring.PushBack(Entry{Tick: tick, Value: value})
		return nil
	}
	newest, _ := b.ring.Back()
	oldest, _ := b.ring.Front()

	switch d := timeline.Delta(tick, newest.Tick); {
	case d == 1:
		b.ring.PushBack(Entry{Tick: tick, Value: value})
		return nil
	case d > 1:
		return ErrGap
	default:
		if tick.Before(oldest.Tick) {
			return ErrUnderflow
		}
		b.ring.Set(int(timeline.Delta(tick, oldest.Tick)), Entry{Tick: tick, Value: value})
		return nil
	}
}

// At returns the value recorded for a tick.
func (b *Buffer) At(tick timeline.Tick) (any, error) {
	if b.ring.Len() == 0 {
		return nil, ErrMissing
	}
	oldest, _ := b.ring.Front()
	newest, _ := b.ring.Back()
	if tick.Before(oldest.Tick) {
		return nil, ErrUnderflow
	}
	if tick.After(newest.Tick) {
		return nil, ErrMissing
	}
	entry, ok := b.ring.At(int(timeline.Delta(tick, oldest.Tick)))
	if !ok {
		return nil, ErrMissing
	}
	return entry.Value, nil
}

// TruncateBefore discards entries strictly older than the given tick. Called
// after a confirmed tick has been matched; nothing will ever roll back past
// it again.
func (b *Buffer) TruncateBefore(tick timeline.Tick) {
	for b.ring.Len() > 0 {
		oldest, _ := b.ring.Front()
		if !oldest.Tick.Before(tick) {
			return
		}
		b.ring.PopFront()
	}
}

func (b *Buffer) Len() int {
	return b.ring.Len()
}

func (b *Buffer) OldestTick() (timeline.Tick, bool) {
	e, ok := b.ring.Front()
	return e.Tick, ok
}

func (b *Buffer) LatestTick() (timeline.Tick, bool) {
	e, ok := b.ring.Back()
	return e.Tick, ok
}

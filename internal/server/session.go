package server

import (
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rollsync/rollsync/internal/core/protocol"
	"github.com/rollsync/rollsync/internal/core/world"
)

// Session is one connected client. Reads happen on the session's own
// goroutine; everything that touches simulation state is handed to the tick
// loop through the hub's inbox.
type Session struct {
	id      string
	conn    protocol.Connection
	entity  world.EntityID
	authed  bool
	limiter *rate.Limiter
}

func newSession(conn protocol.Connection, inputRate float64, burst int) *Session {
	if inputRate <= 0 {
		inputRate = 128
	}
	if burst <= 0 {
		burst = 32
	}
	return &Session{
		id:      uuid.New().String(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(inputRate), burst),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Entity() world.EntityID {
	return s.entity
}

// send encodes and writes a message, ignoring write errors; a dead
// connection is detected by its read loop and cleaned up there.
func (s *Session) send(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	_ = s.conn.Send(data)
}

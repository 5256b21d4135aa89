package protocol

import (
	"context"
	"net"
	"sync"
)

var _ Transport = (*MemoryTransport)(nil)

// MemoryTransport is an in-process transport backed by channels. Tests and
// loopback demos use it to run a server and client peer without sockets.
type MemoryTransport struct {
	accepted chan Connection
	closed   chan struct{}
	once     sync.Once
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		accepted: make(chan Connection, 16),
		closed:   make(chan struct{}),
	}
}

func (t *MemoryTransport) Listen(context.Context, string) error {
	return nil
}

func (t *MemoryTransport) Accept(ctx context.Context) (Connection, error) {
	select {
	case conn := <-t.accepted:
		return conn, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Dial(ctx context.Context, _ string) (Connection, error) {
	client, server := NewMemoryPipe()
	select {
	case t.accepted <- server:
		return client, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// NewMemoryPipe returns two connected in-memory connections.
func NewMemoryPipe() (Connection, Connection) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &memoryConnection{send: ab, recv: ba, closed: closed, once: once}
	b := &memoryConnection{send: ba, recv: ab, closed: closed, once: once}
	return a, b
}

type memoryConnection struct {
	send   chan []byte
	recv   chan []byte
	closed chan struct{}
	once   *sync.Once
}

func (c *memoryConnection) Send(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return ErrTransportClosed
	}
}

func (c *memoryConnection) Receive() ([]byte, error) {
	select {
	case data := <-c.recv:
		return data, nil
	case <-c.closed:
		return nil, ErrTransportClosed
	}
}

func (c *memoryConnection) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *memoryConnection) LocalAddr() net.Addr {
	return memoryAddr{}
}

func (c *memoryConnection) RemoteAddr() net.Addr {
	return memoryAddr{}
}

type memoryAddr struct{}

func (memoryAddr) Network() string { return "memory" }
func (memoryAddr) String() string  { return "memory" }

package protocol

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
)

var _ Transport = (*KCPTransport)(nil)

// KCPTransport runs frames over KCP on UDP. The underlying channel is lossy
// and unordered, which matches the core's assumptions; KCP's fast
// retransmission keeps latency low without head-of-line blocking a TCP
// stream would add.
type KCPTransport struct {
	listener *kcp.Listener
	mu       sync.Mutex
}

func NewKCPTransport() *KCPTransport {
	return &KCPTransport{}
}

func (t *KCPTransport) Listen(_ context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return errors.New("transport already listening")
	}
	listener, err := kcp.ListenWithOptions(address, nil, 0, 0)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}
	t.listener = listener
	return nil
}

func (t *KCPTransport) Accept(_ context.Context) (Connection, error) {
	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()
	if listener == nil {
		return nil, errors.New("transport not listening")
	}
	session, err := listener.AcceptKCP()
	if err != nil {
		return nil, errors.Wrap(err, "accept kcp session")
	}
	tuneSession(session)
	return newKCPConnection(session), nil
}

func (t *KCPTransport) Dial(_ context.Context, address string) (Connection, error) {
	session, err := kcp.DialWithOptions(address, nil, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	tuneSession(session)
	return newKCPConnection(session), nil
}

func (t *KCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// tuneSession applies the low-latency profile: turbo mode, no delayed ack,
// small resend window.
func tuneSession(s *kcp.UDPSession) {
	s.SetNoDelay(1, 10, 2, 1)
	s.SetWindowSize(256, 256)
	s.SetMtu(1200)
}

type kcpConnection struct {
	session *kcp.UDPSession
	writeMu sync.Mutex
}

func newKCPConnection(session *kcp.UDPSession) *kcpConnection {
	return &kcpConnection{session: session}
}

func (c *kcpConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.session, data)
}

func (c *kcpConnection) Receive() ([]byte, error) {
	return readFrame(c.session)
}

func (c *kcpConnection) Close() error {
	return c.session.Close()
}

func (c *kcpConnection) LocalAddr() net.Addr {
	return c.session.LocalAddr()
}

func (c *kcpConnection) RemoteAddr() net.Addr {
	return c.session.RemoteAddr()
}

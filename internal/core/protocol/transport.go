package protocol

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Transport abstracts the network layer. The core assumes an unreliable,
// possibly out-of-order channel; reliability beyond what the concrete
// transport already provides is not part of this package.
type Transport interface {
	// Listen starts accepting connections on the given address.
	Listen(ctx context.Context, address string) error

	// Accept waits for and returns the next incoming connection.
	Accept(ctx context.Context) (Connection, error)

	// Dial connects to a remote peer.
	Dial(ctx context.Context, address string) (Connection, error)

	// Close terminates the transport.
	Close() error
}

// Connection is a single peer link carrying whole message frames.
type Connection interface {
	// Send writes one frame.
	Send(data []byte) error

	// Receive blocks until the next frame arrives.
	Receive() ([]byte, error)

	// Close closes the connection.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
}

// maxFrameSize bounds a single message frame on stream transports.
const maxFrameSize = 1 << 20

// writeFrame writes a length-prefixed frame to a stream. QUIC streams and
// KCP sessions are byte streams, so frames need explicit delimiting;
// WebSocket has its own message framing and does not use this.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// readFrame reads one length-prefixed frame from a stream.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Wrap(err, "read frame header")
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "read frame body")
	}
	return data, nil
}

// ByName returns the transport a config names. Unknown names are an error
// rather than a silent default.
func ByName(name string) (Transport, error) {
	switch name {
	case "websocket", "ws", "":
		return NewWebSocketTransport(), nil
	case "quic":
		return NewQUICTransport(), nil
	case "kcp":
		return NewKCPTransport(), nil
	case "memory":
		return NewMemoryTransport(), nil
	default:
		return nil, errors.Errorf("unknown transport %q", name)
	}
}

package protocol

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var _ Transport = (*WebSocketTransport)(nil)

// WebSocketTransport carries frames as binary WebSocket messages.
type WebSocketTransport struct {
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	accepted chan Connection
	closed   chan struct{}
	once     sync.Once
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		accepted: make(chan Connection, 16),
		closed:   make(chan struct{}),
	}
}

func (t *WebSocketTransport) Listen(_ context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}
	t.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/sync", t.handleUpgrade)
	t.server = &http.Server{Handler: mux}

	go func() {
		_ = t.server.Serve(listener)
	}()
	return nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case t.accepted <- newWSConnection(conn):
	case <-t.closed:
		_ = conn.Close()
	}
}

func (t *WebSocketTransport) Accept(ctx context.Context) (Connection, error) {
	select {
	case conn := <-t.accepted:
		return conn, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WebSocketTransport) Dial(ctx context.Context, address string) (Connection, error) {
	url := "ws://" + address + "/sync"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return newWSConnection(conn), nil
}

func (t *WebSocketTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// wsConnection wraps a gorilla connection. A write mutex serializes frames;
// gorilla connections do not allow concurrent writers.
type wsConnection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  int32
}

func newWSConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{conn: conn}
}

func (c *wsConnection) Send(data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrTransportClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "write websocket message")
	}
	return nil
}

func (c *wsConnection) Receive() ([]byte, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrTransportClosed
	}
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "read websocket message")
	}
	if messageType != websocket.BinaryMessage {
		return nil, errors.New("unsupported websocket message type")
	}
	return data, nil
}

func (c *wsConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

func (c *wsConnection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *wsConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

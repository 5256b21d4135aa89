package protocol

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

const quicALPN = "rollsync-quic"

var _ Transport = (*QUICTransport)(nil)

// QUICTransport carries frames over a single bidirectional QUIC stream per
// connection.
type QUICTransport struct {
	listener   *quic.Listener
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	mu         sync.Mutex
	listening  bool
}

func NewQUICTransport() *QUICTransport {
	return &QUICTransport{
		tlsConfig: generateTLSConfig(),
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		},
	}
}

func (t *QUICTransport) Listen(_ context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listening {
		return errors.New("transport already listening")
	}
	listener, err := quic.ListenAddr(address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}
	t.listener = listener
	t.listening = true
	return nil
}

func (t *QUICTransport) Accept(ctx context.Context) (Connection, error) {
	t.mu.Lock()
	listener := t.listener
	t.mu.Unlock()
	if listener == nil {
		return nil, errors.New("transport not listening")
	}
	conn, err := listener.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accept quic connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accept quic stream")
	}
	return newQUICConnection(conn, stream), nil
}

func (t *QUICTransport) Dial(ctx context.Context, address string) (Connection, error) {
	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	conn, err := quic.DialAddr(ctx, address, clientTLS, t.quicConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open quic stream")
	}
	return newQUICConnection(conn, stream), nil
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

type quicConnection struct {
	conn    *quic.Conn
	stream  *quic.Stream
	writeMu sync.Mutex
}

func newQUICConnection(conn *quic.Conn, stream *quic.Stream) *quicConnection {
	return &quicConnection{conn: conn, stream: stream}
}

func (c *quicConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.stream, data)
}

func (c *quicConnection) Receive() ([]byte, error) {
	return readFrame(c.stream)
}

func (c *quicConnection) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

func (c *quicConnection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// generateTLSConfig builds a self-signed certificate. Development default;
// production deployments supply their own certificate.
func generateTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"rollsync"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{quicALPN},
	}
}

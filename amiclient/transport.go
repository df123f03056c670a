package amiclient

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/amistreams/errors"
)

// transportConfig carries the dial-time settings the transport needs.
type transportConfig struct {
	dialTimeout  time.Duration
	writeTimeout time.Duration
	tlsConfig    *tls.Config
}

// transport owns one TCP (or TLS) connection and its parser. Reads are
// blocking with no deadline: silence is normal between events, and the
// read loop is unblocked at shutdown by closing the socket. Writes are
// serialized and deadline-bounded so one stalled send cannot interleave
// frames or hang forever.
type transport struct {
	conn   net.Conn
	parser *frameParser
	cfg    transportConfig

	writeMu sync.Mutex

	// closing flips before the deliberate Close so the read loop can
	// tell an orderly shutdown from a lost connection.
	closing atomic.Bool
}

// dialTransport connects, completes the TLS handshake when configured,
// and consumes the greeting banner. It returns the transport ready for
// frame traffic plus the protocol version the server advertised.
func dialTransport(ctx context.Context, addr string, cfg transportConfig) (*transport, string, error) {
	dialer := &net.Dialer{Timeout: cfg.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, "", errors.WrapTransient(err, "Transport", "dial", "connect to "+addr)
	}

	if cfg.tlsConfig != nil {
		tlsConn := tls.Client(conn, cfg.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, "", errors.WrapTransient(err, "Transport", "dial", "tls handshake with "+addr)
		}
		conn = tlsConn
	}

	t := &transport{
		conn:   conn,
		parser: newFrameParser(conn),
		cfg:    cfg,
	}

	version, err := t.parser.readBanner()
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return t, version, nil
}

// readFrame blocks until a complete frame arrives or the connection
// fails. Called only from the client's read loop.
func (t *transport) readFrame() (*Frame, error) {
	return t.parser.next()
}

// write sends raw frame bytes. The write deadline applies per call and
// is cleared by the next write's deadline, so it never leaks into the
// read path.
func (t *transport) write(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closing.Load() {
		return errors.ErrShuttingDown
	}
	if t.cfg.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout)); err != nil {
			return errors.Wrap(err, "Transport", "write", "set deadline")
		}
	}
	if _, err := t.conn.Write(b); err != nil {
		return errors.WrapTransient(err, "Transport", "write", "send frame")
	}
	return nil
}

// close tears the connection down. Marking closing first lets the read
// loop attribute the resulting read error to shutdown instead of loss.
func (t *transport) close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// isClosing reports whether close has been initiated.
func (t *transport) isClosing() bool {
	return t.closing.Load()
}

// remoteAddr returns the peer address for logs.
func (t *transport) remoteAddr() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}

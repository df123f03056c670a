package amiclient

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestServer is a scripted in-process manager endpoint for tests. It
// speaks just enough of the protocol to exercise the client: greeting
// banner, login, correlated responses, pushed events, and deliberately
// broken frames. No real PBX required.
type TestServer struct {
	t  *testing.T
	ln net.Listener

	mu         sync.Mutex
	conns      []*serverConn
	responders map[string]ActionResponder
	recorded   []*Frame
	authFail   bool
	banner     string
	closed     bool
}

// ActionResponder produces the response pairs for one received action.
// The server appends the ActionID echo itself. Returning nil swallows
// the action entirely, which is how timeout paths get exercised.
type ActionResponder func(action *Frame) []Pair

// TestServerOption customizes server behavior before it starts.
type TestServerOption func(*TestServer)

// WithAuthFailure makes every Login attempt fail.
func WithAuthFailure() TestServerOption {
	return func(s *TestServer) {
		s.authFail = true
	}
}

// WithBanner overrides the greeting line, including its prefix. Used
// to test greeting validation.
func WithBanner(banner string) TestServerOption {
	return func(s *TestServer) {
		s.banner = banner
	}
}

// WithResponder installs a scripted responder for one action name.
func WithResponder(action string, fn ActionResponder) TestServerOption {
	return func(s *TestServer) {
		s.responders[action] = fn
	}
}

// NewTestServer starts a manager server on a random loopback port. The
// server is shut down automatically when the test finishes.
func NewTestServer(t *testing.T, opts ...TestServerOption) *TestServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("test server listen: %v", err)
	}

	s := &TestServer{
		t:          t,
		ln:         ln,
		responders: make(map[string]ActionResponder),
		banner:     bannerPrefix + "7.0.3",
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the listen address for clients to dial.
func (s *TestServer) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the listener and drops every connection.
func (s *TestServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	s.ln.Close()
	for _, sc := range conns {
		sc.conn.Close()
	}
}

// DropConnections severs every live connection while keeping the
// listener up, simulating a network partition the client can recover
// from.
func (s *TestServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, sc := range conns {
		sc.conn.Close()
	}
}

// ConnectionCount returns the number of live connections.
func (s *TestServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// PushEvent sends an event frame on every live connection.
func (s *TestServer) PushEvent(name string, fields map[string]string) {
	pairs := []Pair{{Key: keyEvent, Value: name}}
	for k, v := range fields {
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	s.broadcast(pairs)
}

// PushRaw writes arbitrary lines plus the frame terminator on every
// live connection. Tests use it to inject malformed frames.
func (s *TestServer) PushRaw(lines ...string) {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	raw := sb.String()

	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, sc := range conns {
		sc.writeRaw(raw)
	}
}

// ReceivedActions returns a copy of every action frame the server has
// read, in arrival order.
func (s *TestServer) ReceivedActions() []*Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Frame, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// WaitForAction polls until an action with the given name has been
// received or the timeout passes.
func (s *TestServer) WaitForAction(name string, timeout time.Duration) (*Frame, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, f := range s.ReceivedActions() {
			if f.Value(keyAction) == name {
				return f, true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}

func (s *TestServer) broadcast(pairs []Pair) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, sc := range conns {
		sc.writeFrame(pairs)
	}
}

func (s *TestServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns = append(s.conns, sc)
		s.mu.Unlock()

		go s.serve(sc)
	}
}

func (s *TestServer) serve(sc *serverConn) {
	defer s.forget(sc)

	sc.writeRaw(s.banner + "\r\n")

	parser := newFrameParser(sc.conn)
	for {
		frame, err := parser.next()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.recorded = append(s.recorded, frame)
		s.mu.Unlock()
		s.respond(sc, frame)
	}
}

func (s *TestServer) respond(sc *serverConn, action *Frame) {
	name := action.Value(keyAction)

	s.mu.Lock()
	responder := s.responders[name]
	authFail := s.authFail
	s.mu.Unlock()

	var pairs []Pair
	switch {
	case responder != nil:
		pairs = responder(action)
		if pairs == nil {
			return // scripted silence
		}
	case name == "Login":
		if authFail {
			pairs = []Pair{
				{Key: keyResponse, Value: "Error"},
				{Key: keyMessage, Value: "Authentication failed"},
			}
		} else {
			pairs = []Pair{
				{Key: keyResponse, Value: "Success"},
				{Key: keyMessage, Value: "Authentication accepted"},
			}
		}
	case name == "Ping":
		pairs = []Pair{
			{Key: keyResponse, Value: "Success"},
			{Key: "Ping", Value: "Pong"},
			{Key: "Timestamp", Value: fmt.Sprintf("%d.%06d", time.Now().Unix(), time.Now().Nanosecond()/1000)},
		}
	case name == "Logoff":
		pairs = []Pair{
			{Key: keyResponse, Value: "Goodbye"},
			{Key: keyMessage, Value: "Thanks for all the fish."},
		}
	default:
		pairs = []Pair{
			{Key: keyResponse, Value: "Success"},
			{Key: keyMessage, Value: name + " completed"},
		}
	}

	if id := action.Value(keyActionID); id != "" {
		pairs = append(pairs, Pair{Key: keyActionID, Value: id})
	}
	sc.writeFrame(pairs)
}

func (s *TestServer) forget(sc *serverConn) {
	sc.conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.conns {
		if other == sc {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// serverConn serializes writes on one accepted connection so pushed
// events and responses never interleave mid-frame.
type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (sc *serverConn) writeFrame(pairs []Pair) {
	var sb strings.Builder
	for _, p := range pairs {
		sb.WriteString(p.Key)
		sb.WriteString(": ")
		sb.WriteString(p.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	sc.writeRaw(sb.String())
}

func (sc *serverConn) writeRaw(raw string) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	sc.conn.Write([]byte(raw))
}

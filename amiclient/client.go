// Package amiclient implements a resilient client for the Asterisk
// Manager Interface. One TCP connection carries both correlated
// request/response traffic (actions) and an unsolicited event stream;
// the client keeps the two apart, survives connection loss with
// backoff reconnection, and sheds load through per-class circuit
// breakers instead of stalling its read loop.
package amiclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/metric"
)

// Status is the client's connection lifecycle state.
type Status int32

// Connection statuses. StatusFailed is terminal until a manual
// Reconnect: automatic recovery has given up.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

// String returns a human-readable status name
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults applied by NewClient when options do not override them.
const (
	defaultDialTimeout    = 10 * time.Second
	defaultActionTimeout  = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultDrainTimeout   = 5 * time.Second
	defaultEventQueueSize = 256
	defaultEventMask      = "on"
)

// Breaker classes. Each traffic class fails independently so an action
// timeout storm cannot block reconnection and an event flood cannot
// block actions.
const (
	breakerConnect = "connect"
	breakerAction  = "action"
	breakerEvent   = "event"
)

// Client is a manager connection with automatic reconnection, action
// correlation, and categorized event routing. All methods are safe for
// concurrent use.
type Client struct {
	address  string
	username string
	secret   string

	// Configuration
	dialTimeout       time.Duration
	actionTimeout     time.Duration
	writeTimeout      time.Duration
	drainTimeout      time.Duration
	reconnectPolicy   ReconnectPolicy
	breakerPolicies   map[string]BreakerPolicy
	eventQueueSize    int
	eventMask         string
	keepAliveInterval time.Duration
	tlsConfig         *tls.Config

	logger          Logger
	metrics         *metric.Metrics
	metricsRegistry *metric.MetricsRegistry

	// Callbacks
	onDisconnect     func(error)
	onReconnect      func()
	onConnectionLost func(error)
	onStatusChange   func(Status)

	// Connection state
	mu              sync.RWMutex
	transport       *transport
	protocolVersion string

	status      atomic.Value // Status
	connectedAt atomic.Value // time.Time

	correlator *correlator
	router     *eventRouter
	breakers   map[string]*breaker
	stats      counters
	eventSeq   atomic.Uint64

	// Lifecycle
	rootCtx      context.Context
	rootCancel   context.CancelFunc
	wg           sync.WaitGroup
	reconnecting atomic.Bool
	started      atomic.Bool // router pools and keepalive launched
	closeMu      sync.Mutex  // Ensures Close() is called only once
	closed       atomic.Bool // Track if client is closed
}

// NewClient creates a manager client for the given address and
// credentials with optional configuration. The client does not connect
// until Connect is called.
func NewClient(address, username, secret string, opts ...ClientOption) (*Client, error) {
	if address == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: address", errors.ErrMissingConfig),
			"Client", "NewClient", "validate address")
	}
	if username == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: username", errors.ErrMissingConfig),
			"Client", "NewClient", "validate username")
	}

	c := &Client{
		address:  address,
		username: username,
		secret:   secret,
		logger:   &defaultLogger{},
		// Sensible defaults
		dialTimeout:     defaultDialTimeout,
		actionTimeout:   defaultActionTimeout,
		writeTimeout:    defaultWriteTimeout,
		drainTimeout:    defaultDrainTimeout,
		reconnectPolicy: DefaultReconnectPolicy(),
		breakerPolicies: map[string]BreakerPolicy{
			breakerConnect: DefaultBreakerPolicy(),
			breakerAction:  DefaultBreakerPolicy(),
			breakerEvent:   DefaultBreakerPolicy(),
		},
		eventQueueSize: defaultEventQueueSize,
		eventMask:      defaultEventMask,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.correlator = newCorrelator()
	c.router = newEventRouter(c.eventQueueSize, c.logger, c.metrics, c.metricsRegistry)

	c.breakers = make(map[string]*breaker, len(c.breakerPolicies))
	for class, policy := range c.breakerPolicies {
		b := newBreaker(class, policy)
		b.onStateChange = c.breakerStateChanged
		c.breakers[class] = b
	}

	c.status.Store(StatusDisconnected)
	c.connectedAt.Store(time.Time{})
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())

	c.logger.Debugf("Created manager client for %s", address)

	return c, nil
}

// Address returns the manager address the client was built with.
func (c *Client) Address() string {
	return c.address
}

// Status returns the current connection status
func (c *Client) Status() Status {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(Status)
}

// IsConnected returns true when the client is logged in and usable.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// ProtocolVersion returns the version string from the server greeting,
// empty until the first successful connect.
func (c *Client) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

// setStatus updates the connection status and notifies observers.
func (c *Client) setStatus(status Status) {
	prev := c.Status()
	if prev == status {
		return
	}
	c.status.Store(status)
	if c.metrics != nil {
		c.metrics.RecordManagerStatus(status == StatusConnected)
	}
	if c.onStatusChange != nil {
		c.onStatusChange(status)
	}
	c.logger.Debugf("Status %s -> %s", prev, status)
}

func (c *Client) breakerStateChanged(class string, from, to BreakerState) {
	c.logger.Printf("%s breaker %s -> %s", class, from, to)
	if c.metrics != nil {
		c.metrics.RecordManagerCircuitState(class, int(to))
	}
}

// Connect dials the server, consumes the greeting, and logs in. It is
// idempotent while connected. A failed connect leaves the client
// disconnected; it does not start the automatic reconnect loop, which
// only guards an established connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrShuttingDown, "Client", "Connect", "check lifecycle")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status() == StatusConnected {
		return nil
	}

	if err := c.startRouting(); err != nil {
		return err
	}

	c.setStatus(StatusConnecting)
	if err := c.connectLocked(ctx); err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}
	c.setStatus(StatusConnected)
	c.logger.Printf("Connected to %s (protocol %s)", c.address, c.protocolVersion)
	return nil
}

// startRouting launches the event pools and keepalive loop once for
// the client's lifetime.
func (c *Client) startRouting() error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.router.start(c.rootCtx); err != nil {
		c.started.Store(false)
		return err
	}
	if c.keepAliveInterval > 0 {
		c.wg.Add(1)
		go c.keepAliveLoop()
	}
	return nil
}

// connectLocked performs one dial and login attempt. Caller holds c.mu
// and has already set a transitional status.
func (c *Client) connectLocked(ctx context.Context) error {
	connectBreaker := c.breakers[breakerConnect]
	if err := connectBreaker.Allow(); err != nil {
		return errors.Wrap(err, "Client", "Connect", "check circuit")
	}

	t, version, err := dialTransport(ctx, c.address, transportConfig{
		dialTimeout:  c.dialTimeout,
		writeTimeout: c.writeTimeout,
		tlsConfig:    c.tlsConfig,
	})
	if err != nil {
		connectBreaker.RecordFailure()
		return err
	}

	c.transport = t
	c.protocolVersion = version
	c.eventSeq.Store(0)

	c.wg.Add(1)
	go c.readLoop(t)

	if err := c.login(ctx, t); err != nil {
		connectBreaker.RecordFailure()
		c.transport = nil
		t.close()
		return err
	}

	connectBreaker.RecordSuccess()
	c.connectedAt.Store(time.Now())
	return nil
}

// login authenticates on a freshly dialed transport. The read loop is
// already running, so the response arrives through the correlator like
// any other.
func (c *Client) login(ctx context.Context, t *transport) error {
	params := map[string]string{
		"Username": c.username,
		"Secret":   c.secret,
	}
	if c.eventMask != "" {
		params["Events"] = c.eventMask
	}

	resp, err := c.sendOn(ctx, t, Action{Name: "Login", Params: params})
	if err != nil {
		return errors.Wrap(err, "Client", "login", "send login")
	}
	if !resp.Succeeded() {
		return errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrAuthFailed, resp.Message),
			"Client", "login", "authenticate")
	}
	return nil
}

// Reconnect re-establishes a connection by hand. It is a no-op while
// connected and is the only way out of StatusFailed.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrShuttingDown, "Client", "Reconnect", "check lifecycle")
	}
	if c.Status() == StatusConnected {
		return nil
	}
	return c.Connect(ctx)
}

// readLoop pulls frames off one transport until it dies. Each
// transport gets its own loop; the loop never outlives its transport.
// Invalid frames are dropped and reading continues, already realigned
// by the parser. Everything else is connection loss.
func (c *Client) readLoop(t *transport) {
	defer c.wg.Done()

	for {
		frame, err := t.readFrame()
		if err != nil {
			if t.isClosing() || c.closed.Load() {
				return
			}
			if stderrors.Is(err, errors.ErrInvalidFrame) {
				c.stats.malformedFrames.Add(1)
				c.logger.Printf("Invalid frame dropped: %v", err)
				continue
			}
			c.handleConnectionLoss(t, err)
			return
		}
		c.dispatchFrame(frame)
	}
}

// dispatchFrame classifies one frame. A Response key means correlated
// reply, an Event key means unsolicited event, anything else is
// malformed and dropped. The parser realigns on frame boundaries, so
// one bad frame never poisons the stream.
func (c *Client) dispatchFrame(f *Frame) {
	switch {
	case f.Has(keyResponse):
		resp := parseResponse(f)
		c.stats.responses.Add(1)
		if resp.ActionID == "" || !c.correlator.resolve(resp.ActionID, resp) {
			c.stats.orphanResponses.Add(1)
			c.logger.Debugf("Orphan response %s (action id %q) discarded",
				resp.Status, resp.ActionID)
		}

	case f.Has(keyEvent):
		eventBreaker := c.breakers[breakerEvent]
		if err := eventBreaker.Allow(); err != nil {
			c.router.noteDrop()
			return
		}
		evt := parseEvent(f, c.eventSeq.Add(1))
		c.stats.events.Add(1)
		if dropped := c.router.dispatch(evt); dropped {
			eventBreaker.RecordFailure()
		} else {
			eventBreaker.RecordSuccess()
		}

	default:
		c.stats.malformedFrames.Add(1)
		first := ""
		if pairs := f.Pairs(); len(pairs) > 0 {
			first = pairs[0].Key
		}
		c.logger.Printf("Malformed frame dropped (%d fields, first key %q)", f.Len(), first)
	}
}

// handleConnectionLoss reacts to an unexpected read failure. In-flight
// actions fail immediately rather than waiting out their timers, and
// the reconnect loop starts unless one is already running.
func (c *Client) handleConnectionLoss(t *transport, cause error) {
	c.mu.Lock()
	if c.transport != t {
		// A newer transport already replaced this one.
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.mu.Unlock()
	t.close()

	c.stats.connectionLoss.Add(1)
	lost := errors.WrapTransient(
		fmt.Errorf("%w: %v", errors.ErrConnectionLost, cause),
		"Client", "readLoop", "read frame")
	c.logger.Errorf("Connection to %s lost: %v", t.remoteAddr(), cause)

	failed := c.correlator.failAll(lost)
	if failed > 0 {
		c.logger.Printf("Failed %d in-flight actions after connection loss", failed)
	}

	c.setStatus(StatusReconnecting)
	if c.onDisconnect != nil {
		c.onDisconnect(lost)
	}

	if c.reconnecting.CompareAndSwap(false, true) {
		c.wg.Add(1)
		go c.reconnectLoop(lost)
	}
}

// reconnectLoop retries the connection with exponential backoff until
// it succeeds, the client closes, or the attempt budget runs out.
// Exactly one loop runs at a time.
func (c *Client) reconnectLoop(cause error) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	policy := c.reconnectPolicy
	delay := policy.InitialDelay

	for attempt := 1; ; attempt++ {
		if policy.MaxAttempts > 0 && attempt > policy.MaxAttempts {
			c.setStatus(StatusFailed)
			c.logger.Errorf("Giving up after %d reconnect attempts", policy.MaxAttempts)
			if c.onConnectionLost != nil {
				c.onConnectionLost(cause)
			}
			return
		}

		select {
		case <-c.rootCtx.Done():
			return
		case <-time.After(delay):
		}

		if c.closed.Load() {
			return
		}

		err := c.reconnectOnce()
		if err == nil {
			c.stats.reconnects.Add(1)
			if c.metrics != nil {
				c.metrics.RecordManagerReconnect()
			}
			c.logger.Printf("Reconnected to %s after %d attempts", c.address, attempt)
			if c.onReconnect != nil {
				c.onReconnect()
			}
			return
		}

		cause = err
		c.logger.Printf("Reconnect attempt %d failed: %v", attempt, err)
		delay = nextDelay(delay, policy)
	}
}

// reconnectOnce performs a single dial and login under the connection
// lock, leaving the status untouched on failure so the loop keeps
// showing StatusReconnecting.
func (c *Client) reconnectOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errors.ErrShuttingDown
	}
	if err := c.connectLocked(c.rootCtx); err != nil {
		return err
	}
	c.setStatus(StatusConnected)
	return nil
}

// nextDelay grows the backoff and spreads it with jitter.
func nextDelay(current time.Duration, policy ReconnectPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter > 0 {
		next += time.Duration(rand.Float64() * policy.Jitter * float64(next))
	}
	return next
}

// Send transmits an action and waits for its response. The returned
// Response may carry an error status from the server; only transport
// and correlation problems surface as Go errors. Callers branch on
// Response.Succeeded for protocol-level outcomes.
func (c *Client) Send(ctx context.Context, action Action) (*Response, error) {
	if c.closed.Load() {
		return nil, errors.Wrap(errors.ErrShuttingDown, "Client", "Send", "check lifecycle")
	}
	if st := c.Status(); st != StatusConnected {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: client is %s", errors.ErrNoConnection, st),
			"Client", "Send", "check connection")
	}

	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()
	if t == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Send", "get transport")
	}

	return c.sendOn(ctx, t, action)
}

// sendOn runs the correlated send cycle on a specific transport:
// register, write, wait for exactly one resolution. Breaker accounting
// happens here so every outcome is counted exactly once.
func (c *Client) sendOn(ctx context.Context, t *transport, action Action) (*Response, error) {
	if action.Name == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: action name is empty", errors.ErrInvalidConfig),
			"Client", "Send", "validate action")
	}

	actionBreaker := c.breakers[breakerAction]
	if err := actionBreaker.Allow(); err != nil {
		return nil, errors.Wrap(err, "Client", "Send", "check circuit")
	}

	if action.ID == "" {
		action.ID = uuid.NewString()
	}

	timeout := c.actionTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	entry, err := c.correlator.register(action.ID, action.Name, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Send", "register action")
	}

	start := time.Now()
	if err := t.write(action.encode()); err != nil {
		c.correlator.abandon(action.ID, err)
		<-entry.done
		actionBreaker.RecordFailure()
		c.recordAction(action.Name, "write_failed", start)
		return nil, errors.Wrap(err, "Client", "Send", "write action")
	}
	c.stats.actionsSent.Add(1)

	select {
	case <-entry.done:
	case <-ctx.Done():
		c.correlator.abandon(action.ID, ctx.Err())
		<-entry.done
	}

	if entry.resp != nil {
		// Any correlated response counts as breaker success, including
		// protocol-level errors: the transport and server are alive.
		actionBreaker.RecordSuccess()
		c.recordAction(action.Name, entry.resp.Status.String(), start)
		return entry.resp, nil
	}

	err = entry.err
	switch {
	case stderrors.Is(err, errors.ErrActionTimeout),
		stderrors.Is(err, errors.ErrConnectionLost):
		actionBreaker.RecordFailure()
		c.recordAction(action.Name, "timeout", start)
	case stderrors.Is(err, context.Canceled),
		stderrors.Is(err, context.DeadlineExceeded):
		// Caller gave up; says nothing about server health.
		c.recordAction(action.Name, "canceled", start)
	default:
		c.recordAction(action.Name, "failed", start)
	}
	return nil, errors.Wrap(err, "Client", "Send", "await response")
}

func (c *Client) recordAction(name, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordAction(name, status, time.Since(start))
	}
}

// SendAction is a convenience wrapper for callers that hold a name and
// parameter map rather than an Action value. A timeout of zero uses
// the configured action timeout.
func (c *Client) SendAction(name string, params map[string]string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.actionTimeout
	}
	ctx, cancel := context.WithTimeout(c.rootCtx, timeout)
	defer cancel()
	return c.Send(ctx, Action{Name: name, Params: params})
}

// Ping round-trips a Ping action, verifying the connection end to end.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Send(ctx, Action{Name: "Ping"})
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		return errors.WrapTransient(
			fmt.Errorf("ping rejected: %s", resp.Message),
			"Client", "Ping", "check response")
	}
	return nil
}

// OnEvent registers a handler for the named event, or for all events
// when name is WildcardEvent. Handlers run on the category worker for
// the event, in registration order.
func (c *Client) OnEvent(name string, handler EventHandler, opts ...HandlerOption) (HandlerID, error) {
	return c.router.subscribe(name, handler, opts...)
}

// OffEvent removes a previously registered handler.
func (c *Client) OffEvent(id HandlerID) bool {
	return c.router.unsubscribe(id)
}

// AddEventFilter appends a global filter applied before any handler
// dispatch. Rejected events are counted, not delivered.
func (c *Client) AddEventFilter(f EventFilter) {
	c.router.addFilter(f)
}

// ClearEventFilters removes every global filter.
func (c *Client) ClearEventFilters() {
	c.router.clearFilters()
}

// Stats returns a snapshot of client activity.
func (c *Client) Stats() Stats {
	s := c.stats.snapshot()
	s.Status = c.Status()
	s.Address = c.address

	c.mu.RLock()
	s.ProtocolVersion = c.protocolVersion
	c.mu.RUnlock()

	if s.Status == StatusConnected {
		if at, ok := c.connectedAt.Load().(time.Time); ok && !at.IsZero() {
			s.ConnectedAt = at
			s.Uptime = time.Since(at)
		}
	}
	s.PendingActions = c.correlator.count()
	s.Router = c.router.stats()
	for _, class := range []string{breakerConnect, breakerAction, breakerEvent} {
		s.Breakers = append(s.Breakers, c.breakers[class].Snapshot())
	}
	return s
}

// ResetStats zeroes activity counters and router statistics. Breaker
// state is left alone: it reflects live health, not history.
func (c *Client) ResetStats() {
	c.stats.reset()
	c.router.resetStats()
}

// WaitForConnection waits for the connection to be established
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if c.IsConnected() {
				return nil
			}
		}
	}
}

// keepAliveLoop pings the server on a fixed interval while connected.
func (c *Client) keepAliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.rootCtx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				continue
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, c.actionTimeout)
			if err := c.Ping(ctx); err != nil {
				c.logger.Debugf("Keepalive ping failed: %v", err)
			}
			cancel()
		}
	}
}

// Close shuts the client down: drain in-flight actions, best-effort
// Logoff, drop the connection, stop routing. Safe to call more than
// once; later calls return nil.
func (c *Client) Close(ctx context.Context) error {
	// Ensure Close() is only called once
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil // Already closed
	}
	c.closed.Store(true)

	// Collect all errors during cleanup
	var errs []error

	// Drain: no new sends are admitted past the closed flag, so
	// pending can only shrink. Give it the drain timeout honoring any
	// earlier context deadline.
	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}
	if err := c.drainPending(ctx, drainTimeout); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t != nil {
		// Best-effort farewell. The Goodbye response is not awaited;
		// the socket is about to close either way.
		if err := t.write(Action{Name: "Logoff"}.encode()); err != nil {
			c.logger.Debugf("Logoff write failed: %v", err)
		}
		if err := t.close(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "close transport"))
		}
	}

	if failed := c.correlator.shutdown(errors.ErrShuttingDown); failed > 0 {
		c.logger.Printf("Abandoned %d in-flight actions at shutdown", failed)
	}

	c.rootCancel()
	c.wg.Wait()

	if c.started.Load() {
		if err := c.router.stop(drainTimeout); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "stop router"))
		}
	}

	// Clear sensitive credentials from memory
	c.secret = ""

	c.setStatus(StatusDisconnected)
	c.logger.Printf("Closed manager client for %s", c.address)

	// Combine all errors
	if len(errs) > 0 {
		return fmt.Errorf("close completed with errors: %v", errs)
	}
	return nil
}

// drainPending polls until in-flight actions resolve or time runs out.
func (c *Client) drainPending(ctx context.Context, timeout time.Duration) error {
	if c.correlator.count() == 0 || timeout <= 0 {
		return nil
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
		case <-deadline:
			return errors.WrapTransient(
				fmt.Errorf("drain timeout after %v with %d actions pending",
					timeout, c.correlator.count()),
				"Client", "Close", "drain pending")
		case <-ticker.C:
			if c.correlator.count() == 0 {
				return nil
			}
		}
	}
}

// Package natsclient provides the gateway's NATS connection: the sink
// side of the pipeline. Manager events leave through Publish, call
// records and runtime config live in JetStream KV buckets, and the
// live feed reads back through Subscribe.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/amistreams/errors"
)

// ConnectionStatus is the coarse state of the NATS side of the gateway.
type ConnectionStatus int

// Connection states.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the status label used in logs and health output.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Well-known errors callers can match with errors.Is.
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("NATS circuit breaker is open")
)

// connBreaker trips after consecutive connect failures and holds the
// client off the server for an exponentially growing backoff. It is a
// deliberately small cousin of the per-class breakers on the manager
// side: the NATS library already reconnects on its own, so all this
// guards is the initial dial path.
type connBreaker struct {
	mu          sync.Mutex
	threshold   int32
	maxBackoff  time.Duration
	failures    int32 // total since last success, for introspection
	round       int32 // failures in the current circuit round
	backoff     time.Duration
	open        bool
	lastFailure time.Time
}

func newConnBreaker(threshold int32, maxBackoff time.Duration) *connBreaker {
	return &connBreaker{
		threshold:  threshold,
		maxBackoff: maxBackoff,
		backoff:    time.Second,
	}
}

// record notes one failure. When the round reaches the threshold the
// breaker opens and record returns true with the hold-off duration.
func (b *connBreaker) record() (tripped bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.round++
	b.lastFailure = time.Now()

	if b.round < b.threshold {
		return false, 0
	}

	wait = b.backoff
	b.backoff *= 2
	if b.backoff > b.maxBackoff {
		b.backoff = b.maxBackoff
	}
	b.round = 0

	if !b.open {
		b.open = true
		return true, wait
	}
	// Already open, failures kept coming: the grown backoff applies to
	// the next hold-off, nothing to schedule here.
	return false, wait
}

// halfClose lets the next Connect attempt through after the hold-off.
func (b *connBreaker) halfClose() {
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
}

// reset restores the closed state after a successful connect.
func (b *connBreaker) reset() {
	b.mu.Lock()
	b.failures = 0
	b.round = 0
	b.backoff = time.Second
	b.open = false
	b.lastFailure = time.Time{}
	b.mu.Unlock()
}

func (b *connBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *connBreaker) failureCount() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *connBreaker) currentBackoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoff
}

// Client owns the gateway's single NATS connection and its JetStream
// handle. One Client is shared by the bridge, the call journal, the
// config manager and the live feed.
type Client struct {
	url    string
	logger *slog.Logger

	status  atomic.Value // ConnectionStatus
	breaker *connBreaker

	// Breaker tuning, consumed by NewClient when building the breaker.
	breakerThreshold int32
	maxBackoff       time.Duration

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// Dial and drain behavior.
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Credentials are cleared on Close.
	username string
	password string
	token    string

	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	jsMetrics       *jetstreamMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	onHealthChange func(bool)

	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for the given server URL. Nothing is
// dialed until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: slog.Default(),

		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		healthInterval:   10 * time.Second,
		metricsInterval:  30 * time.Second,
		breakerThreshold: 5,
		maxBackoff:       time.Minute,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.breaker = newConnBreaker(c.breakerThreshold, c.maxBackoff)
	c.status.Store(StatusDisconnected)

	c.logger.Debug("Created NATS client", "url", url)
	return c, nil
}

// URL returns the configured server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the connect failure count since the last success.
func (c *Client) Failures() int32 {
	return c.breaker.failureCount()
}

// Backoff returns the hold-off the breaker will apply on its next trip.
func (c *Client) Backoff() time.Duration {
	return c.breaker.currentBackoff()
}

// GetConnection exposes the raw connection for callers that need it,
// such as the NATS log handler.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// WaitForConnection blocks until the connection is healthy or the
// context expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if c.IsHealthy() {
				return nil
			}
		}
	}
}

// recordDialFailure feeds the breaker and schedules the half-close.
func (c *Client) recordDialFailure() {
	tripped, wait := c.breaker.record()
	if !tripped {
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return
	}

	c.setStatus(StatusCircuitOpen)
	c.logger.Warn("NATS circuit breaker opened", "backoff", wait)
	time.AfterFunc(wait, func() {
		c.breaker.halfClose()
		if c.Status() == StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
	})
}

// dialOptions builds the nats.Connect options from the client config.
func (c *Client) dialOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleAsyncError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsEnabled {
		if c.tlsCertFile != "" && c.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
		}
		if c.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(c.tlsCAFile))
		}
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect dials the server and initializes JetStream. A tripped
// breaker short-circuits the attempt with ErrCircuitOpen.
func (c *Client) Connect(ctx context.Context) error {
	if c.breaker.isOpen() {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	// nats.Connect has no context form; run it on the side so the
	// caller's deadline still applies.
	dialDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.dialOptions()...)
		if err != nil {
			dialDone <- err
			return
		}
		js, jsErr := jetstream.New(conn)

		c.mu.Lock()
		c.conn = conn
		if jsErr == nil {
			c.js = js
		}
		c.mu.Unlock()
		dialDone <- nil
	}()

	select {
	case err := <-dialDone:
		if err != nil {
			c.recordDialFailure()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordDialFailure()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.breaker.reset()
	c.logger.Info("Connected to NATS", "url", c.url)

	if c.healthInterval > 0 {
		c.startHealthMonitoring()
	}
	if c.jsMetrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.jsMetrics.startPoller(context.Background(), c.metricsInterval)
	}
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}

	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.stopHealthMonitoring()
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		if err := c.drainLocked(ctx); err != nil {
			errs = append(errs, err)
		}
		c.conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

// drainLocked drains in-flight messages, bounded by the configured
// drain timeout and the caller's context.
func (c *Client) drainLocked(ctx context.Context) error {
	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- c.conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-time.After(drainTimeout):
		c.logger.Warn("NATS drain timeout, forcing close", "timeout", drainTimeout)
		return errors.WrapTransient(
			fmt.Errorf("drain timeout after %v", drainTimeout),
			"Client", "Close", "drain timeout")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
	}
}

// Publish sends one message on a core NATS subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject. Each delivery gets a
// bounded context derived from the one passed here, so a stuck handler
// cannot hold a message slot forever.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return err
	}

	c.subs = append(c.subs, sub)
	return nil
}

// jetStream returns the JetStream handle established by Connect.
func (c *Client) jetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("JetStream not initialized"),
			"Client", "jetStream", "get JetStream context")
	}
	return c.js, nil
}

// EnsureStream creates the stream if it does not exist and updates its
// configuration if it does. The bridge uses this at start so published
// events land in a durable stream rather than plain core NATS.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.jsMetrics.recordError("ensure_stream")
		return nil, errors.WrapTransient(err, "Client", "EnsureStream",
			fmt.Sprintf("ensure stream %s", cfg.Name))
	}

	c.jsMetrics.trackStream(cfg.Name, stream)
	c.logger.Info("JetStream stream ready", "stream", cfg.Name, "subjects", cfg.Subjects)
	return stream, nil
}

// CreateKeyValueBucket returns the named KV bucket, creating it when it
// does not exist yet. Two gateways racing to create the same bucket
// both end up with the existing one.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Debug("Using existing KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err == nil {
		c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	}

	if isAlreadyExistsError(err) {
		// Lost the creation race; the bucket exists now.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			c.jsMetrics.recordError("kv_bucket")
			return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("access existing bucket %s", cfg.Bucket))
		}
		return bucket, nil
	}

	c.jsMetrics.recordError("kv_bucket")
	return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
		fmt.Sprintf("create bucket %s", cfg.Bucket))
}

// GetKeyValueBucket returns an existing KV bucket without creating it.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}
	return js.KeyValue(ctx, name)
}

// Connection event handlers wired through dialOptions. The library
// calls these from its own goroutines.

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Warn("NATS disconnected", "error", err)
	}

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.breaker.reset()
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleAsyncError(_ *nats.Conn, _ *nats.Subscription, err error) {
	// Async errors include slow-consumer notices that are not
	// connection failures, so they only get logged here.
	c.logger.Error("NATS async error", "error", err)
}

// startHealthMonitoring probes the connection with RTT checks and
// reconciles the status when the library's handlers were missed.
func (c *Client) startHealthMonitoring() {
	c.stopHealthMonitoring()

	c.mu.Lock()
	done := make(chan struct{})
	c.healthDone = done
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		lastHealthy := c.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.RLock()
				conn := c.conn
				c.mu.RUnlock()
				if conn == nil {
					continue
				}

				healthy := conn.IsConnected()
				if healthy {
					if _, err := conn.RTT(); err != nil {
						healthy = false
					}
				}

				if healthy && c.Status() != StatusConnected {
					c.setStatus(StatusConnected)
				} else if !healthy && c.Status() == StatusConnected {
					c.setStatus(StatusReconnecting)
				}

				if healthy != lastHealthy && c.onHealthChange != nil {
					c.onHealthChange(healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (c *Client) stopHealthMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

// isAlreadyExistsError matches the server's bucket/stream collision
// errors across nats.go versions.
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "stream name already in use")
}

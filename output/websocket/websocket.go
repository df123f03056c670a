// Package websocket provides the live feed component, a WebSocket server
// that streams bridged manager events to connected clients.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/natsclient"
	"github.com/c360/amistreams/pkg/buffer"
	"github.com/c360/amistreams/pkg/security"
	"github.com/c360/amistreams/pkg/tlsutil"
)

// Config holds configuration for the live feed server.
type Config struct {
	Port          int      `json:"port"`            // HTTP listen port
	Path          string   `json:"path"`            // WebSocket endpoint path
	Subjects      []string `json:"subjects"`        // NATS subjects to fan out
	RatePerSecond int      `json:"rate_per_second"` // Per-client delivery rate, 0 = unlimited
	RateBurst     int      `json:"rate_burst"`      // Per-client burst allowance
	QueueSize     int      `json:"queue_size"`      // Per-client pending queue capacity
	PingInterval  int      `json:"ping_interval"`   // Seconds between protocol pings
	WriteTimeout  int      `json:"write_timeout"`   // Per-frame write budget in seconds
}

// DefaultConfig returns default configuration for the live feed.
func DefaultConfig() Config {
	return Config{
		Port:          8088,
		Path:          "/ws",
		Subjects:      []string{"ami.event.>"},
		RatePerSecond: 200,
		RateBurst:     50,
		QueueSize:     256,
		PingInterval:  30,
		WriteTimeout:  10,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port != 0 && (c.Port < 1024 || c.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range 1024-65535", c.Port))
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"path must start with /")
	}
	if len(c.Subjects) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"at least one subject is required")
	}
	for _, s := range c.Subjects {
		if s == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"subjects must not be empty strings")
		}
	}
	if c.RatePerSecond < 0 || c.RatePerSecond > 10000 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_per_second must be between 0 and 10000")
	}
	if c.RatePerSecond > 0 && c.RateBurst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_burst must be at least 1 when rate limiting is enabled")
	}
	if c.QueueSize < 1 || c.QueueSize > 65536 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"queue_size must be between 1 and 65536")
	}
	if c.PingInterval < 5 || c.PingInterval > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"ping_interval must be between 5 and 300 seconds")
	}
	if c.WriteTimeout < 1 || c.WriteTimeout > 60 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"write_timeout must be between 1 and 60 seconds")
	}
	return nil
}

// FeedMessage wraps every frame sent to a client with type discrimination.
// Type is "event" for bridged manager events.
type FeedMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// clientRequest is a control message read from a client. A "subscribe"
// request replaces the client's subject filters; an empty subject list
// restores the default of everything the feed carries.
type clientRequest struct {
	Type     string   `json:"type"`
	Subjects []string `json:"subjects,omitempty"`
}

// outboundFrame is one pre-marshaled feed message queued for a client.
type outboundFrame struct {
	subject string
	data    []byte
}

// clientInfo holds per-connection state.
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	queue       buffer.Buffer[outboundFrame]
	notify      chan struct{}
	limiter     *rate.Limiter
	filters     []string
	filtersMu   sync.RWMutex
	lastPong    atomic.Value // stores time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex // gorilla/websocket panics on concurrent writes
}

// matches reports whether a frame on subject passes the client's filters.
func (c *clientInfo) matches(subject string) bool {
	c.filtersMu.RLock()
	defer c.filtersMu.RUnlock()
	if len(c.filters) == 0 {
		return true
	}
	for _, f := range c.filters {
		if subjectMatch(f, subject) {
			return true
		}
	}
	return false
}

// setFilters replaces the client's subject filters.
func (c *clientInfo) setFilters(subjects []string) {
	c.filtersMu.Lock()
	c.filters = subjects
	c.filtersMu.Unlock()
}

// subjectMatch matches subject against a NATS-style pattern where "*"
// matches exactly one token and ">" matches one or more trailing tokens.
func subjectMatch(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// Output implements the live feed WebSocket server.
type Output struct {
	name         string
	port         int
	path         string
	subjects     []string
	rateLimit    rate.Limit
	rateBurst    int
	queueSize    int
	pingInterval time.Duration
	pongWait     time.Duration
	writeTimeout time.Duration
	natsClient   *natsclient.Client
	security     security.Config
	logger       *slog.Logger

	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	// Lifecycle management
	shutdown      chan struct{}
	done          chan struct{}
	running       bool
	startTime     time.Time
	mu            sync.RWMutex
	lifecycleMu   sync.Mutex
	wg            *sync.WaitGroup // replaced on each start cycle
	tlsCleanup    func()
	tlsCleanupMu  sync.Mutex
	lifecycleCtx  context.Context
	lifecycleStop context.CancelFunc

	messageIDCounter atomic.Uint64

	// Counters
	messagesSent int64
	bytesSent    int64
	dropped      int64
	errorCount   int64
	lastActivity time.Time

	metrics *Metrics
}

var _ component.Discoverable = (*Output)(nil)
var _ component.LifecycleComponent = (*Output)(nil)

// Metrics holds Prometheus metrics for the live feed.
type Metrics struct {
	messagesReceived   *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	droppedTotal       prometheus.Counter
	errorsTotal        *prometheus.CounterVec
	uptimeSeconds      prometheus.Gauge
}

// newMetrics creates and registers live feed metrics. Returns nil when no
// registry is provided.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "messages_received_total",
			Help:      "Total messages received from NATS",
		}, []string{"subject"}),

		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "messages_sent_total",
			Help:      "Total frames delivered to WebSocket clients",
		}, []string{"subject"}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "bytes_sent_total",
			Help:      "Total bytes delivered to WebSocket clients",
		}),

		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),

		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),

		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),

		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "frames_dropped_total",
			Help:      "Frames evicted from client queues under backpressure",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "errors_total",
			Help:      "Live feed server errors",
		}, []string{"error_type"}),

		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amistreams",
			Subsystem: "livefeed",
			Name:      "server_uptime_seconds",
			Help:      "Live feed server uptime in seconds",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.messagesReceived,
		metrics.messagesSent,
		metrics.bytesSent,
		metrics.clientsConnected,
		metrics.connectionTotal,
		metrics.disconnectionTotal,
		metrics.droppedTotal,
		metrics.errorsTotal,
		metrics.uptimeSeconds,
	)

	return metrics
}

// New creates a live feed server from configuration and dependencies.
// The NATS client is optional; without one the server only carries
// frames pushed through deliver, which tests use directly.
func New(cfg Config, deps component.Dependencies) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool {
			// Origin policy is left to the deployment's ingress.
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	pingInterval := time.Duration(cfg.PingInterval) * time.Second

	return &Output{
		name:         "live-feed",
		port:         cfg.Port,
		path:         cfg.Path,
		subjects:     cfg.Subjects,
		rateLimit:    limit,
		rateBurst:    cfg.RateBurst,
		queueSize:    cfg.QueueSize,
		pingInterval: pingInterval,
		pongWait:     2 * pingInterval,
		writeTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		natsClient:   deps.NATSClient,
		security:     deps.Security,
		logger:       deps.GetLoggerWithComponent("live-feed"),
		upgrader:     upgrader,
		clients:      make(map[*websocket.Conn]*clientInfo),
		startTime:    time.Now(),
		metrics:      newMetrics(deps.MetricsRegistry),
	}, nil
}

// generateMessageID generates a unique frame ID for correlation.
func (w *Output) generateMessageID() string {
	counter := w.messageIDCounter.Add(1)
	return fmt.Sprintf("msg-%d-%d", time.Now().UnixMilli(), counter)
}

// Meta returns the component metadata.
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        w.name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket live feed on :%d%s for subjects %v", w.port, w.path, w.subjects),
		Version:     "1.0.0",
	}
}

// InputPorts returns the input ports for this component.
func (w *Output) InputPorts() []component.Port {
	ports := make([]component.Port, len(w.subjects))
	for i, subject := range w.subjects {
		ports[i] = component.Port{
			Name:        fmt.Sprintf("nats_input_%d", i),
			Direction:   component.DirectionInput,
			Required:    false,
			Description: fmt.Sprintf("NATS subscription for %s", subject),
			Config: component.NATSPort{
				Subject: subject,
			},
		}
	}
	return ports
}

// OutputPorts returns the output ports for this component.
func (w *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "websocket_endpoint",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: fmt.Sprintf("WebSocket endpoint at ws://0.0.0.0:%d%s", w.port, w.path),
			Config: component.NetworkPort{
				Protocol: "websocket",
				Host:     "0.0.0.0",
				Port:     w.port,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (w *Output) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"port": {
				Type:        "int",
				Description: "HTTP listen port for the WebSocket endpoint",
				Default:     8088,
				Category:    "basic",
			},
			"path": {
				Type:        "string",
				Description: "WebSocket endpoint path",
				Default:     "/ws",
				Category:    "basic",
			},
			"subjects": {
				Type:        "array",
				Description: "NATS subjects fanned out to clients",
				Default:     []string{"ami.event.>"},
				Category:    "basic",
			},
			"rate_per_second": {
				Type:        "int",
				Description: "Per-client delivery rate limit, 0 disables",
				Default:     200,
				Category:    "advanced",
			},
			"rate_burst": {
				Type:        "int",
				Description: "Per-client burst allowance",
				Default:     50,
				Category:    "advanced",
			},
			"queue_size": {
				Type:        "int",
				Description: "Per-client pending frame queue capacity",
				Default:     256,
				Category:    "advanced",
			},
			"ping_interval": {
				Type:        "int",
				Description: "Seconds between protocol pings",
				Default:     30,
				Category:    "advanced",
			},
			"write_timeout": {
				Type:        "int",
				Description: "Seconds allowed per frame write",
				Default:     10,
				Category:    "advanced",
			},
		},
		Required: []string{"port", "subjects"},
	}
}

// Health returns the current health status of the component.
func (w *Output) Health() component.HealthStatus {
	w.mu.RLock()
	running := w.running
	serverUp := w.server != nil
	w.mu.RUnlock()

	errCount := atomic.LoadInt64(&w.errorCount)

	return component.HealthStatus{
		Healthy:    running && serverUp,
		LastCheck:  time.Now(),
		ErrorCount: int(errCount),
		Uptime:     time.Since(w.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (w *Output) DataFlow() component.FlowMetrics {
	messages := atomic.LoadInt64(&w.messagesSent)
	bytes := atomic.LoadInt64(&w.bytesSent)
	errCount := atomic.LoadInt64(&w.errorCount)

	w.mu.RLock()
	lastActivity := w.lastActivity
	w.mu.RUnlock()

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(w.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(messages) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if messages > 0 {
		errorRate = float64(errCount) / float64(messages)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize prepares the component but does not start the server.
func (w *Output) Initialize() error {
	return nil
}

// Start brings up the HTTP server and NATS subscriptions. Starting an
// already running feed is a no-op, and a stopped feed can be started
// again.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Start", "context already cancelled")
	}

	w.lifecycleCtx, w.lifecycleStop = context.WithCancel(context.Background())
	w.shutdown = make(chan struct{})
	w.done = make(chan struct{})

	var cleanupErr error
	defer func() {
		if cleanupErr != nil {
			w.cleanupOnError()
		}
	}()

	if err := w.setupHTTPServer(); err != nil {
		cleanupErr = err
		return err
	}

	if err := w.subscribeToNATS(ctx); err != nil {
		cleanupErr = err
		return errors.Wrap(err, "Output", "Start", fmt.Sprintf("subscribe to subjects %v", w.subjects))
	}

	w.running = true
	w.startTime = time.Now()

	w.wg = &sync.WaitGroup{}
	count := 2 // runServer + maintainClients
	if w.metrics != nil {
		count++
	}
	w.wg.Add(count)
	if w.metrics != nil {
		go w.trackUptime()
	}
	go w.runServer()
	go w.maintainClients()

	w.logger.Info("Live feed started",
		"addr", fmt.Sprintf(":%d%s", w.port, w.path),
		"subjects", w.subjects,
		"tls", w.security.TLS.Server.Enabled)

	return nil
}

// cleanupOnError releases resources when Start fails partway.
func (w *Output) cleanupOnError() {
	if w.shutdown != nil {
		close(w.shutdown)
		w.shutdown = nil
	}
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
	if w.server != nil {
		_ = w.server.Shutdown(context.Background())
		w.server = nil
	}
	if w.lifecycleStop != nil {
		w.lifecycleStop()
	}
}

// setupHTTPServer creates the HTTP server, loading TLS material when the
// platform security config enables it.
func (w *Output) setupHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebSocket)

	w.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: mux,
	}

	if w.security.TLS.Server.Enabled {
		mode := w.security.TLS.Server.Mode
		if mode == "" {
			mode = "manual"
		}

		if mode == "acme" && w.security.TLS.Server.ACME.Enabled {
			tlsConfig, cleanup, err := tlsutil.LoadServerTLSConfigWithACME(
				w.lifecycleCtx,
				w.security.TLS.Server,
			)
			if err != nil {
				return errors.WrapFatal(err, "Output", "setupHTTPServer", "load TLS config with ACME")
			}
			w.server.TLSConfig = tlsConfig

			w.tlsCleanupMu.Lock()
			w.tlsCleanup = cleanup
			w.tlsCleanupMu.Unlock()
		} else {
			tlsConfig, err := tlsutil.LoadServerTLSConfigWithMTLS(
				w.security.TLS.Server,
				w.security.TLS.Server.MTLS,
			)
			if err != nil {
				return errors.WrapFatal(err, "Output", "setupHTTPServer", "load TLS config with mTLS")
			}
			w.server.TLSConfig = tlsConfig
		}
	}

	return nil
}

// Stop drains the server, closes all client connections and waits for
// worker goroutines up to the timeout.
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false

	if w.shutdown != nil {
		close(w.shutdown)
	}
	// Unblocks writers waiting on the rate limiter.
	if w.lifecycleStop != nil {
		w.lifecycleStop()
	}

	wg := w.wg
	server := w.server
	w.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			atomic.AddInt64(&w.errorCount, 1)
		}
	}

	w.closeAllClients()

	var waitErr error
	if wg != nil {
		waitCh := make(chan struct{})
		go func() {
			wg.Wait()
			close(waitCh)
		}()

		select {
		case <-waitCh:
		case <-time.After(timeout):
			waitErr = errors.WrapTransient(
				fmt.Errorf("shutdown timeout after %v", timeout),
				"Output", "Stop", "wait for client goroutines")
		}
	}

	w.tlsCleanupMu.Lock()
	if w.tlsCleanup != nil {
		w.tlsCleanup()
		w.tlsCleanup = nil
	}
	w.tlsCleanupMu.Unlock()

	w.mu.Lock()
	w.server = nil
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
	w.shutdown = nil
	w.wg = nil
	w.mu.Unlock()

	w.logger.Info("Live feed stopped",
		"frames_sent", atomic.LoadInt64(&w.messagesSent),
		"frames_dropped", atomic.LoadInt64(&w.dropped))

	return waitErr
}

// subscribeToNATS subscribes to the configured subjects. Skipped when no
// NATS client was provided.
func (w *Output) subscribeToNATS(ctx context.Context) error {
	if w.natsClient == nil {
		return nil
	}

	for _, subject := range w.subjects {
		subject := subject
		err := w.natsClient.Subscribe(ctx, subject, func(_ context.Context, data []byte) {
			w.deliver(subject, data)
		})
		if err != nil {
			return errors.Wrap(err, "Output", "subscribeToNATS",
				fmt.Sprintf("subscribe to %s", subject))
		}
	}

	return nil
}

// runServer runs the HTTP server until Stop shuts it down.
func (w *Output) runServer() {
	defer w.wgDone()

	w.mu.RLock()
	server := w.server
	tlsEnabled := w.security.TLS.Server.Enabled
	w.mu.RUnlock()

	if server == nil {
		return
	}

	var err error
	if tlsEnabled {
		// Cert material already lives in server.TLSConfig.
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		atomic.AddInt64(&w.errorCount, 1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("server").Inc()
		}
	}
}

// wgDone guards against the wait group pointer being cleared during a
// concurrent Stop.
func (w *Output) wgDone() {
	w.mu.RLock()
	wg := w.wg
	w.mu.RUnlock()
	if wg != nil {
		wg.Done()
	}
}

// trackUptime refreshes the uptime gauge while the server runs.
func (w *Output) trackUptime() {
	defer w.wgDone()

	w.mu.RLock()
	shutdown := w.shutdown
	w.mu.RUnlock()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.RLock()
			running := w.running
			w.mu.RUnlock()
			if running {
				w.metrics.uptimeSeconds.Set(time.Since(w.startTime).Seconds())
			}
		case <-shutdown:
			return
		}
	}
}

// handleWebSocket upgrades an HTTP request and registers the client.
func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		return
	}

	queue, err := buffer.NewCircularBuffer[outboundFrame](w.queueSize,
		buffer.WithOverflowPolicy[outboundFrame](buffer.DropOldest),
		buffer.WithDropCallback[outboundFrame](func(outboundFrame) {
			atomic.AddInt64(&w.dropped, 1)
			if w.metrics != nil {
				w.metrics.droppedTotal.Inc()
			}
		}),
	)
	if err != nil {
		_ = conn.Close()
		atomic.AddInt64(&w.errorCount, 1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("buffer_creation").Inc()
		}
		return
	}

	info := &clientInfo{
		conn:        conn,
		connectedAt: time.Now(),
		queue:       queue,
		notify:      make(chan struct{}, 1),
		limiter:     rate.NewLimiter(w.rateLimit, w.rateBurst),
	}
	info.lastPong.Store(time.Now())

	w.clientsMu.Lock()
	w.clients[conn] = info
	clientCount := len(w.clients)
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(clientCount))
	}

	w.logger.Debug("Client connected", "remote", conn.RemoteAddr().String(), "clients", clientCount)

	w.mu.RLock()
	wg := w.wg
	w.mu.RUnlock()
	if wg == nil {
		// Stop raced the upgrade.
		w.removeClient(conn, info, "shutdown")
		return
	}

	wg.Add(2)
	go w.readLoop(conn, info, wg)
	go w.writeLoop(conn, info, wg)
}

// readLoop consumes control messages from one client. Pongs extend the
// read deadline, so an idle but live client is never dropped here.
func (w *Output) readLoop(conn *websocket.Conn, info *clientInfo, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.removeClient(conn, info, "read_closed")

	w.mu.RLock()
	shutdown := w.shutdown
	w.mu.RUnlock()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(w.pongWait))
	conn.SetPongHandler(func(string) error {
		info.lastPong.Store(time.Now())
		return conn.SetReadDeadline(time.Now().Add(w.pongWait))
	})

	for {
		select {
		case <-shutdown:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		switch req.Type {
		case "subscribe":
			info.setFilters(req.Subjects)
		default:
			// Unknown control types are ignored.
		}
	}
}

// writeLoop drains one client's queue, pacing delivery with the client's
// rate limiter. Queue overflow already discarded the oldest frames, so
// everything read here is still worth sending.
func (w *Output) writeLoop(conn *websocket.Conn, info *clientInfo, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.removeClient(conn, info, "write_closed")

	w.mu.RLock()
	ctx := w.lifecycleCtx
	shutdown := w.shutdown
	w.mu.RUnlock()

	for {
		select {
		case <-shutdown:
			return
		case <-info.notify:
		}

		for {
			frame, ok := info.queue.Read()
			if !ok {
				break
			}

			if err := info.limiter.Wait(ctx); err != nil {
				return
			}

			if err := w.writeFrame(conn, info, websocket.TextMessage, frame.data); err != nil {
				atomic.AddInt64(&w.errorCount, 1)
				if w.metrics != nil {
					w.metrics.errorsTotal.WithLabelValues("client_send").Inc()
				}
				return
			}

			atomic.AddInt64(&w.messagesSent, 1)
			atomic.AddInt64(&w.bytesSent, int64(len(frame.data)))
			if w.metrics != nil {
				w.metrics.messagesSent.WithLabelValues(frame.subject).Inc()
				w.metrics.bytesSent.Add(float64(len(frame.data)))
			}
		}
	}
}

// writeFrame writes one frame under the client's write mutex.
func (w *Output) writeFrame(conn *websocket.Conn, info *clientInfo, messageType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return conn.WriteMessage(messageType, data)
}

// removeClient removes a client exactly once and closes its connection.
func (w *Output) removeClient(conn *websocket.Conn, info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		w.clientsMu.Lock()
		delete(w.clients, conn)
		clientCount := len(w.clients)
		w.clientsMu.Unlock()

		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(clientCount))
		}

		w.logger.Debug("Client disconnected", "reason", reason, "clients", clientCount)

		_ = info.queue.Close()
		_ = conn.Close()
	})
}

// closeAllClients disconnects every client during shutdown.
func (w *Output) closeAllClients() {
	w.clientsMu.Lock()
	clients := w.clients
	w.clients = make(map[*websocket.Conn]*clientInfo)
	w.clientsMu.Unlock()

	for conn, info := range clients {
		w.removeClient(conn, info, "shutdown")
	}
}

// deliver wraps one NATS message in a feed envelope and queues it for
// every client whose filters match. The envelope is marshaled once per
// message, not per client.
func (w *Output) deliver(subject string, data []byte) {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()
	if !running {
		return
	}

	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()

	payload := json.RawMessage(data)
	if !json.Valid(data) {
		quoted, err := json.Marshal(string(data))
		if err != nil {
			atomic.AddInt64(&w.errorCount, 1)
			if w.metrics != nil {
				w.metrics.errorsTotal.WithLabelValues("payload_encode").Inc()
			}
			return
		}
		payload = quoted
	}

	envelope := FeedMessage{
		Type:      "event",
		ID:        w.generateMessageID(),
		Subject:   subject,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	frame, err := json.Marshal(envelope)
	if err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("envelope_marshal").Inc()
		}
		return
	}

	if w.metrics != nil {
		w.metrics.messagesReceived.WithLabelValues(subject).Inc()
	}

	w.clientsMu.RLock()
	targets := make([]*clientInfo, 0, len(w.clients))
	for _, info := range w.clients {
		if !info.closed.Load() && info.matches(subject) {
			targets = append(targets, info)
		}
	}
	w.clientsMu.RUnlock()

	out := outboundFrame{subject: subject, data: frame}
	for _, info := range targets {
		// DropOldest queue, Write never blocks.
		_ = info.queue.Write(out)
		select {
		case info.notify <- struct{}{}:
		default:
		}
	}
}

// maintainClients pings clients on a timer and evicts ones whose pongs
// have gone quiet.
func (w *Output) maintainClients() {
	defer w.wgDone()

	w.mu.RLock()
	shutdown := w.shutdown
	w.mu.RUnlock()

	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			w.pingClients()
		}
	}
}

// pingClients writes a ping to every client under its write mutex.
func (w *Output) pingClients() {
	w.clientsMu.RLock()
	clients := make(map[*websocket.Conn]*clientInfo, len(w.clients))
	for conn, info := range w.clients {
		if !info.closed.Load() {
			clients[conn] = info
		}
	}
	w.clientsMu.RUnlock()

	for conn, info := range clients {
		lastPong, _ := info.lastPong.Load().(time.Time)
		if time.Since(lastPong) > w.pongWait {
			w.removeClient(conn, info, "stale")
			continue
		}

		if err := w.writeFrame(conn, info, websocket.PingMessage, nil); err != nil {
			w.removeClient(conn, info, "ping_failed")
			atomic.AddInt64(&w.errorCount, 1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (w *Output) ClientCount() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// MessagesSent returns the number of frames delivered to clients.
func (w *Output) MessagesSent() int64 {
	return atomic.LoadInt64(&w.messagesSent)
}

// Dropped returns the number of frames evicted from client queues.
func (w *Output) Dropped() int64 {
	return atomic.LoadInt64(&w.dropped)
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/natsclient"
	"github.com/c360/amistreams/pkg/retry"
	"github.com/c360/amistreams/pkg/timestamp"
)

// Config holds configuration for the event bridge.
type Config struct {
	SubjectPrefix  string `json:"subject_prefix"`  // Subject root, default "ami.event"
	Stream         string `json:"stream"`          // JetStream stream ensured at start, empty disables
	PublishTimeout int    `json:"publish_timeout"` // Per-event publish budget in seconds
	RetryCount     int    `json:"retry_count"`     // Additional publish attempts
}

// DefaultConfig returns default configuration for the event bridge.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:  "ami.event",
		Stream:         "AMI_EVENTS",
		PublishTimeout: 5,
		RetryCount:     2,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must not contain wildcards or spaces")
	}
	if strings.ContainsAny(c.Stream, " .*>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream must be a plain JetStream stream name")
	}
	if c.PublishTimeout < 0 || c.PublishTimeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"publish_timeout must be between 0 and 300 seconds")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	return nil
}

// eventPayload is the JSON shape published for every manager event.
type eventPayload struct {
	Name      string            `json:"name"`
	Category  string            `json:"category"`
	Seq       uint64            `json:"seq"`
	Timestamp int64             `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Bridge republishes manager events to NATS.
type Bridge struct {
	name           string
	prefix         string
	stream         string
	publishTimeout time.Duration
	retryConfig    retry.Config

	manager    *amiclient.Client
	natsClient *natsclient.Client
	logger     *slog.Logger

	// Lifecycle management
	handlerID   amiclient.HandlerID
	subscribed  bool
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Metrics
	published     int64
	publishErrors int64
	lastActivity  atomic.Int64 // timestamp ms

	publishedVec *prometheus.CounterVec
	errorsVec    *prometheus.CounterVec
}

// New creates an event bridge from configuration and dependencies.
func New(cfg Config, deps component.Dependencies) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New",
			"manager client required")
	}
	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New",
			"NATS client required")
	}

	publishTimeout := time.Duration(cfg.PublishTimeout) * time.Second
	if publishTimeout == 0 {
		publishTimeout = 5 * time.Second
	}

	b := &Bridge{
		name:           "event-bridge",
		prefix:         cfg.SubjectPrefix,
		stream:         cfg.Stream,
		publishTimeout: publishTimeout,
		retryConfig: retry.Config{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
		manager:    deps.Manager,
		natsClient: deps.NATSClient,
		logger:     deps.GetLoggerWithComponent("event-bridge"),
		shutdown:   make(chan struct{}),
		publishedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "bridge",
			Name:      "events_published_total",
			Help:      "Manager events republished to NATS",
		}, []string{"category"}),
		errorsVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "bridge",
			Name:      "publish_errors_total",
			Help:      "Manager events dropped after exhausting publish retries",
		}, []string{"category"}),
	}

	if deps.MetricsRegistry != nil {
		if err := deps.MetricsRegistry.RegisterCounterVec(b.name, "events_published_total", b.publishedVec); err != nil {
			return nil, errors.Wrap(err, "Bridge", "New", "register metrics")
		}
		if err := deps.MetricsRegistry.RegisterCounterVec(b.name, "publish_errors_total", b.errorsVec); err != nil {
			return nil, errors.Wrap(err, "Bridge", "New", "register metrics")
		}
	}

	return b, nil
}

// Initialize prepares the bridge.
func (b *Bridge) Initialize() error {
	return nil
}

// Start ensures the event stream and registers the wildcard event
// handler. Events flow as soon as the manager client is connected.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Bridge", "Start", "check running state")
	}

	if b.stream != "" {
		_, err := b.natsClient.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     b.stream,
			Subjects: []string{b.prefix + ".>"},
		})
		if err != nil {
			return errors.Wrap(err, "Bridge", "Start",
				fmt.Sprintf("ensure stream %s", b.stream))
		}
	}

	id, err := b.manager.OnEvent(amiclient.WildcardEvent, b.handleEvent)
	if err != nil {
		return errors.Wrap(err, "Bridge", "Start", "register handler")
	}

	b.mu.Lock()
	b.handlerID = id
	b.subscribed = true
	b.running = true
	b.startTime = time.Now()
	b.mu.Unlock()

	b.logger.Info("Event bridge started", "subject_prefix", b.prefix)
	return nil
}

// Stop removes the event handler and waits for in-flight publishes.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running {
		return nil
	}

	b.mu.Lock()
	if b.subscribed {
		b.manager.OffEvent(b.handlerID)
		b.subscribed = false
	}
	b.mu.Unlock()

	close(b.shutdown)

	waitCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Bridge", "Stop", "wait for publishes")
	}

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()

	b.logger.Info("Event bridge stopped",
		"published", atomic.LoadInt64(&b.published),
		"dropped", atomic.LoadInt64(&b.publishErrors))
	return nil
}

// handleEvent publishes one manager event. It runs on the client's
// category worker, so blocking here backs up one bounded category
// queue at worst.
func (b *Bridge) handleEvent(ctx context.Context, evt amiclient.Event) error {
	select {
	case <-b.shutdown:
		return nil
	default:
	}
	b.wg.Add(1)
	defer b.wg.Done()

	b.lastActivity.Store(timestamp.Now())

	payload := eventPayload{
		Name:      evt.Name,
		Category:  string(evt.Category),
		Seq:       evt.Seq,
		Timestamp: timestamp.Now(),
		Fields:    evt.Fields.Map(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		atomic.AddInt64(&b.publishErrors, 1)
		b.errorsVec.WithLabelValues(string(evt.Category)).Inc()
		return errors.Wrap(err, "Bridge", "handleEvent", "marshal event")
	}

	subject := b.Subject(evt)
	pubCtx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	err = retry.Do(pubCtx, b.retryConfig, func() error {
		return b.natsClient.Publish(pubCtx, subject, data)
	})
	if err != nil {
		atomic.AddInt64(&b.publishErrors, 1)
		b.errorsVec.WithLabelValues(string(evt.Category)).Inc()
		b.logger.Warn("Dropping event after exhausting publish retries",
			"subject", subject, "error", err)
		return errors.WrapTransient(err, "Bridge", "handleEvent",
			fmt.Sprintf("publish to %s", subject))
	}

	atomic.AddInt64(&b.published, 1)
	b.publishedVec.WithLabelValues(string(evt.Category)).Inc()
	return nil
}

// Subject returns the NATS subject an event is published under.
func (b *Bridge) Subject(evt amiclient.Event) string {
	return b.prefix + "." + string(evt.Category) + "." + subjectToken(evt.Name)
}

// subjectToken makes an event name safe for use as one NATS subject
// token. Known event names are plain identifiers already; this guards
// against hostile or future names.
func subjectToken(name string) string {
	if name == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		default:
			return r
		}
	}, name)
}

// Meta returns component metadata.
func (b *Bridge) Meta() component.Metadata {
	return component.Metadata{
		Name:        b.name,
		Type:        "output",
		Description: "Publishes manager events to NATS subjects by category",
		Version:     "0.1.0",
	}
}

// InputPorts returns the manager event source description.
func (b *Bridge) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns the published subject space.
func (b *Bridge) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "events",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Manager events as JSON, one subject per category and name",
			Config:      component.NATSPort{Subject: b.prefix + ".>"},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (b *Bridge) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"subject_prefix": {
				Type:        "string",
				Description: "Subject root events are published under",
				Default:     "ami.event",
				Category:    "basic",
			},
			"stream": {
				Type:        "string",
				Description: "JetStream stream ensured at start, empty disables",
				Default:     "AMI_EVENTS",
				Category:    "basic",
			},
			"publish_timeout": {
				Type:        "int",
				Description: "Per-event publish budget in seconds",
				Default:     5,
				Category:    "advanced",
			},
			"retry_count": {
				Type:        "int",
				Description: "Additional publish attempts before dropping",
				Default:     2,
				Category:    "advanced",
			},
		},
		Required: []string{"subject_prefix"},
	}
}

// Health returns the current health status.
func (b *Bridge) Health() component.HealthStatus {
	b.mu.RLock()
	running := b.running
	startTime := b.startTime
	b.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return component.HealthStatus{
		Healthy:    running && b.natsClient.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&b.publishErrors)),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics.
func (b *Bridge) DataFlow() component.FlowMetrics {
	published := atomic.LoadInt64(&b.published)
	errorCount := atomic.LoadInt64(&b.publishErrors)

	var errorRate float64
	if total := published + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: timestamp.ToTime(b.lastActivity.Load()),
	}
}

// Published returns the number of events successfully republished.
func (b *Bridge) Published() int64 {
	return atomic.LoadInt64(&b.published)
}

// PublishErrors returns the number of events dropped after exhausting
// publish retries.
func (b *Bridge) PublishErrors() int64 {
	return atomic.LoadInt64(&b.publishErrors)
}

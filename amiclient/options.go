package amiclient

import (
	"crypto/tls"
	"log"
	"time"

	"github.com/c360/amistreams/metric"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger implements Logger using standard log package
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[AMI] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[AMI ERROR] "+format, v...)
}

func (l *defaultLogger) Debugf(_ string, _ ...any) {
	// Silent by default
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// ReconnectPolicy controls automatic reconnection after connection loss.
type ReconnectPolicy struct {
	// MaxAttempts bounds consecutive failed attempts before the client
	// gives up and enters StatusFailed. Zero or negative means retry
	// forever.
	MaxAttempts int

	// InitialDelay is the wait before the first attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter adds up to this fraction of the delay as random spread so
	// a fleet of clients does not reconnect in lockstep.
	Jitter float64
}

// DefaultReconnectPolicy returns the reconnection settings used when
// none are supplied.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// WithTimeout sets the connection dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			d = defaultDialTimeout
		}
		c.dialTimeout = d
		return nil
	}
}

// WithActionTimeout sets the default wait for an action's response
func WithActionTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			d = defaultActionTimeout
		}
		c.actionTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds a single frame write on the socket
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			d = defaultWriteTimeout
		}
		c.writeTimeout = d
		return nil
	}
}

// WithDrainTimeout sets how long Close waits for in-flight actions
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithReconnectPolicy replaces the automatic reconnection settings
func WithReconnectPolicy(p ReconnectPolicy) ClientOption {
	return func(c *Client) error {
		if p.InitialDelay <= 0 {
			p.InitialDelay = 500 * time.Millisecond
		}
		if p.MaxDelay < p.InitialDelay {
			p.MaxDelay = p.InitialDelay
		}
		if p.Multiplier < 1 {
			p.Multiplier = 2.0
		}
		if p.Jitter < 0 || p.Jitter > 1 {
			p.Jitter = 0.2
		}
		c.reconnectPolicy = p
		return nil
	}
}

// WithConnectBreaker sets the circuit breaker policy for dial attempts
func WithConnectBreaker(p BreakerPolicy) ClientOption {
	return func(c *Client) error {
		if err := p.validate(); err != nil {
			return err
		}
		c.breakerPolicies[breakerConnect] = p
		return nil
	}
}

// WithActionBreaker sets the circuit breaker policy for action sends
func WithActionBreaker(p BreakerPolicy) ClientOption {
	return func(c *Client) error {
		if err := p.validate(); err != nil {
			return err
		}
		c.breakerPolicies[breakerAction] = p
		return nil
	}
}

// WithEventBreaker sets the circuit breaker policy for event intake
func WithEventBreaker(p BreakerPolicy) ClientOption {
	return func(c *Client) error {
		if err := p.validate(); err != nil {
			return err
		}
		c.breakerPolicies[breakerEvent] = p
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithTLSConfig enables TLS on the manager connection
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithEventQueueSize sets the per-category event queue depth
func WithEventQueueSize(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			n = defaultEventQueueSize
		}
		c.eventQueueSize = n
		return nil
	}
}

// WithEventMask sets the Events parameter sent during login, limiting
// which event classes the server pushes ("on", "off", or a
// comma-separated class list)
func WithEventMask(mask string) ClientOption {
	return func(c *Client) error {
		c.eventMask = mask
		return nil
	}
}

// WithKeepAlive sends a Ping action at the given interval while
// connected. Zero disables keepalive.
func WithKeepAlive(interval time.Duration) ClientOption {
	return func(c *Client) error {
		c.keepAliveInterval = interval
		return nil
	}
}

// WithDisconnectCallback sets a callback for connection loss events
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback sets a callback invoked after each successful
// reconnection
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithConnectionLostCallback sets a callback for when reconnection has
// been exhausted and the client enters StatusFailed
func WithConnectionLostCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onConnectionLost = fn
		return nil
	}
}

// WithStatusChangeCallback sets a callback for connection status
// transitions
func WithStatusChangeCallback(fn func(Status)) ClientOption {
	return func(c *Client) error {
		c.onStatusChange = fn
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registry. Connection status, action outcomes, event categories, and
// breaker states are tracked.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil // No metrics
		}
		c.metricsRegistry = registry
		c.metrics = registry.CoreMetrics()
		return nil
	}
}

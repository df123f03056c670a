package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amistreams"

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

// Metrics is the gateway-wide metric set: per-service plumbing plus the
// manager and NATS connection instruments every deployment carries.
// Component-specific series register separately through MetricsRegistrar.
type Metrics struct {
	ServiceStatus      *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	ManagerConnected    prometheus.Gauge
	ManagerReconnects   prometheus.Counter
	ManagerCircuitState *prometheus.GaugeVec
	ActionsTotal        *prometheus.CounterVec
	ActionDuration      prometheus.Histogram
	EventsTotal         *prometheus.CounterVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics builds the full core metric set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: gaugeVec("service", "status",
			"Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			"service"),
		MessagesReceived: counterVec("messages", "received_total",
			"Total number of messages received",
			"service", "type"),
		MessagesProcessed: counterVec("messages", "processed_total",
			"Total number of messages processed",
			"service", "type", "status"),
		MessagesPublished: counterVec("messages", "published_total",
			"Total number of messages published",
			"service", "subject"),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "duration_seconds",
			Help:      "Message processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		ErrorsTotal: counterVec("errors", "total",
			"Total number of errors",
			"service", "type"),
		HealthCheckStatus: gaugeVec("health", "status",
			"Health check status (0=unhealthy, 1=healthy)",
			"service"),

		ManagerConnected: gauge("manager", "connected",
			"Manager connection status (0=disconnected, 1=connected)"),
		ManagerReconnects: counter("manager", "reconnects_total",
			"Total number of manager reconnections"),
		ManagerCircuitState: gaugeVec("manager", "circuit_state",
			"Circuit breaker state per operation class (0=closed, 1=open, 2=half-open)",
			"class"),
		ActionsTotal: counterVec("manager", "actions_total",
			"Total number of manager actions sent",
			"action", "status"),
		ActionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "action_duration_seconds",
			Help:      "Round-trip time from action send to response resolution",
			Buckets:   prometheus.DefBuckets,
		}),
		EventsTotal: counterVec("manager", "events_total",
			"Total number of manager events received",
			"category"),

		NATSConnected: gauge("nats", "connected",
			"NATS connection status (0=disconnected, 1=connected)"),
		NATSRTT: gauge("nats", "rtt_milliseconds",
			"NATS round-trip time in milliseconds"),
		NATSReconnects: counter("nats", "reconnects_total",
			"Total number of NATS reconnections"),
		NATSCircuitBreaker: gauge("nats", "circuit_breaker",
			"NATS circuit breaker status (0=closed, 1=open, 2=half-open)"),
	}
}

func boolGauge(g prometheus.Gauge, on bool) {
	if on {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// RecordServiceStatus updates the service status gauge.
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordMessageReceived increments the received message counter.
func (c *Metrics) RecordMessageReceived(service, messageType string) {
	c.MessagesReceived.WithLabelValues(service, messageType).Inc()
}

// RecordMessageProcessed increments the processed message counter.
func (c *Metrics) RecordMessageProcessed(service, messageType, status string) {
	c.MessagesProcessed.WithLabelValues(service, messageType, status).Inc()
}

// RecordMessagePublished increments the published message counter.
func (c *Metrics) RecordMessagePublished(service, subject string) {
	c.MessagesPublished.WithLabelValues(service, subject).Inc()
}

// RecordProcessingDuration records processing time for an operation.
func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordError increments the error counter.
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordHealthStatus updates the health check gauge.
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordManagerStatus updates the manager connection gauge.
func (c *Metrics) RecordManagerStatus(connected bool) {
	boolGauge(c.ManagerConnected, connected)
}

// RecordManagerReconnect increments the manager reconnection counter.
func (c *Metrics) RecordManagerReconnect() {
	c.ManagerReconnects.Inc()
}

// RecordManagerCircuitState updates a per-class circuit breaker gauge.
func (c *Metrics) RecordManagerCircuitState(class string, state int) {
	c.ManagerCircuitState.WithLabelValues(class).Set(float64(state))
}

// RecordAction increments the action counter and observes round-trip time.
func (c *Metrics) RecordAction(action, status string, duration time.Duration) {
	c.ActionsTotal.WithLabelValues(action, status).Inc()
	c.ActionDuration.Observe(duration.Seconds())
}

// RecordEvent increments the event counter for a category.
func (c *Metrics) RecordEvent(category string) {
	c.EventsTotal.WithLabelValues(category).Inc()
}

// RecordNATSStatus updates the NATS connection gauge.
func (c *Metrics) RecordNATSStatus(connected bool) {
	boolGauge(c.NATSConnected, connected)
}

// RecordNATSRTT updates the NATS round-trip time gauge.
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments the NATS reconnection counter.
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the NATS circuit breaker gauge.
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}

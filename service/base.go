package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/amistreams/health"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/natsclient"
)

// Status represents the current status of a service
type Status int

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

var statusNames = [...]string{"stopped", "starting", "running", "stopping"}

// String returns the string representation of Status
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Info holds runtime information for a service
type Info struct {
	Name               string        `json:"name"`
	Status             Status        `json:"status"`
	Uptime             time.Duration `json:"uptime"`
	StartTime          time.Time     `json:"start_time"`
	HealthChecks       int64         `json:"health_checks"`
	FailedHealthChecks int64         `json:"failed_health_checks"`
}

// HealthCheckFunc defines a custom health check function
type HealthCheckFunc func() error

// Option is a functional option for configuring BaseService
type Option func(*BaseService)

// BaseService provides common lifecycle scaffolding for long-running
// services: status tracking, periodic health checks, and graceful
// shutdown when the parent context is canceled.
type BaseService struct {
	name            string
	nats            *natsclient.Client
	metricsRegistry *metric.MetricsRegistry
	logger          *slog.Logger

	status    atomic.Value // Status
	startTime atomic.Value // time.Time
	healthy   atomic.Bool

	healthChecks       atomic.Int64
	failedHealthChecks atomic.Int64

	healthCheckFunc HealthCheckFunc
	healthTicker    *time.Ticker
	healthInterval  time.Duration

	onHealthChange func(bool)

	done      chan struct{}
	waitGroup sync.WaitGroup
	mu        sync.RWMutex
}

// NewBaseService creates a base service configured through functional options.
func NewBaseService(name string, opts ...Option) *BaseService {
	service := &BaseService{
		name:           name,
		healthInterval: 30 * time.Second,
		logger:         slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(service)
	}

	service.startTime.Store(time.Time{})
	service.setStatus(StatusStopped)
	return service
}

// WithNATS sets the NATS client used for the default connectivity health check
func WithNATS(client *natsclient.Client) Option {
	return func(s *BaseService) {
		s.nats = client
	}
}

// WithMetrics sets the metrics registry for the service
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.metricsRegistry = registry
	}
}

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck sets a custom health check function
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthCheckFunc = fn
	}
}

// WithHealthInterval sets the health check interval. Zero disables
// periodic health checks.
func WithHealthInterval(interval time.Duration) Option {
	return func(s *BaseService) {
		s.healthInterval = interval
	}
}

// OnHealthChange sets a callback invoked when the health state flips
func OnHealthChange(fn func(bool)) Option {
	return func(s *BaseService) {
		s.onHealthChange = fn
	}
}

// setStatus stores the status and mirrors it into the service status
// gauge when metrics are attached.
func (s *BaseService) setStatus(status Status) {
	s.status.Store(status)
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordServiceStatus(s.name, int(status))
	}
}

// Name returns the service name
func (s *BaseService) Name() string {
	return s.name
}

// Status returns the current service status
func (s *BaseService) Status() Status {
	return s.status.Load().(Status)
}

// IsHealthy returns whether the service is healthy
func (s *BaseService) IsHealthy() bool {
	return s.healthy.Load()
}

// Health returns the standard health status for the service.
// Services that embed BaseService can override this for per-component
// detail.
func (s *BaseService) Health() health.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.Status()
	if status == StatusRunning {
		if !s.healthy.Load() {
			return health.NewUnhealthy(s.name,
				fmt.Sprintf("Service is unhealthy (failed checks: %d)", s.failedHealthChecks.Load()))
		}
		return health.NewHealthy(s.name, "Service operating normally")
	}

	switch status {
	case StatusStarting:
		return health.NewDegraded(s.name, "Service is starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "Service is stopping")
	case StatusStopped:
		return health.NewUnhealthy(s.name, "Service is stopped")
	default:
		return health.NewUnhealthy(s.name, fmt.Sprintf("Unknown status: %v", status))
	}
}

// Start starts the service scaffolding: health monitoring and the
// context watcher. Calling Start on a running service is a no-op.
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.Status(); current == StatusRunning || current == StatusStarting {
		return nil
	}
	s.setStatus(StatusStarting)

	s.done = make(chan struct{})
	s.startTime.Store(time.Now())

	if s.healthInterval > 0 {
		s.healthTicker = time.NewTicker(s.healthInterval)
		s.waitGroup.Add(1)
		go s.healthLoop()

		// Run an initial check shortly after start so health reflects
		// reality before the first full interval elapses.
		go func() {
			time.Sleep(200 * time.Millisecond)
			s.runHealthCheck()
		}()
	}

	s.waitGroup.Add(1)
	go s.watchContext(ctx)

	s.setStatus(StatusRunning)
	return nil
}

// Stop stops the service gracefully, waiting up to timeout for
// background goroutines to exit. Calling Stop on a stopped service is
// a no-op.
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.Status(); current == StatusStopped || current == StatusStopping {
		return nil
	}
	s.setStatus(StatusStopping)

	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	if s.healthTicker != nil {
		s.healthTicker.Stop()
	}

	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.waitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Service goroutines did not exit before timeout", "timeout", timeout)
	}

	s.setStatus(StatusStopped)
	s.healthy.Store(false)
	return nil
}

// GetStatus returns the current service information
func (s *BaseService) GetStatus() Info {
	startTime := s.startTime.Load().(time.Time)

	uptime := time.Duration(0)
	if !startTime.IsZero() && s.Status() == StatusRunning {
		uptime = time.Since(startTime)
	}

	return Info{
		Name:               s.name,
		Status:             s.Status(),
		Uptime:             uptime,
		StartTime:          startTime,
		HealthChecks:       s.healthChecks.Load(),
		FailedHealthChecks: s.failedHealthChecks.Load(),
	}
}

// healthLoop runs the periodic health check until shutdown.
func (s *BaseService) healthLoop() {
	defer s.waitGroup.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.healthTicker.C:
			s.runHealthCheck()
		}
	}
}

// runHealthCheck executes the health check and records the result.
func (s *BaseService) runHealthCheck() {
	s.healthChecks.Add(1)

	var err error

	// Custom health check has priority.
	if s.healthCheckFunc != nil {
		err = s.healthCheckFunc()
	}

	// NATS connectivity is the default check when a client is attached.
	if err == nil && s.nats != nil && !s.nats.IsHealthy() {
		err = natsclient.ErrNotConnected
	}

	wasHealthy := s.healthy.Load()
	isHealthy := err == nil

	if err != nil {
		s.failedHealthChecks.Add(1)
	}
	s.healthy.Store(isHealthy)

	if wasHealthy != isHealthy && s.onHealthChange != nil {
		go s.onHealthChange(isHealthy)
	}
}

// watchContext transitions the service to stopped when the parent
// context is canceled. Stop handles the other states.
func (s *BaseService) watchContext(ctx context.Context) {
	defer s.waitGroup.Done()

	select {
	case <-s.done:
		return
	case <-ctx.Done():
	}

	if !s.status.CompareAndSwap(StatusRunning, StatusStopping) {
		return
	}
	if s.metricsRegistry != nil {
		s.metricsRegistry.CoreMetrics().RecordServiceStatus(s.name, int(StatusStopping))
	}

	if s.healthTicker != nil {
		s.healthTicker.Stop()
	}
	s.setStatus(StatusStopped)
	s.healthy.Store(false)
}

// Service defines the contract for long-running platform services
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() Status
	IsHealthy() bool
	GetStatus() Info
	Health() health.Status
}

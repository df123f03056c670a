package component

import (
	"log/slog"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/natsclient"
	"github.com/c360/amistreams/pkg/security"
)

// PlatformMeta provides platform identity to components, decoupled from
// the config package so components never depend on configuration
// structures.
type PlatformMeta struct {
	Org      string // Organization namespace (e.g., "c360")
	Platform string // Platform identifier (e.g., "pbx-east")
}

// Dependencies provides all external dependencies needed by components.
// Components receive this structure at construction rather than
// individual fields.
type Dependencies struct {
	Manager         *amiclient.Client       // Manager connection for actions and events
	NATSClient      *natsclient.Client      // NATS client for messaging
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Platform        PlatformMeta            // Platform identity (organization and platform)
	Security        security.Config         // Platform-wide security configuration
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/bridge"
	"github.com/c360/amistreams/history"
	"github.com/c360/amistreams/output/websocket"
	"github.com/c360/amistreams/pkg/security"
)

// Config represents the complete application configuration.
// Version (semver) drives KV sync control, Platform carries identity,
// Security holds TLS settings, NATS and Manager describe the two
// upstream connections, and the remaining sections configure the
// components built on top of them.
type Config struct {
	Version  string          `json:"version"`
	Platform PlatformConfig  `json:"platform"`
	Security security.Config `json:"security,omitempty"`
	NATS     NATSConfig      `json:"nats"`
	Manager  ManagerConfig   `json:"manager"`
	Bridge   BridgeConfig    `json:"bridge"`
	History  HistoryConfig   `json:"history"`
	LiveFeed LiveFeedConfig  `json:"livefeed"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		// Fallback to shallow copy if marshaling fails
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		// Fallback to shallow copy if unmarshaling fails
		copied := *c
		return &copied
	}

	return &clone
}

// PlatformConfig identifies this installation. Org and ID end up in
// NATS subjects and telemetry labels, so both must be subject-safe.
type PlatformConfig struct {
	Org         string `json:"org"`                   // Tenant namespace (e.g., "c360", "acme")
	ID          string `json:"id"`                    // Site identifier (e.g., "pbx-east-1")
	InstanceID  string `json:"instance_id,omitempty"` // Overrides ID for federated deployments
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings. Interval and timeout
// fields are whole seconds.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"` // -1 retries forever
	ReconnectWait int           `json:"reconnect_wait,omitempty"`
	PingInterval  int           `json:"ping_interval,omitempty"`
	Timeout       int           `json:"timeout,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// ManagerConfig defines the Asterisk Manager Interface endpoint and
// session settings. Timeout fields are whole seconds.
type ManagerConfig struct {
	Address        string           `json:"address"` // host:port
	Username       string           `json:"username"`
	Secret         string           `json:"secret"`
	ConnectTimeout int              `json:"connect_timeout,omitempty"`
	ActionTimeout  int              `json:"action_timeout,omitempty"`
	KeepAlive      int              `json:"keep_alive,omitempty"` // 0 disables keepalive pings
	EventQueueSize int              `json:"event_queue_size,omitempty"`
	EventMask      string           `json:"event_mask,omitempty"` // Login Events parameter: "on", "off" or a class list
	Reconnect      ReconnectConfig  `json:"reconnect"`
	TLS            ManagerTLSConfig `json:"tls,omitempty"`
}

// ReconnectConfig tunes the manager client's reconnect backoff.
// Delays are milliseconds.
type ReconnectConfig struct {
	MaxAttempts  int     `json:"max_attempts"` // 0 retries forever
	InitialDelay int     `json:"initial_delay_ms"`
	MaxDelay     int     `json:"max_delay_ms"`
	Multiplier   float64 `json:"multiplier"`
	Jitter       float64 `json:"jitter"` // Fraction of the delay, 0 to 1
}

// Policy converts the section into the manager client's reconnect policy.
func (r ReconnectConfig) Policy() amiclient.ReconnectPolicy {
	return amiclient.ReconnectPolicy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: time.Duration(r.InitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelay) * time.Millisecond,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
	}
}

// ManagerTLSConfig wraps client TLS settings for the manager
// connection. The embedded fields follow the platform client TLS
// shape so pkg/tlsutil can build the tls.Config.
type ManagerTLSConfig struct {
	Enabled bool `json:"enabled"`
	security.ClientTLSConfig
}

// BridgeConfig gates and configures the event bridge component.
type BridgeConfig struct {
	Enabled bool `json:"enabled"`
	bridge.Config
}

// HistoryConfig gates and configures the call journal component.
type HistoryConfig struct {
	Enabled bool `json:"enabled"`
	history.Config
}

// LiveFeedConfig gates and configures the WebSocket live feed component.
type LiveFeedConfig struct {
	Enabled bool `json:"enabled"`
	websocket.Config
}

// DefaultConfig returns the values used for every field a loaded file
// leaves out. Platform identity and manager credentials have no
// defaults and must come from the file or the environment.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0.0",
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2,
			PingInterval:  30,
			Timeout:       5,
		},
		Manager: ManagerConfig{
			Address:        "localhost:5038",
			ConnectTimeout: 10,
			ActionTimeout:  10,
			KeepAlive:      30,
			EventQueueSize: 256,
			Reconnect: ReconnectConfig{
				MaxAttempts:  10,
				InitialDelay: 500,
				MaxDelay:     30000,
				Multiplier:   2.0,
				Jitter:       0.2,
			},
		},
		Bridge:   BridgeConfig{Enabled: true, Config: bridge.DefaultConfig()},
		History:  HistoryConfig{Enabled: true, Config: history.DefaultConfig()},
		LiveFeed: LiveFeedConfig{Enabled: true, Config: websocket.DefaultConfig()},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("version is required")
	}
	if _, _, _, err := parseSemVer(c.Version); err != nil {
		return fmt.Errorf("version: %w", err)
	}

	// Validate and normalize org
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)
	if !isValidNATSSubjectPart(c.Platform.Org) {
		return fmt.Errorf(
			"platform.org '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Platform.Org,
		)
	}

	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return fmt.Errorf(
			"platform.id '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Platform.ID,
		)
	}

	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls requires at least one server URL")
	}
	for i, u := range c.NATS.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("nats.urls[%d] is empty", i)
		}
	}

	if err := c.validateManager(); err != nil {
		return fmt.Errorf("manager configuration: %w", err)
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}

	if c.Bridge.Enabled {
		if err := c.Bridge.Config.Validate(); err != nil {
			return fmt.Errorf("bridge configuration: %w", err)
		}
	}
	if c.History.Enabled {
		if err := c.History.Config.Validate(); err != nil {
			return fmt.Errorf("history configuration: %w", err)
		}
	}
	if c.LiveFeed.Enabled {
		if err := c.LiveFeed.Config.Validate(); err != nil {
			return fmt.Errorf("livefeed configuration: %w", err)
		}
	}

	return nil
}

// validateManager checks the AMI endpoint section
func (c *Config) validateManager() error {
	m := &c.Manager

	host, port, err := net.SplitHostPort(m.Address)
	if err != nil {
		return fmt.Errorf("address must be host:port: %w", err)
	}
	if host == "" || port == "" {
		return errors.New("address must include both host and port")
	}

	if m.Username == "" {
		return errors.New("username is required")
	}
	if m.Secret == "" {
		return errors.New("secret is required")
	}

	if m.ConnectTimeout < 0 || m.ConnectTimeout > 300 {
		return errors.New("connect_timeout must be between 0 and 300 seconds")
	}
	if m.ActionTimeout < 0 || m.ActionTimeout > 300 {
		return errors.New("action_timeout must be between 0 and 300 seconds")
	}
	if m.KeepAlive < 0 || m.KeepAlive > 86400 {
		return errors.New("keep_alive must be between 0 and 86400 seconds")
	}
	if m.EventQueueSize < 0 || m.EventQueueSize > 1048576 {
		return errors.New("event_queue_size must be between 0 and 1048576")
	}

	r := m.Reconnect
	if r.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts cannot be negative")
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		return errors.New("reconnect delays cannot be negative")
	}
	if r.InitialDelay > 0 && r.MaxDelay > 0 && r.MaxDelay < r.InitialDelay {
		return errors.New("reconnect.max_delay_ms must be at least initial_delay_ms")
	}
	if r.Multiplier < 0 {
		return errors.New("reconnect.multiplier cannot be negative")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return errors.New("reconnect.jitter must be between 0 and 1")
	}

	if m.TLS.Enabled {
		for i, caFile := range m.TLS.CAFiles {
			if _, err := os.Stat(caFile); err != nil {
				return fmt.Errorf("tls.ca_files[%d]: %w", i, err)
			}
		}
		if m.TLS.MinVersion != "" {
			if err := validateTLSVersion(m.TLS.MinVersion); err != nil {
				return fmt.Errorf("tls.min_version: %w", err)
			}
		}
		if m.TLS.MTLS.Enabled && (m.TLS.MTLS.CertFile == "" || m.TLS.MTLS.KeyFile == "") {
			return errors.New("tls.mtls requires both cert_file and key_file")
		}
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// validateSecurity validates the security configuration
func (c *Config) validateSecurity() error {
	// Validate Server TLS
	if c.Security.TLS.Server.Enabled {
		if c.Security.TLS.Server.Mode != "acme" {
			if c.Security.TLS.Server.CertFile == "" {
				return errors.New("tls.server.cert_file is required when TLS is enabled")
			}
			if c.Security.TLS.Server.KeyFile == "" {
				return errors.New("tls.server.key_file is required when TLS is enabled")
			}

			if _, err := os.Stat(c.Security.TLS.Server.CertFile); err != nil {
				return fmt.Errorf("tls.server.cert_file: %w", err)
			}
			if _, err := os.Stat(c.Security.TLS.Server.KeyFile); err != nil {
				return fmt.Errorf("tls.server.key_file: %w", err)
			}
		}

		if c.Security.TLS.Server.MinVersion != "" {
			if err := validateTLSVersion(c.Security.TLS.Server.MinVersion); err != nil {
				return fmt.Errorf("tls.server.min_version: %w", err)
			}
		}
	}

	// Validate Client TLS
	for i, caFile := range c.Security.TLS.Client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}

	if c.Security.TLS.Client.InsecureSkipVerify {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecure_skip_verify=true). This should only be used in development/testing!\n",
		)
	}

	if c.Security.TLS.Client.MinVersion != "" {
		if err := validateTLSVersion(c.Security.TLS.Client.MinVersion); err != nil {
			return fmt.Errorf("tls.client.min_version: %w", err)
		}
	}

	return nil
}

// validateTLSVersion checks if a TLS version string is valid
func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Use secure file writing with validation
	return safeWriteFile(path, data)
}

// GetOrg returns the organization from platform config
func (c *Config) GetOrg() string {
	return c.Platform.Org
}

// GetPlatform returns the platform identifier (prefer instance_id over id)
func (c *Config) GetPlatform() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// String returns an indented JSON representation with credentials
// masked, safe for logs.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[redacted]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[redacted]"
	}
	if clone.Manager.Secret != "" {
		clone.Manager.Secret = "[redacted]"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	major1, minor1, patch1, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}

	major2, minor2, patch2, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}

	if major1 != major2 {
		if major1 > major2 {
			return 1, nil
		}
		return -1, nil
	}

	if minor1 != minor2 {
		if minor1 > minor2 {
			return 1, nil
		}
		return -1, nil
	}

	if patch1 != patch2 {
		if patch1 > patch2 {
			return 1, nil
		}
		return -1, nil
	}

	return 0, nil
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
// Returns major, minor, patch, error
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, errors.New("version cannot be empty")
	}

	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid major version '%s': %w", parts[0], err)
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid minor version '%s': %w", parts[1], err)
	}

	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid patch version '%s': %w", parts[2], err)
	}

	return major, minor, patch, nil
}

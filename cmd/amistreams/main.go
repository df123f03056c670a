// Package main implements the entry point for the amistreams gateway.
// The gateway holds a persistent Asterisk Manager Interface connection
// and bridges its event stream onto NATS, with call history journaling
// and a WebSocket live feed as optional components.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/bridge"
	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/config"
	"github.com/c360/amistreams/history"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/natsclient"
	"github.com/c360/amistreams/output/websocket"
	"github.com/c360/amistreams/pkg/tlsutil"
	"github.com/c360/amistreams/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "amistreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	natsClient, metricsRegistry, err := setupMessaging(cfg)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	if err := connectToNATS(ctx, natsClient); err != nil {
		return err
	}

	configManager, err := setupConfigManager(ctx, cfg, natsClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = configManager.Stop(5 * time.Second) }()
	go watchConfigUpdates(configManager)

	metricsServer := startMetricsServer(cliCfg, cfg, metricsRegistry)
	if metricsServer != nil {
		defer func() { _ = metricsServer.Stop() }()
	}

	managerClient, tlsCleanup, err := buildManagerClient(ctx, cfg, metricsRegistry, logger)
	if err != nil {
		return err
	}
	defer tlsCleanup()

	slog.Info("Connecting to manager", "address", cfg.Manager.Address)
	if err := managerClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to manager: %w", err)
	}
	slog.Info("Manager connected", "protocol_version", managerClient.ProtocolVersion())
	defer drainManager(managerClient, cliCfg.ShutdownTimeout)

	orchestrator, err := buildOrchestrator(cfg, managerClient, natsClient, metricsRegistry, logger)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		metricsServer.SetHealthHandler(service.HealthHandler(orchestrator))
	}

	return runWithSignalHandling(ctx, orchestrator, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting amistreams (AMI gateway)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// setupMessaging creates the NATS client and the metrics registry
func setupMessaging(cfg *config.Config) (*natsclient.Client, *metric.MetricsRegistry, error) {
	metricsRegistry := metric.NewMetricsRegistry()

	opts := []natsclient.ClientOption{
		natsclient.WithName(fmt.Sprintf("%s-%s", appName, cfg.GetPlatform())),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(time.Duration(cfg.NATS.ReconnectWait) * time.Second),
		natsclient.WithPingInterval(time.Duration(cfg.NATS.PingInterval) * time.Second),
		natsclient.WithTimeout(time.Duration(cfg.NATS.Timeout) * time.Second),
		natsclient.WithMetrics(metricsRegistry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	natsClient, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	return natsClient, metricsRegistry, nil
}

// connectToNATS establishes the NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// setupConfigManager creates and starts the KV config manager
func setupConfigManager(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (*config.Manager, error) {
	configManager, err := config.NewManager(cfg, natsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}

	if err := configManager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start config manager: %w", err)
	}

	return configManager, nil
}

// watchConfigUpdates logs accepted KV config updates. Components are
// wired at boot, so an update takes effect on the next restart.
func watchConfigUpdates(configManager *config.Manager) {
	for update := range configManager.OnChange() {
		cfg := update.Config.Get()
		slog.Info("Configuration updated in KV, restart to apply",
			"version", cfg.Version,
			"revision", update.Revision)
	}
}

// startMetricsServer starts the Prometheus endpoint unless disabled
func startMetricsServer(cliCfg *CLIConfig, cfg *config.Config, registry *metric.MetricsRegistry) *metric.Server {
	if cliCfg.MetricsPort == 0 {
		return nil
	}

	server := metric.NewServer(cliCfg.MetricsPort, "/metrics", registry, cfg.Security)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Metrics server listening", "address", server.Address())
	return server
}

// buildManagerClient constructs the manager client from configuration.
// The returned cleanup releases TLS resources (ACME renewal loop).
func buildManagerClient(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*amiclient.Client, func(), error) {
	cleanup := func() {}

	opts := []amiclient.ClientOption{
		amiclient.WithTimeout(time.Duration(cfg.Manager.ConnectTimeout) * time.Second),
		amiclient.WithActionTimeout(time.Duration(cfg.Manager.ActionTimeout) * time.Second),
		amiclient.WithKeepAlive(time.Duration(cfg.Manager.KeepAlive) * time.Second),
		amiclient.WithEventQueueSize(cfg.Manager.EventQueueSize),
		amiclient.WithReconnectPolicy(cfg.Manager.Reconnect.Policy()),
		amiclient.WithMetrics(registry),
		amiclient.WithLogger(&managerLogger{logger: logger.With("component", "amiclient")}),
		amiclient.WithDisconnectCallback(func(err error) {
			slog.Warn("Manager connection lost", "error", err)
		}),
		amiclient.WithReconnectCallback(func() {
			slog.Info("Manager reconnected")
		}),
	}
	if cfg.Manager.EventMask != "" {
		opts = append(opts, amiclient.WithEventMask(cfg.Manager.EventMask))
	}

	if cfg.Manager.TLS.Enabled {
		tlsConfig, tlsCleanup, err := tlsutil.LoadClientTLSConfigWithACME(ctx, cfg.Manager.TLS.ClientTLSConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("load manager TLS config: %w", err)
		}
		cleanup = tlsCleanup
		opts = append(opts, amiclient.WithTLSConfig(tlsConfig))
	}

	client, err := amiclient.NewClient(cfg.Manager.Address, cfg.Manager.Username, cfg.Manager.Secret, opts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create manager client: %w", err)
	}

	return client, cleanup, nil
}

// drainManager closes the manager connection with the shutdown drain
func drainManager(client *amiclient.Client, timeout time.Duration) {
	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Close(closeCtx); err != nil {
		slog.Warn("Manager close reported error", "error", err)
	}

	stats := client.Stats()
	slog.Info("Manager session summary",
		"actions_sent", stats.ActionsSent,
		"events", stats.Events,
		"reconnects", stats.Reconnects,
		"malformed_frames", stats.MalformedFrames)
}

// buildOrchestrator creates the enabled components and registers them
func buildOrchestrator(
	cfg *config.Config,
	managerClient *amiclient.Client,
	natsClient *natsclient.Client,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*service.Orchestrator, error) {
	// Component logs are additionally published to ami.logs.<component>
	// so operators can tail them over the bus.
	componentLogger := slog.New(component.NewNATSHandler(logger.Handler(), natsClient.GetConnection()))

	deps := component.Dependencies{
		Manager:         managerClient,
		NATSClient:      natsClient,
		MetricsRegistry: registry,
		Logger:          componentLogger,
		Platform: component.PlatformMeta{
			Org:      cfg.GetOrg(),
			Platform: cfg.GetPlatform(),
		},
		Security: cfg.Security,
	}

	orchestrator := service.NewOrchestrator(
		service.WithNATS(natsClient),
		service.WithMetrics(registry),
		service.WithLogger(logger.With("component", "orchestrator")),
	)

	if cfg.Bridge.Enabled {
		b, err := bridge.New(cfg.Bridge.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("create bridge: %w", err)
		}
		if err := orchestrator.Add(b); err != nil {
			return nil, fmt.Errorf("register bridge: %w", err)
		}
	}

	if cfg.History.Enabled {
		journal, err := history.New(cfg.History.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("create history journal: %w", err)
		}
		if err := orchestrator.Add(journal); err != nil {
			return nil, fmt.Errorf("register history journal: %w", err)
		}
	}

	if cfg.LiveFeed.Enabled {
		feed, err := websocket.New(cfg.LiveFeed.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("create live feed: %w", err)
		}
		if err := orchestrator.Add(feed); err != nil {
			return nil, fmt.Errorf("register live feed: %w", err)
		}
	}

	if len(orchestrator.Components()) == 0 {
		slog.Warn("No components enabled, gateway will only hold the manager connection")
	}

	return orchestrator, nil
}

// runWithSignalHandling starts the components and waits for shutdown
func runWithSignalHandling(ctx context.Context, orchestrator *service.Orchestrator, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := orchestrator.Start(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("amistreams started", "components", orchestrator.Components())

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := orchestrator.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping components", "error", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("amistreams shutdown complete")
	return nil
}

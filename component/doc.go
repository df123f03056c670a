// Package component defines the contracts gateway components implement
// and the dependencies they are built from.
//
// # Overview
//
// A component is a self-describing unit the service orchestrator drives
// through a common lifecycle. The gateway ships three: the event bridge
// (manager events onto NATS subjects), the call journal (per-call
// records folded into a KV archive) and the websocket live feed. Each
// implements Discoverable for runtime introspection and
// LifecycleComponent for orchestration.
//
// # Core Concepts
//
// Discoverable:
//
// Every component reports metadata, port definitions, a configuration
// schema, health status and data flow metrics. The orchestrator uses
// Meta().Name for registration and Health() for aggregation; ports and
// schemas describe what a component connects to and how it is
// configured.
//
// LifecycleComponent:
//
// Components move through Initialize, Start and Stop:
//
//	comp, err := bridge.New(cfg, deps)
//	if err != nil {
//	    return err
//	}
//	if err := comp.Initialize(); err != nil {
//	    return err
//	}
//	if err := comp.Start(ctx); err != nil {
//	    return err
//	}
//	defer comp.Stop(5 * time.Second)
//
// Initialize is cheap setup with no context. Start receives a context
// the orchestrator cancels after Stop returns; components use it for
// in-flight work, never store it. Stop takes a timeout and drains
// gracefully.
//
// Dependencies:
//
// Components receive everything external through one structure at
// construction:
//
//	deps := component.Dependencies{
//	    Manager:         managerClient,
//	    NATSClient:      natsClient,
//	    MetricsRegistry: registry,
//	    Logger:          logger,
//	    Platform:        component.PlatformMeta{Org: "c360", Platform: "pbx-east"},
//	    Security:        cfg.Security,
//	}
//
// Constructors validate what they need and return errors for missing
// required dependencies. MetricsRegistry and Logger may be nil.
//
// Ports:
//
// Ports describe component I/O as typed resources. NATSPort for
// subject spaces, NetworkPort for listening sockets, KVWritePort for
// KV buckets. Each reports a ResourceID for conflict detection and
// whether the resource is exclusive (a TCP port is, a NATS subject is
// not). Port's JSON codec round-trips the concrete config type through
// a type tag so port descriptions survive serialization.
//
// # Log Fan-Out
//
// NATSHandler is a slog.Handler that forwards records to an inner
// handler and additionally publishes them to ami.logs.<component>,
// letting operators tail any component's logs over the bus:
//
//	handler := component.NewNATSHandler(logger.Handler(), natsClient.GetConnection())
//	deps.Logger = slog.New(handler)
//
// Components then log normally through deps.GetLoggerWithComponent and
// the "component" attribute selects the publish subject. With a nil
// connection the handler degrades to a transparent wrapper.
//
// # State Tracking
//
// The orchestrator tracks each component's State (created, initialized,
// started, stopped, failed) and exposes it for diagnostics. Components
// themselves only guard against double Start and make Stop idempotent;
// ordering is the orchestrator's problem.
package component

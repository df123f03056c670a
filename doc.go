// Package amistreams provides a resilient gateway between an Asterisk
// Manager Interface (AMI) server and NATS messaging infrastructure.
//
// # Overview
//
// AMIStreams holds one persistent TCP connection to an Asterisk manager
// port, sends actions and correlates their responses, classifies the
// unsolicited event stream, and fans events out to components that
// publish, journal, and stream them:
//
//	┌──────────┐  TCP :5038   ┌─────────────────────┐
//	│ Asterisk │◄────────────►│      amiclient      │  parse, correlate,
//	│  (AMI)   │              │ transport + router  │  classify, reconnect
//	└──────────┘              └──────────┬──────────┘
//	                                     │ OnEvent
//	                   ┌─────────────────┼─────────────────┐
//	                   ↓                 ↓                 │
//	            ┌────────────┐    ┌─────────────┐          │
//	            │event bridge│    │call journal │          │
//	            │ ami.event.>│    │  (NATS KV)  │          │
//	            └─────┬──────┘    └─────────────┘          │
//	                  │ NATS                               │
//	                  ↓                                    ↓
//	            ┌────────────┐                      ┌────────────┐
//	            │ live feed  │                      │ actions API│
//	            │ WebSocket  │                      │ (callers)  │
//	            └────────────┘                      └────────────┘
//
// The manager connection survives Asterisk restarts: the client
// reconnects with exponential backoff, re-authenticates, and replays
// nothing (AMI has no replay semantics; the journal tolerates the gap).
// Per-class circuit breakers keep a flapping server from melting the
// gateway.
//
// # Packages
//
// Manager protocol:
//   - amiclient: connection state machine, frame parser, action
//     correlator, event router, circuit breakers
//   - actions: typed constructors for common manager actions
//
// Components:
//   - bridge: republishes manager events onto NATS subjects
//   - history: tracks call lifecycles and journals them to a KV bucket
//   - output/websocket: live feed server streaming bridged events to
//     WebSocket clients
//
// Infrastructure:
//   - service: orchestrator owning component lifecycle and health HTTP
//   - component: component contracts, dependencies, ports, log fan-out
//   - natsclient: NATS connection management with its own breaker
//   - config: file, environment, and NATS KV configuration
//   - metric: Prometheus metrics registry
//   - errors: classified error handling
//   - health: liveness and readiness endpoints
//
// Utilities:
//   - pkg/buffer: bounded ring buffers with overflow policies
//   - pkg/retry: retry with exponential backoff
//   - pkg/worker: bounded worker pools
//   - pkg/timestamp: time utilities
//   - pkg/security, pkg/tlsutil, pkg/acme: TLS and certificate material
//
// # Usage
//
// The binary wires everything together:
//
//	amistreams --config configs/gateway.yaml
//
// Library use starts with the manager client:
//
//	client, err := amiclient.NewClient("pbx.example.com:5038", "admin", secret)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	id, _ := client.OnEvent("Newchannel", func(_ context.Context, evt amiclient.Event) error {
//	    log.Printf("channel %s", evt.Get("Channel"))
//	    return nil
//	})
//	defer client.OffEvent(id)
//
//	api := actions.New(client)
//	resp, err := api.Originate(ctx, actions.OriginateRequest{
//	    Channel: "PJSIP/1001", Context: "internal", Exten: "2000", Priority: 1,
//	})
//
// # Design Principles
//
// Explicit dependencies:
//   - Components receive their collaborators through component.Dependencies
//   - No package-level singletons
//
// Bounded everything:
//   - Event queues shed oldest under pressure instead of blocking reads
//   - Reconnect budgets bound recovery time
//   - Breakers bound failure amplification
//
// Testability:
//   - The manager protocol is tested against an in-process scripted server
//   - NATS-backed paths run against testcontainers, gated by -short
package amistreams

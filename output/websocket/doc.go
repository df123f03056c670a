// Package websocket provides the live feed component, a WebSocket server
// that streams bridged manager events to connected clients.
//
// # Overview
//
// The live feed subscribes to the NATS subjects the event bridge publishes
// on and fans every message out to connected WebSocket clients. Each frame
// carries a type-discriminated envelope so browser clients can dispatch on
// it without sniffing the payload:
//
//	{
//	  "type": "event",
//	  "id": "msg-1724580000000-42",
//	  "subject": "ami.event.call.Newchannel",
//	  "timestamp": 1724580000000,
//	  "payload": { ... }
//	}
//
// Payloads that are not valid JSON are delivered as a JSON string.
//
// # Quick Start
//
//	cfg := websocket.DefaultConfig()
//	cfg.Port = 8088
//	cfg.Subjects = []string{"ami.event.>"}
//
//	feed, err := websocket.New(cfg, component.Dependencies{
//	    NATSClient:      nc,
//	    MetricsRegistry: registry,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := feed.Start(ctx); err != nil {
//	    return err
//	}
//	defer feed.Stop(5 * time.Second)
//
// # Client Filters
//
// A client narrows its feed by sending a subscribe control message:
//
//	{"type": "subscribe", "subjects": ["ami.event.call.>"]}
//
// Filters use NATS wildcard semantics: "*" matches one subject token and
// ">" matches one or more trailing tokens. Sending an empty subject list
// restores the default of everything the feed carries.
//
// # Backpressure
//
// Delivery is at-most-once. Each client owns a bounded pending queue and
// a token bucket rate limiter. A writer goroutine drains the queue at the
// configured rate; when a client falls behind, the oldest queued frames
// are evicted rather than stalling the NATS handler or other clients.
// Evictions are counted and exported, so a lossy client is visible in
// metrics rather than silent.
//
// Clients answer protocol pings with pongs. A client whose pongs stop is
// evicted on the next ping sweep.
//
// # TLS
//
// The server takes its TLS material from the platform security config:
// manual certificate files, mTLS, or ACME with automatic renewal.
package websocket

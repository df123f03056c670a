// Package metric collects and exposes Prometheus metrics for the AMI
// gateway.
//
// A single MetricsRegistry owns the Prometheus registry for the whole
// process. It carries two layers:
//
//   - Core metrics (the Metrics type): gateway-wide series registered up
//     front under the "amistreams" namespace. These cover service
//     lifecycle, message flow, AMI manager connectivity (connection state,
//     reconnects, circuit breaker, action round-trips, event counts by
//     category), and NATS connectivity (state, RTT, reconnects, dial
//     breaker).
//   - Component metrics: each component registers its own collectors
//     through the MetricsRegistrar interface, keyed by component and
//     metric name so a double registration is caught early.
//
// The Server type serves /metrics (Prometheus exposition), /health (JSON),
// and an index page, with optional TLS and mTLS from the security config.
//
// # Usage
//
// Wire one registry through the whole gateway:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, securityCfg)
//	go server.Start()
//	defer server.Stop()
//
//	core := registry.CoreMetrics()
//	core.RecordManagerStatus(true)
//	core.RecordEvent("call")
//	core.RecordAction("Originate", 0.042)
//
// Components bring their own collectors:
//
//	published := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Name: "events_published_total",
//	    Help: "Events published to NATS by category",
//	}, []string{"category"})
//	if err := registry.RegisterCounterVec("bridge", "events_published_total", published); err != nil {
//	    return err
//	}
//
// Registration returns an error on a duplicate component/metric pair or a
// Prometheus-level conflict; recording itself is lock-free.
//
// Series names follow the usual shape, for example:
//
//	amistreams_manager_connected
//	amistreams_events_total{category="call"}
//	amistreams_action_duration_seconds{action="Originate"}
//	amistreams_nats_circuit_breaker_open
//
// MetricsRegistrar is the interface components should accept, so tests can
// pass a stub instead of a full registry.
package metric

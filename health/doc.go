// Package health tracks per-component health for the gateway and rolls
// it up into the platform status served at /health.
//
// Every managed component (manager client, event bridge, call journal,
// live feed) reports a [Status] into a shared [Monitor] on the
// orchestrator's health check interval. The HTTP endpoint serves the
// aggregate with the per-component statuses nested under it.
//
// # States
//
// A status is healthy, degraded or unhealthy. Degraded means running
// below normal: a manager client riding out a reconnect or a live feed
// shedding frames reports degraded rather than unhealthy, so operators
// can tell "recovering" from "down".
//
// Aggregation is worst-case: one unhealthy component makes the platform
// unhealthy, otherwise one degraded component makes it degraded.
//
// # Reporting and aggregation
//
//	monitor := health.NewMonitor()
//
//	monitor.Update("ami-client", health.FromComponentHealth("ami-client", client.Health()))
//	monitor.UpdateUnhealthy("event-bridge", "start failed")
//
//	platform := monitor.AggregateHealth("amistreams")
//	if platform.IsUnhealthy() {
//	    // 503 from the /health endpoint
//	}
//
// Components that implement the lifecycle interface report a
// component.HealthStatus; [FromComponentHealth] converts it, attaching
// uptime and error counters as [Metrics].
//
// # Scrubbing
//
// Messages that originate in component errors are scrubbed before they
// are stored. Dial and login failures embed manager addresses, NATS
// URLs, file paths and sometimes credentials; those become [URL],
// [PATH], [IP], [PORT] and [REDACTED] markers so the health tree is
// safe to expose on the metrics port. Scrubbing applies only to
// FromComponentHealth; messages passed to the constructors are taken
// as written.
//
// Statuses are small value types. The Monitor copies on read, so a
// slow /health consumer never blocks the orchestrator's update loop.
package health

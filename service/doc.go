// Package service provides lifecycle scaffolding for long-running
// services and the orchestrator that manages platform components.
//
// # BaseService
//
// BaseService supplies the machinery every service needs: status
// tracking (stopped, starting, running, stopping), periodic health
// checks with an optional custom check function, graceful shutdown when
// the parent context is canceled, and service status metrics. Services
// embed it and configure it through functional options:
//
//	svc := service.NewBaseService("gateway",
//	    service.WithNATS(natsClient),
//	    service.WithMetrics(registry),
//	    service.WithLogger(logger),
//	    service.WithHealthInterval(30*time.Second),
//	)
//
// When a NATS client is attached, connectivity to NATS is the default
// health check. A custom check installed with WithHealthCheck runs
// first; the NATS check only runs when the custom check passes.
//
// # Orchestrator
//
// Orchestrator owns the platform components (manager bridge, call
// journal, live feed). Components implement
// component.LifecycleComponent and are registered before Start:
//
//	orch := service.NewOrchestrator(
//	    service.WithNATS(natsClient),
//	    service.WithMetrics(registry),
//	    service.WithLogger(logger),
//	)
//	if err := orch.Add(bridge); err != nil { ... }
//	if err := orch.Add(journal); err != nil { ... }
//
//	if err := orch.Start(ctx); err != nil { ... }
//	defer orch.Stop(10 * time.Second)
//
// Start initializes components one at a time, then starts them in
// parallel under individual child contexts. A failed boot rolls back:
// components that already started are stopped again and the error is
// returned. Stop runs in reverse registration order and joins all stop
// errors instead of aborting on the first.
//
// The orchestrator's periodic health check aggregates live component
// health into a shared monitor; Health returns the platform aggregate
// with per-component sub-statuses.
package service

// Package amiclient provides a resilient Asterisk Manager Interface client
// with action correlation, categorized event routing, automatic reconnection,
// and per-class circuit breaker protection.
//
// The manager protocol multiplexes two kinds of traffic over one persistent
// TCP connection: synchronous request/response pairs (actions) and an
// unsolicited event stream. The amiclient package keeps the two apart with a
// correlator keyed by ActionID, routes events to handlers through per-category
// worker pools, and survives connection loss with exponential backoff
// reconnection. It is the foundation for all manager communication in the
// AMIStreams platform.
//
// # Core Features
//
// Action Correlation: Every outbound action carries a unique ActionID. The
// matching response resolves exactly one waiting caller, whichever of response
// arrival, timeout, cancellation, or connection loss happens first. Duplicate
// ActionIDs are refused, and responses with no waiting action are counted and
// discarded rather than misdelivered.
//
// Event Routing: Events are classified into a fixed category set (call, queue,
// agent, system, security, dtmf, other) at parse time. Each category gets a
// single-worker queue, so events within a category reach handlers in arrival
// order while categories proceed independently. A full queue sheds the event
// instead of stalling the read loop.
//
// Connection Lifecycle Management: Handles connection states automatically
// through the lifecycle: Disconnected → Connecting → Connected → Reconnecting
// → Connected. When reconnection attempts are exhausted the client enters
// Failed and stays there until a manual Reconnect.
//
// Circuit Breaker Pattern: Three independent breakers guard connect attempts,
// action sends, and event intake. A failure storm in one class fails fast
// without blocking the others.
//
// # Basic Usage
//
// Creating and connecting a client:
//
//	client, err := amiclient.NewClient("pbx.example.com:5038", "admin", "secret")
//	if err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	// Send an action and inspect the response
//	resp, err := client.Send(ctx, amiclient.Action{
//	    Name:   "Originate",
//	    Params: map[string]string{
//	        "Channel":  "PJSIP/1001",
//	        "Context":  "outbound",
//	        "Exten":    "18005551234",
//	        "Priority": "1",
//	    },
//	})
//	if err != nil {
//	    return err // transport or correlation failure
//	}
//	if !resp.Succeeded() {
//	    log.Printf("Originate rejected: %s", resp.Message)
//	}
//
// # Event Handling
//
// Handlers subscribe by event name or to everything with WildcardEvent:
//
//	id, err := client.OnEvent("Hangup", func(ctx context.Context, evt amiclient.Event) error {
//	    log.Printf("call ended on %s cause %s", evt.Get("Channel"), evt.Get("Cause"))
//	    return nil
//	})
//	defer client.OffEvent(id)
//
//	// Wildcard subscription with a per-handler filter
//	client.OnEvent(amiclient.WildcardEvent, auditLog,
//	    amiclient.WithHandlerFilter(func(evt amiclient.Event) bool {
//	        return evt.Category == amiclient.CategorySecurity
//	    }))
//
// Global filters run before any dispatch and apply to every handler:
//
//	client.AddEventFilter(func(evt amiclient.Event) bool {
//	    return evt.Name != "VarSet" // drop high-volume noise
//	})
//
// Handler errors and panics are isolated: they are counted and logged, and
// remaining handlers still run. Delivery order is guaranteed only within a
// category.
//
// # Circuit Breaker Pattern
//
// Each traffic class follows the classic three-state machine:
//
//	// Circuit states:
//	// - Closed: Normal operation, requests pass through
//	// - Open: Failures exceeded threshold, failing fast
//	// - Half-Open: Testing if system recovered
//
// Writes that fail, actions that time out, and connection loss count as
// failures. Any correlated response counts as success, including protocol
// errors: a server that answers "Response: Error" is a healthy server.
//
//	resp, err := client.Send(ctx, action)
//	if errors.Is(err, pkgerrors.ErrCircuitOpen) {
//	    // Failing fast; back off instead of queueing more work
//	}
//
// Policies are configured per class:
//
//	client, err := amiclient.NewClient(addr, user, secret,
//	    amiclient.WithActionBreaker(amiclient.BreakerPolicy{
//	        FailureThreshold: 10,
//	        SuccessThreshold: 2,
//	        Window:           time.Minute,
//	        RecoveryTimeout:  30 * time.Second,
//	    }),
//	)
//
// # Connection Status and Health
//
// Monitoring connection state:
//
//	switch client.Status() {
//	case amiclient.StatusConnected:
//	    // Healthy and ready
//	case amiclient.StatusReconnecting:
//	    // Temporarily disconnected, retrying with backoff
//	case amiclient.StatusFailed:
//	    // Retry budget exhausted; manual Reconnect required
//	}
//
//	// Wait for connection
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	err := client.WaitForConnection(ctx)
//
//	// Full activity snapshot
//	stats := client.Stats()
//	log.Printf("uptime %v, %d events, %d pending actions",
//	    stats.Uptime, stats.Events, stats.PendingActions)
//
// Lifecycle callbacks:
//
//	client, err := amiclient.NewClient(addr, user, secret,
//	    amiclient.WithDisconnectCallback(func(err error) {
//	        log.Printf("connection lost: %v", err)
//	    }),
//	    amiclient.WithReconnectCallback(func() {
//	        log.Println("reconnected")
//	    }),
//	    amiclient.WithConnectionLostCallback(func(err error) {
//	        log.Printf("gave up reconnecting: %v", err)
//	    }),
//	)
//
// # Error Handling
//
// Transport and correlation failures surface as Go errors classified by the
// errors package; server-side rejections surface as responses with an Error
// status. The two never mix:
//
//	resp, err := client.Send(ctx, action)
//	if err != nil {
//	    switch {
//	    case errors.Is(err, pkgerrors.ErrActionTimeout):
//	        // No response inside the window
//	    case errors.Is(err, pkgerrors.ErrConnectionLost):
//	        // Connection dropped with the action in flight
//	    case errors.Is(err, pkgerrors.ErrCircuitOpen):
//	        // Breaker is failing fast
//	    }
//	    return err
//	}
//	if !resp.Succeeded() {
//	    // Server processed and rejected the action
//	}
//
// Classification is structural: sentinel errors, typed wrappers, and net.Error
// inspection. Error message text is never consulted.
//
// # Connection Options
//
// Available configuration options:
//
//	WithTimeout(d time.Duration)          // Dial timeout
//	WithActionTimeout(d time.Duration)    // Default response wait per action
//	WithWriteTimeout(d time.Duration)     // Per-frame write bound
//	WithDrainTimeout(d time.Duration)     // In-flight drain window on Close
//	WithReconnectPolicy(p)                // Backoff and attempt budget
//	WithConnectBreaker(p)                 // Dial circuit policy
//	WithActionBreaker(p)                  // Action circuit policy
//	WithEventBreaker(p)                   // Event intake circuit policy
//	WithEventQueueSize(n int)             // Per-category queue depth
//	WithEventMask(mask string)            // Events parameter sent at login
//	WithKeepAlive(d time.Duration)        // Periodic Ping while connected
//	WithLogger(logger Logger)             // Custom logger
//	WithMetrics(registry)                 // Prometheus instrumentation
//
// # Authentication and Security
//
// Credentials are supplied at construction and sent in the Login action during
// Connect. An authentication rejection is fatal rather than transient: the
// client will not retry a bad secret against a healthy server.
//
// TLS is configured with a standard tls.Config:
//
//	client, err := amiclient.NewClient("pbx.example.com:5039", user, secret,
//	    amiclient.WithTLSConfig(&tls.Config{ServerName: "pbx.example.com"}),
//	)
//
// Outbound parameter values are sanitized so caller data can never inject
// extra frame lines. The secret is cleared from memory when the client closes.
//
// # Testing
//
// The package provides a scripted in-process server for integration-style
// tests without a real PBX:
//
//	func TestMyHandler(t *testing.T) {
//	    srv := amiclient.NewTestServer(t)
//	    defer srv.Close()
//
//	    client, _ := amiclient.NewClient(srv.Addr(), "admin", "secret")
//	    require.NoError(t, client.Connect(context.Background()))
//	    defer client.Close(context.Background())
//
//	    srv.PushEvent("Hangup", map[string]string{"Channel": "PJSIP/1001-0001"})
//	    // assert handler observations
//	}
//
// # Thread Safety
//
// The Client type is thread-safe and can be used concurrently from multiple
// goroutines:
//   - All public methods are safe for concurrent use
//   - Connection state is managed with atomic operations and mutexes
//   - Handlers can be registered and removed from any goroutine
//   - Close() can only be called once (subsequent calls are no-ops)
//
// # Performance Considerations
//
// The read loop never blocks on consumers: responses resolve waiting callers
// directly, and events are queued per category with drop-on-overflow. Writes
// are serialized per connection with a deadline, so one stalled send cannot
// interleave frames. Reads carry no deadline; silence between events is
// normal, and shutdown unblocks the read by closing the socket.
//
// Reconnection uses exponential backoff with jitter so a fleet of clients
// does not thunder back onto a recovering server.
//
// # Architecture Integration
//
// The amiclient package integrates with AMIStreams components:
//
//   - actions: Typed builders for the common manager actions
//   - bridge: Publishes categorized events onto NATS subjects
//   - history: Persists call journals keyed by channel identifiers
//   - service: Supervises the client inside the service lifecycle
//
// Data flow:
//
//	Asterisk → Transport → Frame Parser → Correlator / Event Router → Handlers
//
// # Design Decisions
//
// Exactly-Once Resolution: Every pending action resolves through a single
// take-from-map step, making response delivery, timeout, cancellation, and
// connection loss mutually exclusive. No caller ever sees two outcomes.
//
// Drop over Backpressure: A slow event consumer cannot stall the protocol
// read loop. Queues bound memory, overflow is counted and visible in stats,
// and ordering is preserved within each category.
//
// Context-First API: Every I/O operation requires context.Context as first
// parameter for proper cancellation and timeout support.
//
// Typed Response Status: The Response field is classified once at the parse
// boundary into a closed status set. Callers branch on types and sentinels,
// never on message wording, which varies across server versions.
package amiclient

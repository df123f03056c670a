// Package natsclient is the NATS side of the gateway: one shared
// connection that the bridge publishes manager events through, the call
// journal and config manager persist into via JetStream KV, and the
// live feed subscribes back out of.
//
// The client wraps the standard NATS library with dial-time circuit
// breaking and an RTT health probe. Once the connection is up the
// library's own reconnect machinery takes over; the breaker only guards
// repeated failed dials so a dead broker does not get hammered.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
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
//	err = client.Publish(ctx, "ami.event.call.Newchannel", data)
//
//	err = client.Subscribe(ctx, "ami.event.>", func(msgCtx context.Context, data []byte) {
//	    // Each delivery gets a bounded context.
//	})
//
// # Dial Circuit Breaker
//
// Connect fails fast with ErrCircuitOpen after the configured number of
// failed dials, then lets a single attempt through after an
// exponentially growing hold-off:
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithBreakerThreshold(5),
//	    natsclient.WithMaxBackoff(time.Minute),
//	)
//
//	if err := client.Connect(ctx); errors.Is(err, natsclient.ErrCircuitOpen) {
//	    time.Sleep(client.Backoff())
//	    // retry later
//	}
//
// # JetStream
//
// The bridge ensures its event stream exists before publishing:
//
//	stream, err := client.EnsureStream(ctx, jetstream.StreamConfig{
//	    Name:     "AMI_EVENTS",
//	    Subjects: []string{"ami.event.>"},
//	})
//
// Call records and runtime config live in KV buckets:
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "ami_calls",
//	    History: 5,
//	})
//
//	kvStore := client.NewKVStore(bucket)
//
//	// Atomic read-modify-write with CAS retry.
//	err = kvStore.UpdateJSON(ctx, "gateway.config", func(cfg map[string]any) error {
//	    cfg["enabled"] = true
//	    return nil
//	})
//
// KV failures come back as typed errors:
//
//	if natsclient.IsKVNotFoundError(err) {
//	    // key absent
//	}
//	if natsclient.IsKVConflictError(err) {
//	    // CAS lost after exhausting retries
//	}
//
// # Health
//
//	status := client.Status() // Disconnected, Connecting, Connected, Reconnecting, CircuitOpen
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	err := client.WaitForConnection(ctx)
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithHealthInterval(10*time.Second),
//	    natsclient.WithHealthChangeCallback(func(healthy bool) {
//	        // flips on connection loss and recovery
//	    }),
//	)
//
// # Security
//
//	natsclient.WithCredentials("user", "pass")
//	natsclient.WithToken("auth-token")
//	natsclient.WithTLS("client.crt", "client.key", "ca.crt")
//
// Credentials are cleared from memory when the client closes.
//
// # Testing
//
// Integration tests run against a real server via testcontainers, not
// mocks:
//
//	testClient := natsclient.NewTestClient(t,
//	    natsclient.WithJetStream(),
//	    natsclient.WithKV(),
//	)
//	client := testClient.Client
//
// # Thread Safety
//
// Client is safe for concurrent use. Close is idempotent. Status is
// read from an atomic, so health checks never contend with I/O.
package natsclient

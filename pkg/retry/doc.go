// Package retry runs an operation under capped exponential backoff.
//
// Components lean on it for work that fails transiently: republishing
// an event envelope while NATS reconnects, opening the call journal
// bucket before JetStream is ready, or looping a compare-and-swap
// update until the revision sticks.
//
// # Retrying an operation
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxAttempts:  4,
//	    InitialDelay: 50 * time.Millisecond,
//	    MaxDelay:     time.Second,
//	    Multiplier:   2.0,
//	    AddJitter:    true,
//	}, func() error {
//	    return client.Publish(ctx, subject, payload)
//	})
//
// Zero Config fields take defaults (100ms initial delay, 5s cap,
// multiplier 2.0). MaxAttempts <= 0 runs the operation exactly once,
// which lets callers wire a user-facing "retries" setting straight
// through as attempts = retries + 1. DefaultConfig returns the stock
// three-attempt schedule.
//
// Operations that produce a value go through DoWithResult:
//
//	bucket, err := retry.DoWithResult(ctx, retry.DefaultConfig(),
//	    func() (jetstream.KeyValue, error) {
//	        return client.CreateKeyValueBucket(ctx, cfg)
//	    })
//
// # Giving up early
//
// Failures that repeating cannot fix are wrapped with NonRetryable,
// which makes Do return at once instead of finishing the schedule:
//
//	if len(value) > maxValueSize {
//	    return retry.NonRetryable(fmt.Errorf("value exceeds %d bytes", maxValueSize))
//	}
//
// Context cancellation also ends the loop, both between attempts and
// mid-backoff, and the returned error wraps ctx.Err.
//
// # Scope
//
// The package covers backoff with jitter and nothing else. Circuit
// breaking belongs to the manager connection, and callers that want
// retry metrics count attempts at the call site.
package retry

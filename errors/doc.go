// Package errors classifies failures across the AMI gateway so callers
// can decide between retrying, rejecting, and stopping without parsing
// error text.
//
// Every error belongs to one of three classes:
//
//   - Transient: timeouts, dropped connections, temporary unavailability.
//     Worth retrying; the peer may come back.
//   - Invalid: malformed frames, validation failures, duplicate action
//     ids. Retrying reproduces the same failure.
//   - Fatal: authentication failures, bad configuration, exhausted
//     resources. Stop and escalate.
//
// Classification is structural only — explicit ClassifiedError values,
// the package's sentinels, and net.Error inspection. Message text is
// never consulted because manager servers word their failures differently
// across versions. Unknown errors classify as transient so they stay
// eligible for retry.
//
// # Wrapping
//
// All wrapping produces the "component.method: action failed: cause"
// shape, so logs are greppable by origin:
//
//	if err := conn.WriteFrame(frame); err != nil {
//	    return errors.Wrap(err, "Transport", "WriteFrame", "socket write")
//	}
//
// WrapTransient, WrapInvalid, and WrapFatal additionally pin the class;
// plain Wrap leaves the cause's class visible through the chain. All
// wrapped errors keep working with errors.Is and errors.As:
//
//	wrapped := errors.Wrap(errors.ErrConnectionTimeout, "Client", "Connect", "dial")
//	errors.IsTransient(wrapped) // true
//
// Prefer the package sentinels (ErrCircuitOpen, ErrActionTimeout,
// ErrInvalidFrame, ...) over ad-hoc messages so callers can match on
// them.
//
// # Retry
//
// RetryConfig pairs the classification with exponential backoff, and
// ToRetryConfig bridges into pkg/retry for use with retry.Do:
//
//	cfg := errors.DefaultRetryConfig()
//	if cfg.ShouldRetry(err, attempt) {
//	    time.Sleep(cfg.BackoffDelay(attempt))
//	}
//
// context.DeadlineExceeded and context.Canceled classify as transient, so
// context-driven timeouts flow through the same retry decisions as
// network ones.
package errors

package amiclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/amistreams/errors"
)

// BreakerState is the current mode of a circuit breaker.
type BreakerState int

// Breaker states. Closed admits traffic, Open rejects it, HalfOpen
// admits probes while deciding whether the fault has cleared.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns a human-readable state name for logs and metrics.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerPolicy configures one circuit breaker.
type BreakerPolicy struct {
	// FailureThreshold is the consecutive-failure count within Window
	// that trips the breaker open.
	FailureThreshold int

	// SuccessThreshold is the consecutive-success count in half-open
	// that closes the breaker again.
	SuccessThreshold int

	// Window bounds how long a failure streak stays relevant. A
	// failure arriving after the window since the streak began resets
	// the count to one instead of extending the streak.
	Window time.Duration

	// RecoveryTimeout is how long an open breaker waits before
	// admitting a half-open probe.
	RecoveryTimeout time.Duration
}

// DefaultBreakerPolicy returns the policy used when none is supplied.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Window:           30 * time.Second,
		RecoveryTimeout:  15 * time.Second,
	}
}

func (p BreakerPolicy) validate() error {
	if p.FailureThreshold < 1 {
		return fmt.Errorf("%w: breaker failure threshold must be positive", errors.ErrInvalidConfig)
	}
	if p.SuccessThreshold < 1 {
		return fmt.Errorf("%w: breaker success threshold must be positive", errors.ErrInvalidConfig)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: breaker window must be positive", errors.ErrInvalidConfig)
	}
	if p.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: breaker recovery timeout must be positive", errors.ErrInvalidConfig)
	}
	return nil
}

// breaker is one circuit breaker instance. Connect, action, and event
// traffic each get their own so a storm in one class cannot starve the
// others. All methods are safe for concurrent use.
type breaker struct {
	class  string
	policy BreakerPolicy

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	probes        int // in-flight half-open probes
	streakStart   time.Time
	openedAt      time.Time
	lastChange    time.Time
	onStateChange func(class string, from, to BreakerState)

	// now is swapped in tests to drive the recovery timeout without
	// sleeping.
	now func() time.Time
}

func newBreaker(class string, policy BreakerPolicy) *breaker {
	return &breaker{
		class:  class,
		policy: policy,
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. In the open state it
// returns ErrCircuitOpen until the recovery timeout has elapsed, at
// which point the breaker moves to half-open and admits the caller as
// a probe. Half-open admits at most SuccessThreshold probes at a time;
// further callers are rejected until an outcome lands.
func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probes >= b.policy.SuccessThreshold {
			return fmt.Errorf("%w: %s breaker half-open, probe limit reached",
				errors.ErrCircuitOpen, b.class)
		}
		b.probes++
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.policy.RecoveryTimeout {
			b.transition(BreakerHalfOpen)
			b.probes = 1
			return nil
		}
		return fmt.Errorf("%w: %s breaker open, retry after %s",
			errors.ErrCircuitOpen, b.class,
			(b.policy.RecoveryTimeout - b.now().Sub(b.openedAt)).Round(time.Millisecond))
	default:
		return nil
	}
}

// RecordSuccess notes a successful operation. In half-open it counts
// toward closing; in closed it clears any failure streak.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		b.successes++
		if b.successes >= b.policy.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	}
}

// RecordFailure notes a failed operation. Enough consecutive failures
// inside the window trip the breaker; any failure during half-open
// reopens it immediately.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		now := b.now()
		if b.failures == 0 || now.Sub(b.streakStart) > b.policy.Window {
			b.failures = 0
			b.streakStart = now
		}
		b.failures++
		if b.failures >= b.policy.FailureThreshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

// State returns the current state, honoring a pending open-to-half-open
// transition so observers never see a stale open past its timeout.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.policy.RecoveryTimeout {
		b.transition(BreakerHalfOpen)
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
	b.failures = 0
	b.successes = 0
}

// transition moves to a new state. Caller holds b.mu.
func (b *breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastChange = b.now()
	b.probes = 0
	switch to {
	case BreakerOpen:
		b.openedAt = b.lastChange
		b.successes = 0
	case BreakerHalfOpen:
		b.successes = 0
	case BreakerClosed:
		b.failures = 0
		b.successes = 0
	}
	if b.onStateChange != nil {
		// Callback runs under the lock; keep it cheap. The client
		// installs a metrics gauge update here.
		b.onStateChange(b.class, from, to)
	}
}

// BreakerSnapshot is a point-in-time view of one breaker for status
// reporting.
type BreakerSnapshot struct {
	Class      string       `json:"class"`
	State      BreakerState `json:"-"`
	StateName  string       `json:"state"`
	Failures   int          `json:"failures"`
	Successes  int          `json:"successes"`
	LastChange time.Time    `json:"last_change,omitempty"`
}

// Snapshot captures current counters without disturbing state timing.
func (b *breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Class:      b.class,
		State:      b.state,
		StateName:  b.state.String(),
		Failures:   b.failures,
		Successes:  b.successes,
		LastChange: b.lastChange,
	}
}

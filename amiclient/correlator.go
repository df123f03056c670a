package amiclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/amistreams/errors"
)

// pendingAction is one in-flight request awaiting its response. The
// done channel closes exactly once, after resp or err is set, so a
// waiter never observes a half-resolved entry.
type pendingAction struct {
	id       string
	name     string
	sentAt   time.Time
	done     chan struct{}
	resp     *Response
	err      error
	timer    *time.Timer
}

// correlator matches responses to the actions that caused them by
// ActionID. Every entry resolves exactly once, whichever of response
// arrival, timeout, cancellation, or connection loss happens first:
// each path must take the entry out of the map before touching it, and
// the map removal is the tiebreaker.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingAction
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[string]*pendingAction),
	}
}

// register adds an in-flight action and arms its timeout. A duplicate
// ActionID is refused outright: overwriting would strand the first
// waiter forever.
func (c *correlator) register(id, name string, timeout time.Duration) (*pendingAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrShuttingDown
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: action id %q already in flight", errors.ErrDuplicateAction, id)
	}

	entry := &pendingAction{
		id:     id,
		name:   name,
		sentAt: time.Now(),
		done:   make(chan struct{}),
	}
	entry.timer = time.AfterFunc(timeout, func() {
		c.expire(id, timeout)
	})
	c.pending[id] = entry
	return entry, nil
}

// take removes and returns the entry for id, or nil when another path
// already claimed it. Whoever takes the entry owns its resolution.
func (c *correlator) take(id string) *pendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return entry
}

// resolve delivers a response to its waiter. A false return means no
// entry was waiting: the response is an orphan, either late after a
// timeout or carrying an ActionID this client never issued.
func (c *correlator) resolve(id string, resp *Response) bool {
	entry := c.take(id)
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	entry.resp = resp
	close(entry.done)
	return true
}

// expire resolves an entry with a timeout error. Runs on the entry's
// timer goroutine.
func (c *correlator) expire(id string, timeout time.Duration) {
	entry := c.take(id)
	if entry == nil {
		return
	}
	entry.err = fmt.Errorf("%w: action %s (%s) after %s",
		errors.ErrActionTimeout, entry.name, id, timeout)
	close(entry.done)
}

// abandon resolves an entry with the caller's error, typically a
// context cancellation. A false return means the response won the
// race; the caller should read the entry's result instead.
func (c *correlator) abandon(id string, err error) bool {
	entry := c.take(id)
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	entry.err = err
	close(entry.done)
	return true
}

// failAll resolves every in-flight entry with err. Called when the
// connection drops or the client shuts down: responses for these
// actions can no longer arrive on this connection.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	entries := make([]*pendingAction, 0, len(c.pending))
	for id, entry := range c.pending {
		entries = append(entries, entry)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.err = err
		close(entry.done)
	}
	return len(entries)
}

// shutdown refuses further registrations and fails what remains.
func (c *correlator) shutdown(err error) int {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.failAll(err)
}

// count returns the number of in-flight actions.
func (c *correlator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

package amiclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/pkg/worker"
)

// WildcardEvent subscribes a handler to every event regardless of name.
const WildcardEvent = "*"

// EventHandler processes one event. Returning an error marks the event
// as failed in router statistics but never stops delivery to other
// handlers.
type EventHandler func(ctx context.Context, evt Event) error

// EventFilter decides whether an event passes. Filters registered on
// the router run before dispatch; a filter attached to a handler runs
// only for that handler.
type EventFilter func(evt Event) bool

// HandlerID identifies one subscription for later removal.
type HandlerID uint64

// HandlerOption customizes a single subscription.
type HandlerOption func(*handlerEntry)

// WithHandlerFilter attaches a per-handler predicate. Events the
// predicate rejects skip this handler without affecting others.
func WithHandlerFilter(f EventFilter) HandlerOption {
	return func(h *handlerEntry) {
		h.filter = f
	}
}

type handlerEntry struct {
	id     HandlerID
	name   string
	fn     EventHandler
	filter EventFilter
}

// RouterStats is a snapshot of router activity since start or the last
// reset.
type RouterStats struct {
	Processed        uint64 `json:"processed"`
	Filtered         uint64 `json:"filtered"`
	ProcessingErrors uint64 `json:"processing_errors"`
	Dropped          uint64 `json:"dropped"`
	Handlers         int    `json:"handlers"`
}

// eventRouter fans events out to subscribed handlers. Each category
// gets its own single-worker pool, so events within a category are
// handled in arrival order while categories proceed independently. A
// full category queue drops the event rather than stalling the read
// loop; the drop is counted and logged.
type eventRouter struct {
	mu       sync.RWMutex
	handlers map[string][]*handlerEntry
	filters  []EventFilter
	nextID   uint64

	pools     map[Category]*worker.Pool[Event]
	queueSize int

	processed        atomic.Uint64
	filtered         atomic.Uint64
	processingErrors atomic.Uint64
	dropped          atomic.Uint64

	logger  Logger
	metrics *metric.Metrics
}

func newEventRouter(queueSize int, logger Logger, metrics *metric.Metrics, registry *metric.MetricsRegistry) *eventRouter {
	r := &eventRouter{
		handlers:  make(map[string][]*handlerEntry),
		pools:     make(map[Category]*worker.Pool[Event]),
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
	}
	for _, cat := range Categories() {
		var opts []worker.Option[Event]
		if registry != nil {
			opts = append(opts, worker.WithMetricsRegistry[Event](registry, "events_"+string(cat)))
		}
		// One worker per category keeps intra-category ordering.
		r.pools[cat] = worker.NewPool(1, queueSize, r.process, opts...)
	}
	return r
}

// start launches the category pools.
func (r *eventRouter) start(ctx context.Context) error {
	for cat, pool := range r.pools {
		if err := pool.Start(ctx); err != nil {
			return errors.Wrap(err, "EventRouter", "start", "start "+string(cat)+" pool")
		}
	}
	return nil
}

// stop drains and stops the category pools, giving each the full
// timeout. Errors are collected rather than short-circuiting so every
// pool gets its shutdown attempt.
func (r *eventRouter) stop(timeout time.Duration) error {
	var errs []error
	for cat, pool := range r.pools {
		if err := pool.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s pool: %w", cat, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("router stop: %v", errs)
	}
	return nil
}

// subscribe registers a handler for an event name, or for every event
// when name is WildcardEvent. Handlers for the same name run in
// registration order.
func (r *eventRouter) subscribe(name string, fn EventHandler, opts ...HandlerOption) (HandlerID, error) {
	if name == "" {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: handler event name is empty", errors.ErrInvalidConfig),
			"EventRouter", "subscribe", "validate name")
	}
	if fn == nil {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: handler function is nil", errors.ErrInvalidConfig),
			"EventRouter", "subscribe", "validate handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry := &handlerEntry{id: HandlerID(r.nextID), name: name, fn: fn}
	for _, opt := range opts {
		opt(entry)
	}
	r.handlers[name] = append(r.handlers[name], entry)
	return entry.id, nil
}

// unsubscribe removes a handler. Returns false when the id is unknown,
// which includes handlers already removed.
func (r *eventRouter) unsubscribe(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entries := range r.handlers {
		for i, entry := range entries {
			if entry.id != id {
				continue
			}
			r.handlers[name] = append(entries[:i], entries[i+1:]...)
			if len(r.handlers[name]) == 0 {
				delete(r.handlers, name)
			}
			return true
		}
	}
	return false
}

// addFilter appends a global filter. Filters run in registration order
// and the first rejection wins.
func (r *eventRouter) addFilter(f EventFilter) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

// clearFilters removes all global filters.
func (r *eventRouter) clearFilters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = nil
}

// dispatch routes one event toward its category pool. Runs on the read
// loop goroutine, so everything here must stay non-blocking: a full
// queue drops the event instead of stalling reads. The return value
// reports that drop so the caller can feed its breaker.
func (r *eventRouter) dispatch(evt Event) (dropped bool) {
	r.mu.RLock()
	filters := r.filters
	r.mu.RUnlock()

	for _, f := range filters {
		if !r.evalFilter(f, evt) {
			r.filtered.Add(1)
			return false
		}
	}

	pool := r.pools[evt.Category]
	if err := pool.Submit(evt); err != nil {
		r.dropped.Add(1)
		if stderrors.Is(err, worker.ErrQueueFull) {
			r.logger.Printf("event %s dropped, %s queue full", evt.Name, evt.Category)
		} else {
			r.logger.Errorf("event %s dropped: %v", evt.Name, err)
		}
		return true
	}
	if r.metrics != nil {
		r.metrics.RecordEvent(string(evt.Category))
	}
	return false
}

// evalFilter runs one filter with the same panic isolation handlers
// get. This runs on the read loop for global filters, so a filter bug
// must never take the connection down. A panicking filter is counted
// and logged, and the event passes as if the filter had no opinion.
func (r *eventRouter) evalFilter(f EventFilter, evt Event) (pass bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.processingErrors.Add(1)
			r.logger.Errorf("filter panicked on %s: %v", evt.Name, rec)
			pass = true
		}
	}()
	return f(evt)
}

// noteDrop counts an event shed before dispatch, such as during an
// open intake breaker.
func (r *eventRouter) noteDrop() {
	r.dropped.Add(1)
}

// process runs on a category pool worker. Named handlers run before
// wildcard handlers; within each group, registration order holds. A
// panicking or failing handler is isolated: it is counted and logged,
// and the remaining handlers still run.
func (r *eventRouter) process(ctx context.Context, evt Event) error {
	r.mu.RLock()
	entries := make([]*handlerEntry, 0,
		len(r.handlers[evt.Name])+len(r.handlers[WildcardEvent]))
	entries = append(entries, r.handlers[evt.Name]...)
	if evt.Name != WildcardEvent {
		entries = append(entries, r.handlers[WildcardEvent]...)
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !r.evalFilter(entry.filter, evt) {
			continue
		}
		r.invoke(ctx, entry, evt)
	}
	r.processed.Add(1)
	return nil
}

func (r *eventRouter) invoke(ctx context.Context, entry *handlerEntry, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.processingErrors.Add(1)
			r.logger.Errorf("handler %d panicked on %s: %v", entry.id, evt.Name, rec)
		}
	}()
	if err := entry.fn(ctx, evt); err != nil {
		r.processingErrors.Add(1)
		r.logger.Errorf("handler %d failed on %s: %v", entry.id, evt.Name, err)
	}
}

// stats returns current counters and the live handler count.
func (r *eventRouter) stats() RouterStats {
	r.mu.RLock()
	handlers := 0
	for _, entries := range r.handlers {
		handlers += len(entries)
	}
	r.mu.RUnlock()

	return RouterStats{
		Processed:        r.processed.Load(),
		Filtered:         r.filtered.Load(),
		ProcessingErrors: r.processingErrors.Load(),
		Dropped:          r.dropped.Load(),
		Handlers:         handlers,
	}
}

// resetStats zeroes the counters. Handler registrations survive.
func (r *eventRouter) resetStats() {
	r.processed.Store(0)
	r.filtered.Store(0)
	r.processingErrors.Store(0)
	r.dropped.Store(0)
}

// Package worker provides a generic fixed-size worker pool over a
// bounded queue.
//
// Its main customer is the manager client's event router, which runs
// one single-worker Pool per event category: the lone worker keeps
// arrival order inside a category, and separate pools keep a slow
// call handler from delaying agent or queue events.
//
// # Basic use
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, job Job) error {
//	    return handle(ctx, job)
//	})
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(job); err != nil {
//	    if errors.Is(err, worker.ErrQueueFull) {
//	        // Shed the item; the pool never blocks the producer.
//	    }
//	}
//
// # Backpressure
//
// Submit is non-blocking. A full queue returns ErrQueueFull and counts
// the item as dropped, which turns queue pressure into an explicit
// signal instead of a stalled producer. The read loop feeding the
// router relies on this: it must never block behind a slow handler.
//
// # Lifecycle
//
// Start launches the workers under the given context; cancellation
// makes them exit without draining. Stop closes the queue, lets the
// workers drain what was already accepted, and gives up with
// ErrStopTimeout when the budget runs out. Submissions racing a Stop
// get ErrPoolStopped rather than a panic.
//
// Per-item deadlines are the process func's business, using the
// context it receives.
//
// # Observability
//
// Counters (submitted, processed, failed, dropped) are always kept and
// readable through Stats. With WithMetricsRegistry the pool also
// publishes Prometheus series under the given prefix:
//
//	<prefix>_queue_depth
//	<prefix>_utilization
//	<prefix>_submitted_total
//	<prefix>_processed_total
//	<prefix>_failed_total
//	<prefix>_dropped_total
//	<prefix>_processing_duration_seconds{status}
//
// The router uses per-category prefixes ("events_call", "events_agent"
// and so on), so a filling category is visible before it drops.
package worker

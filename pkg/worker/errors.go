package worker

import "errors"

var (
	// ErrPoolNotStarted reports a Submit before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped reports a Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted reports a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull reports a Submit against a queue at capacity. The
	// event router treats it as a shed event rather than a failure.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor reports a NewPool call without a process func.
	ErrNilProcessor = errors.New("process function cannot be nil")

	// ErrStopTimeout reports workers still busy when the Stop budget
	// ran out.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)

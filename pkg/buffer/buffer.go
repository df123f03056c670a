package buffer

// Buffer is a bounded FIFO queue of T. Implementations are safe for
// concurrent use and never block the writer: capacity pressure is
// resolved by the overflow policy, not by stalling the producer.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy at capacity.
	// The only error is writing to a closed buffer.
	Write(item T) error

	// Read removes and returns the oldest item. The bool is false when
	// the buffer is empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items, oldest first.
	// A nil slice means the buffer was empty or max was non-positive.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the number of buffered items.
	Size() int

	// Capacity returns the fixed capacity.
	Capacity() int

	// IsFull reports size == capacity.
	IsFull() bool

	// IsEmpty reports size == 0.
	IsEmpty() bool

	// Clear discards every buffered item, feeding each one to the drop
	// callback.
	Clear()

	// Stats returns the buffer's counters.
	Stats() *Statistics

	// Close rejects further writes. Items already buffered stay
	// readable, so a consumer can drain after the producer is gone.
	Close() error
}

// OverflowPolicy selects what a full buffer does with the excess.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to admit the new one. The live
	// feed uses this for each client queue: a slow reader sees the
	// freshest events, not a stale backlog.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item and keeps the backlog.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback observes each item discarded by the overflow policy or
// by Clear. It runs after the buffer lock is released, so it may call
// back into the buffer, but the state it saw may already have moved.
type DropCallback[T any] func(item T)

// NewCircularBuffer builds a ring buffer of the given capacity.
// Capacities below 1 are raised to 1. A non-nil error only occurs when
// WithMetrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newRing(capacity, applyOptions(options...))
}

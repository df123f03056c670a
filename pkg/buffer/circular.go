package buffer

import (
	"sync"

	"github.com/c360/amistreams/errors"
)

// ring is the circular Buffer implementation. Both overflow policies
// resolve without waiting, so no method here blocks on another
// goroutine. Drop callbacks are invoked after the lock is released.
type ring[T any] struct {
	mu       sync.RWMutex
	buf      []T
	capacity int
	size     int
	head     int // next write slot
	tail     int // next read slot
	closed   bool

	stats   *Statistics
	metrics *bufferMetrics
	opts    *bufferOptions[T]
}

func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "newRing", "metrics registration")
		}
	}

	return &ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var evicted T
	haveEvicted := false

	if r.size == r.capacity {
		r.stats.Overflow()
		r.stats.Drop()
		if r.metrics != nil {
			r.metrics.recordOverflow()
			r.metrics.recordDrop()
		}

		if r.opts.overflowPolicy == DropNewest {
			cb := r.opts.dropCallback
			r.mu.Unlock()
			if cb != nil {
				cb(item)
			}
			return nil
		}

		// DropOldest: evict from the tail to admit the new item.
		evicted = r.buf[r.tail]
		haveEvicted = true
		var zero T
		r.buf[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
	}

	r.buf[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}

	cb := r.opts.dropCallback
	r.mu.Unlock()

	if haveEvicted && cb != nil {
		cb(evicted)
	}
	return nil
}

func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.buf[r.tail]
	r.buf[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordRead(r.size, r.capacity)
	}

	return item, true
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = r.buf[r.tail]
		r.buf[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read()
	}

	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}

	return out
}

func (r *ring[T]) Peek() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	r.stats.Peek()
	if r.metrics != nil {
		r.metrics.recordPeek()
	}
	return r.buf[r.tail], true
}

func (r *ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity needs no lock: the slice never changes after construction.
func (r *ring[T]) Capacity() int {
	return r.capacity
}

func (r *ring[T]) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == r.capacity
}

func (r *ring[T]) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == 0
}

func (r *ring[T]) Clear() {
	r.mu.Lock()

	var discarded []T
	if r.opts.dropCallback != nil && r.size > 0 {
		discarded = make([]T, r.size)
		for i := 0; i < r.size; i++ {
			discarded[i] = r.buf[(r.tail+i)%r.capacity]
		}
	}

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}

	cb := r.opts.dropCallback
	r.mu.Unlock()

	if cb != nil {
		for _, item := range discarded {
			cb(item)
		}
	}
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

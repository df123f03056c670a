package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/amistreams/metric"
)

// Pool runs a fixed number of workers over a bounded queue of T.
// Submit never blocks: a full queue rejects the item with ErrQueueFull
// and the caller decides whether that matters. The event router runs
// one single-worker pool per event category, which preserves arrival
// order inside a category while a slow handler only delays its own
// category.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error

	queue   chan T
	stop    chan struct{}
	metrics *poolMetrics
	wg      sync.WaitGroup

	// lifecycle orders Submit against Stop closing the queue.
	lifecycle sync.RWMutex
	started   bool
	stopped   bool

	submitted int64
	processed int64
	failed    int64
	dropped   int64

	registry *metric.MetricsRegistry
	prefix   string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry publishes pool gauges and counters through the
// shared registry under the given prefix, such as "events_call" for
// the call category pool.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// NewPool builds a pool of workers draining a queue of queueSize items
// into process. Non-positive sizes fall back to 10 workers and a 1000
// item queue. A nil process func panics.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if process == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		queue:     make(chan T, queueSize),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil && p.prefix != "" {
		p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_queue_depth",
			Help: "Items waiting in the pool queue",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_utilization",
			Help: "Queue fill ratio (0-1)",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_submitted_total",
			Help: "Items accepted into the queue",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_processed_total",
			Help: "Items handed to the process func",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_failed_total",
			Help: "Items whose process func returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_dropped_total",
			Help: "Items rejected because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.prefix + "_processing_duration_seconds",
			Help:    "Process func latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const owner = "worker_pool"
	p.registry.RegisterGauge(owner, p.prefix+"_queue_depth", m.queueDepth)
	p.registry.RegisterGauge(owner, p.prefix+"_utilization", m.utilization)
	p.registry.RegisterCounter(owner, p.prefix+"_submitted_total", m.submitted)
	p.registry.RegisterCounter(owner, p.prefix+"_processed_total", m.processed)
	p.registry.RegisterCounter(owner, p.prefix+"_failed_total", m.failed)
	p.registry.RegisterCounter(owner, p.prefix+"_dropped_total", m.dropped)
	p.registry.RegisterHistogramVec(owner, p.prefix+"_processing_duration_seconds", m.processingTime)

	p.metrics = m
}

// Submit offers one item to the queue without blocking. It returns
// ErrQueueFull at capacity, or ErrPoolNotStarted / ErrPoolStopped
// outside the running window.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. The context bounds their lifetime: when
// it ends, workers exit without draining the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	if p.metrics != nil {
		p.wg.Add(1)
		go p.gaugeLoop(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for the workers to
// drain it. The pool refuses new submissions from the moment Stop
// runs, including after a timed-out wait.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stop)
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns a point-in-time snapshot of the pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats is a snapshot of pool activity. Processed counts every
// item handed to the process func; Failed counts the subset that
// returned an error.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}

			start := time.Now()
			err := p.process(ctx, work)

			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}
			if p.metrics != nil {
				p.metrics.processed.Inc()
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processingTime.WithLabelValues(status).Observe(time.Since(start).Seconds())
			}
		}
	}
}

// gaugeLoop refreshes the depth and utilization gauges once a second.
// It watches the stop channel as well as the context, so a Stop with a
// still-live context does not leave it holding up the WaitGroup.
func (p *Pool[T]) gaugeLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			depth := float64(len(p.queue))
			p.metrics.queueDepth.Set(depth)
			p.metrics.utilization.Set(depth / float64(p.queueSize))
		}
	}
}

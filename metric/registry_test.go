package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatheredNames returns the set of metric family names currently
// exposed by the registry.
func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r)
	assert.NotNil(t, r.PrometheusRegistry())
	assert.NotNil(t, r.CoreMetrics())

	// Registry must satisfy the interface components depend on.
	var _ MetricsRegistrar = r
}

func TestMetricsRegistry_RegisterCollectors(t *testing.T) {
	r := NewMetricsRegistry()

	tests := []struct {
		metric   string
		register func() error
	}{
		{
			metric: "bridge_test_counter",
			register: func() error {
				c := prometheus.NewCounter(prometheus.CounterOpts{
					Name: "bridge_test_counter", Help: "test counter",
				})
				c.Inc()
				return r.RegisterCounter("bridge", "bridge_test_counter", c)
			},
		},
		{
			metric: "journal_test_gauge",
			register: func() error {
				g := prometheus.NewGauge(prometheus.GaugeOpts{
					Name: "journal_test_gauge", Help: "test gauge",
				})
				g.Set(42)
				return r.RegisterGauge("journal", "journal_test_gauge", g)
			},
		},
		{
			metric: "feed_test_histogram",
			register: func() error {
				h := prometheus.NewHistogram(prometheus.HistogramOpts{
					Name: "feed_test_histogram", Help: "test histogram",
					Buckets: prometheus.DefBuckets,
				})
				h.Observe(1.5)
				return r.RegisterHistogram("feed", "feed_test_histogram", h)
			},
		},
		{
			metric: "bridge_test_counter_vec",
			register: func() error {
				cv := prometheus.NewCounterVec(prometheus.CounterOpts{
					Name: "bridge_test_counter_vec", Help: "test counter vec",
				}, []string{"category"})
				cv.WithLabelValues("call").Inc()
				return r.RegisterCounterVec("bridge", "bridge_test_counter_vec", cv)
			},
		},
		{
			metric: "journal_test_gauge_vec",
			register: func() error {
				gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
					Name: "journal_test_gauge_vec", Help: "test gauge vec",
				}, []string{"bucket"})
				gv.WithLabelValues("ami_calls").Set(3)
				return r.RegisterGaugeVec("journal", "journal_test_gauge_vec", gv)
			},
		},
		{
			metric: "feed_test_histogram_vec",
			register: func() error {
				hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
					Name: "feed_test_histogram_vec", Help: "test histogram vec",
				}, []string{"action"})
				hv.WithLabelValues("Originate").Observe(0.04)
				return r.RegisterHistogramVec("feed", "feed_test_histogram_vec", hv)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			require.NoError(t, tt.register())
			assert.True(t, gatheredNames(t, r)[tt.metric], "%s should be gatherable", tt.metric)
		})
	}
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	r := NewMetricsRegistry()
	mk := func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dup_counter", Help: "dup",
		})
	}

	require.NoError(t, r.RegisterCounter("bridge", "dup_counter", mk()))

	t.Run("same component and metric", func(t *testing.T) {
		err := r.RegisterCounter("bridge", "dup_counter", mk())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("different component, same prometheus name", func(t *testing.T) {
		err := r.RegisterCounter("journal", "dup_counter", mk())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prometheus conflict")
	})
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "short_lived_counter", Help: "removed below",
	})
	c.Inc()
	require.NoError(t, r.RegisterCounter("bridge", "short_lived_counter", c))
	require.True(t, gatheredNames(t, r)["short_lived_counter"])

	assert.True(t, r.Unregister("bridge", "short_lived_counter"))
	assert.False(t, gatheredNames(t, r)["short_lived_counter"])

	t.Run("unknown metric returns false", func(t *testing.T) {
		assert.False(t, r.Unregister("bridge", "never_registered"))
	})

	t.Run("slot is reusable after unregister", func(t *testing.T) {
		again := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "short_lived_counter", Help: "removed below",
		})
		assert.NoError(t, r.RegisterCounter("bridge", "short_lived_counter", again))
	})
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	r := NewMetricsRegistry()
	const n = 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "concurrent"})
			c.Inc()
			assert.NoError(t, r.RegisterCounter("stress", name, c))
		}(i)
	}
	wg.Wait()

	registered := 0
	for name := range gatheredNames(t, r) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			registered++
		}
	}
	assert.Equal(t, n, registered)
}

func TestMetricsRegistry_CoreMetricsExposed(t *testing.T) {
	r := NewMetricsRegistry()
	core := r.CoreMetrics()

	// Vectors only appear in Gather once a sample exists.
	core.RecordServiceStatus("gateway", 2)
	core.RecordMessageReceived("gateway", "event")
	core.RecordMessageProcessed("gateway", "event", "success")
	core.RecordMessagePublished("gateway", "ami.event.call.newchannel")
	core.RecordProcessingDuration("gateway", "dispatch", 100*time.Millisecond)
	core.RecordError("gateway", "connection")
	core.RecordHealthStatus("gateway", true)
	core.RecordManagerStatus(true)
	core.RecordManagerReconnect()
	core.RecordManagerCircuitState("action", 0)
	core.RecordAction("Ping", "success", 5*time.Millisecond)
	core.RecordEvent("call")
	core.RecordNATSStatus(true)
	core.RecordNATSRTT(50 * time.Millisecond)
	core.RecordNATSReconnect()
	core.RecordCircuitBreakerState(0)

	names := gatheredNames(t, r)
	for _, want := range []string{
		"amistreams_service_status",
		"amistreams_messages_received_total",
		"amistreams_messages_processed_total",
		"amistreams_messages_published_total",
		"amistreams_processing_duration_seconds",
		"amistreams_errors_total",
		"amistreams_health_status",
		"amistreams_manager_connected",
		"amistreams_manager_reconnects_total",
		"amistreams_manager_circuit_state",
		"amistreams_manager_actions_total",
		"amistreams_manager_action_duration_seconds",
		"amistreams_manager_events_total",
		"amistreams_nats_connected",
		"amistreams_nats_rtt_milliseconds",
		"amistreams_nats_reconnects_total",
		"amistreams_nats_circuit_breaker",
	} {
		assert.True(t, names[want], "core metric %s missing", want)
	}

	// Domain counters belong to components, not the core set.
	for _, reject := range []string{
		"amistreams_business_calls_tracked",
		"amistreams_business_queues_total",
		"amistreams_business_agents_logged_in",
		"amistreams_business_journal_size",
	} {
		assert.False(t, names[reject], "component metric %s must not be core", reject)
	}
}

package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journalComponent stands in for a gateway component that registers its
// own domain series alongside the core set.
type journalComponent struct {
	name         string
	callsTracked prometheus.Counter
	journalDepth prometheus.Gauge
}

func newJournalComponent(name string) *journalComponent {
	return &journalComponent{name: name}
}

func (j *journalComponent) RegisterMetrics(registrar MetricsRegistrar) error {
	j.callsTracked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "amistreams",
		Subsystem: "journal",
		Name:      "calls_tracked_total",
		Help:      "Total calls written to the journal",
	})
	if err := registrar.RegisterCounter(j.name, "calls_tracked_total", j.callsTracked); err != nil {
		return err
	}

	j.journalDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "amistreams",
		Subsystem: "journal",
		Name:      "active_calls",
		Help:      "Calls currently open in the journal",
	})
	return registrar.RegisterGauge(j.name, "active_calls", j.journalDepth)
}

func (j *journalComponent) trackCall(active int) {
	j.callsTracked.Inc()
	j.journalDepth.Set(float64(active))
}

func TestComponentMetricsRegistration(t *testing.T) {
	registry := NewMetricsRegistry()
	journal := newJournalComponent("history")

	require.NoError(t, journal.RegisterMetrics(registry))
	journal.trackCall(3)

	names := gatheredNames(t, registry)
	assert.True(t, names["amistreams_journal_calls_tracked_total"])
	assert.True(t, names["amistreams_journal_active_calls"])
}

func TestComponentMetricsCoexistWithCore(t *testing.T) {
	registry := NewMetricsRegistry()
	journal := newJournalComponent("history")
	require.NoError(t, journal.RegisterMetrics(registry))

	core := registry.CoreMetrics()
	core.RecordServiceStatus("history", 2)
	core.RecordEvent("call")
	journal.trackCall(1)

	names := gatheredNames(t, registry)
	assert.True(t, names["amistreams_service_status"], "core series present")
	assert.True(t, names["amistreams_manager_events_total"], "core series present")
	assert.True(t, names["amistreams_journal_calls_tracked_total"], "component series present")
	assert.True(t, names["amistreams_journal_active_calls"], "component series present")
}

func TestComponentMetricsConflicts(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, newJournalComponent("history").RegisterMetrics(registry))

	t.Run("same component registered twice", func(t *testing.T) {
		err := newJournalComponent("history").RegisterMetrics(registry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("different component, same series names", func(t *testing.T) {
		err := newJournalComponent("history-replica").RegisterMetrics(registry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prometheus conflict")
	})
}

func TestComponentMetricsUnregistration(t *testing.T) {
	registry := NewMetricsRegistry()
	journal := newJournalComponent("history")
	require.NoError(t, journal.RegisterMetrics(registry))
	journal.trackCall(1)

	require.True(t, gatheredNames(t, registry)["amistreams_journal_calls_tracked_total"])
	assert.True(t, registry.Unregister("history", "calls_tracked_total"))

	names := gatheredNames(t, registry)
	assert.False(t, names["amistreams_journal_calls_tracked_total"], "removed series is gone")
	assert.True(t, names["amistreams_journal_active_calls"], "sibling series survives")
}

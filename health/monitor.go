package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor is the orchestrator's registry of per-component health. Each
// managed component reports into it on the health check interval, and
// the platform status served at /health is an aggregate over the
// current entries.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]Status
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		components: make(map[string]Status),
	}
}

// Update records the current status for name. The entry is keyed by
// name regardless of the status's own Component field, and a zero
// timestamp is stamped with the time of the update.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = status
}

// UpdateUnhealthy marks name unhealthy. The orchestrator uses it when a
// lifecycle transition fails before the component can report for
// itself.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the last recorded status for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.components[name]
	return status, ok
}

// Remove drops name from the monitor, typically after the component has
// stopped and should no longer count against platform health.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
}

// AggregateHealth rolls every tracked component into a single status
// for the named system. Sub-statuses are ordered by component name so
// the serialized health tree is stable across calls.
func (m *Monitor) AggregateHealth(system string) Status {
	m.mu.RLock()
	statuses := make([]Status, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})
	return Aggregate(system, statuses)
}

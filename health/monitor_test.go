package health

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	monitor := NewMonitor()

	if _, ok := monitor.Get("event-bridge"); ok {
		t.Fatal("empty monitor should not report any component")
	}

	// The entry is keyed by the update name even when the status
	// carries a stale Component field, and an unset timestamp gets
	// stamped.
	monitor.Update("event-bridge", Status{
		Component: "old-name",
		Status:    StatusHealthy,
		Healthy:   true,
		Message:   "publishing",
	})

	status, ok := monitor.Get("event-bridge")
	if !ok {
		t.Fatal("component should exist after Update")
	}
	if status.Component != "event-bridge" {
		t.Errorf("Component = %q, want %q", status.Component, "event-bridge")
	}
	if status.Message != "publishing" {
		t.Errorf("Message = %q, want %q", status.Message, "publishing")
	}
	if status.Timestamp.IsZero() {
		t.Error("Update should stamp a zero timestamp")
	}
}

func TestMonitor_UpdatePreservesExplicitTimestamp(t *testing.T) {
	monitor := NewMonitor()
	stamped := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	st := NewHealthy("call-journal", "bucket open")
	st.Timestamp = stamped
	monitor.Update("call-journal", st)

	got, _ := monitor.Get("call-journal")
	if !got.Timestamp.Equal(stamped) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, stamped)
	}
}

func TestMonitor_UpdateOverwrites(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("live-feed", NewHealthy("live-feed", "serving 3 clients"))
	monitor.Update("live-feed", NewDegraded("live-feed", "shedding frames"))

	status, _ := monitor.Get("live-feed")
	if !status.IsDegraded() {
		t.Errorf("Status = %q, want degraded after second update", status.Status)
	}
	if status.Message != "shedding frames" {
		t.Errorf("Message = %q, want %q", status.Message, "shedding frames")
	}
}

func TestMonitor_UpdateUnhealthy(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateUnhealthy("event-bridge", "start failed")

	status, ok := monitor.Get("event-bridge")
	if !ok || !status.IsUnhealthy() {
		t.Fatalf("UpdateUnhealthy should record an unhealthy status, got %+v", status)
	}
	if status.Healthy {
		t.Error("Healthy flag should be false")
	}
	if status.Message != "start failed" {
		t.Errorf("Message = %q, want %q", status.Message, "start failed")
	}
}

func TestMonitor_Remove(t *testing.T) {
	monitor := NewMonitor()

	// Removing an unknown name is a no-op.
	monitor.Remove("event-bridge")

	monitor.Update("event-bridge", NewHealthy("event-bridge", "publishing"))
	monitor.Update("call-journal", NewHealthy("call-journal", "bucket open"))
	monitor.Remove("event-bridge")

	if _, ok := monitor.Get("event-bridge"); ok {
		t.Error("removed component should be gone")
	}
	if _, ok := monitor.Get("call-journal"); !ok {
		t.Error("remaining component should survive an unrelated Remove")
	}
}

func TestMonitor_AggregateHealth(t *testing.T) {
	monitor := NewMonitor()

	agg := monitor.AggregateHealth("amistreams")
	if !agg.IsHealthy() {
		t.Errorf("empty monitor should aggregate healthy, got %q", agg.Status)
	}
	if agg.Component != "amistreams" {
		t.Errorf("Component = %q, want %q", agg.Component, "amistreams")
	}

	monitor.Update("event-bridge", NewHealthy("event-bridge", "publishing"))
	monitor.Update("call-journal", NewHealthy("call-journal", "bucket open"))
	if agg = monitor.AggregateHealth("amistreams"); !agg.IsHealthy() {
		t.Errorf("all healthy should aggregate healthy, got %q", agg.Status)
	}

	monitor.UpdateUnhealthy("live-feed", "listener closed")
	agg = monitor.AggregateHealth("amistreams")
	if !agg.IsUnhealthy() {
		t.Errorf("one unhealthy component should aggregate unhealthy, got %q", agg.Status)
	}
	if len(agg.SubStatuses) != 3 {
		t.Fatalf("SubStatuses = %d, want 3", len(agg.SubStatuses))
	}

	monitor.Remove("live-feed")
	monitor.Update("live-feed", NewDegraded("live-feed", "shedding frames"))
	if agg = monitor.AggregateHealth("amistreams"); !agg.IsDegraded() {
		t.Errorf("degraded without unhealthy should aggregate degraded, got %q", agg.Status)
	}
}

func TestMonitor_AggregateOrderIsStable(t *testing.T) {
	monitor := NewMonitor()

	// Insertion order deliberately differs from name order.
	monitor.Update("live-feed", NewHealthy("live-feed", "serving"))
	monitor.Update("call-journal", NewHealthy("call-journal", "bucket open"))
	monitor.Update("event-bridge", NewHealthy("event-bridge", "publishing"))

	want := []string{"call-journal", "event-bridge", "live-feed"}
	for i := 0; i < 5; i++ {
		agg := monitor.AggregateHealth("amistreams")
		if len(agg.SubStatuses) != len(want) {
			t.Fatalf("SubStatuses = %d, want %d", len(agg.SubStatuses), len(want))
		}
		for j, name := range want {
			if agg.SubStatuses[j].Component != name {
				t.Fatalf("SubStatuses[%d] = %q, want %q", j, agg.SubStatuses[j].Component, name)
			}
		}
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()
	names := []string{"event-bridge", "call-journal", "live-feed"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				name := names[j%len(names)]
				switch j % 5 {
				case 0:
					monitor.Update(name, NewHealthy(name, fmt.Sprintf("pass %d", worker)))
				case 1:
					monitor.UpdateUnhealthy(name, "probe failed")
				case 2:
					_, _ = monitor.Get(name)
				case 3:
					_ = monitor.AggregateHealth("amistreams")
				case 4:
					monitor.Remove(name)
				}
			}
		}(i)
	}
	wg.Wait()

	monitor.Update("event-bridge", NewHealthy("event-bridge", "publishing"))
	status, ok := monitor.Get("event-bridge")
	if !ok || status.Component != "event-bridge" {
		t.Error("monitor should still work after concurrent access")
	}
}

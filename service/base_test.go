package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "stopped", StatusStopped.String())
	assert.Equal(t, "starting", StatusStarting.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "stopping", StatusStopping.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestBaseService_Lifecycle(t *testing.T) {
	svc := NewBaseService("gateway", WithHealthInterval(0))

	assert.Equal(t, "gateway", svc.Name())
	assert.Equal(t, StatusStopped, svc.Status())
	assert.False(t, svc.IsHealthy())

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StatusRunning, svc.Status())

	info := svc.GetStatus()
	assert.Equal(t, "gateway", info.Name)
	assert.Equal(t, StatusRunning, info.Status)
	assert.False(t, info.StartTime.IsZero())

	// Start and Stop are idempotent.
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(time.Second))
	assert.Equal(t, StatusStopped, svc.Status())
	require.NoError(t, svc.Stop(time.Second))
}

func TestBaseService_HealthCheck(t *testing.T) {
	var failing atomic.Bool
	svc := NewBaseService("gateway",
		WithHealthInterval(10*time.Millisecond),
		WithHealthCheck(func() error {
			if failing.Load() {
				return errors.New("downstream gone")
			}
			return nil
		}),
	)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	assert.Eventually(t, svc.IsHealthy, 2*time.Second, 5*time.Millisecond)

	failing.Store(true)
	assert.Eventually(t, func() bool { return !svc.IsHealthy() }, 2*time.Second, 5*time.Millisecond)

	info := svc.GetStatus()
	assert.Positive(t, info.HealthChecks)
	assert.Positive(t, info.FailedHealthChecks)

	failing.Store(false)
	assert.Eventually(t, svc.IsHealthy, 2*time.Second, 5*time.Millisecond)
}

func TestBaseService_OnHealthChange(t *testing.T) {
	changes := make(chan bool, 8)
	var failing atomic.Bool

	svc := NewBaseService("gateway",
		WithHealthInterval(10*time.Millisecond),
		WithHealthCheck(func() error {
			if failing.Load() {
				return errors.New("check failed")
			}
			return nil
		}),
		OnHealthChange(func(healthy bool) {
			changes <- healthy
		}),
	)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	select {
	case healthy := <-changes:
		assert.True(t, healthy)
	case <-time.After(2 * time.Second):
		t.Fatal("no health transition reported")
	}

	failing.Store(true)
	select {
	case healthy := <-changes:
		assert.False(t, healthy)
	case <-time.After(2 * time.Second):
		t.Fatal("no unhealthy transition reported")
	}
}

func TestBaseService_ContextCancellation(t *testing.T) {
	svc := NewBaseService("gateway", WithHealthInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, StatusRunning, svc.Status())

	cancel()

	assert.Eventually(t, func() bool {
		return svc.Status() == StatusStopped
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, svc.IsHealthy())

	// Stop after a context driven shutdown is still safe.
	require.NoError(t, svc.Stop(time.Second))
}

func TestBaseService_HealthStates(t *testing.T) {
	svc := NewBaseService("gateway", WithHealthInterval(0))

	status := svc.Health()
	assert.True(t, status.IsUnhealthy())
	assert.Contains(t, status.Message, "stopped")

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	// No check has run yet, so the service reports unhealthy.
	assert.True(t, svc.Health().IsUnhealthy())

	svc.runHealthCheck()
	status = svc.Health()
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "gateway", status.Component)
}

func TestBaseService_GetStatusUptime(t *testing.T) {
	svc := NewBaseService("gateway", WithHealthInterval(0))
	assert.Zero(t, svc.GetStatus().Uptime)

	require.NoError(t, svc.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Positive(t, svc.GetStatus().Uptime)

	require.NoError(t, svc.Stop(time.Second))
	assert.Zero(t, svc.GetStatus().Uptime)
}

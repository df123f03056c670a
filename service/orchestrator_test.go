package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/amistreams/component"
)

// stopRecorder captures the order components were stopped in.
type stopRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *stopRecorder) record(name string) {
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
}

func (r *stopRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// fakeComponent is a scripted LifecycleComponent for orchestrator tests.
type fakeComponent struct {
	name    string
	stopLog *stopRecorder

	mu        sync.Mutex
	initErr   error
	startErr  error
	stopErr   error
	unhealthy bool

	initCalls  int
	startCalls int
	stopCalls  int
	startCtx   context.Context
}

func newFake(name string) *fakeComponent {
	return &fakeComponent{name: name}
}

func (f *fakeComponent) Meta() component.Metadata {
	return component.Metadata{Name: f.name, Type: "processor", Version: "0.0.1"}
}

func (f *fakeComponent) InputPorts() []component.Port  { return nil }
func (f *fakeComponent) OutputPorts() []component.Port { return nil }

func (f *fakeComponent) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}

func (f *fakeComponent) Health() component.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return component.HealthStatus{Healthy: !f.unhealthy, LastCheck: time.Now()}
}

func (f *fakeComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

func (f *fakeComponent) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startCalls++
	f.startCtx = ctx
	return nil
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	if f.stopLog != nil {
		f.stopLog.record(f.name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeComponent) setUnhealthy(v bool) {
	f.mu.Lock()
	f.unhealthy = v
	f.mu.Unlock()
}

func (f *fakeComponent) setStartErr(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

func (f *fakeComponent) counts() (initCalls, startCalls, stopCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.startCalls, f.stopCalls
}

func (f *fakeComponent) context() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCtx
}

// testOrchestrator returns an orchestrator with periodic health checks
// disabled so tests drive checks explicitly.
func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return NewOrchestrator(WithHealthInterval(0))
}

func TestOrchestrator_AddValidation(t *testing.T) {
	orch := testOrchestrator(t)

	assert.Error(t, orch.Add(nil))
	assert.Error(t, orch.Add(newFake("")))

	require.NoError(t, orch.Add(newFake("bridge")))
	err := orch.Add(newFake("bridge"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.NoError(t, orch.Start(context.Background()))
	defer func() { _ = orch.Stop(time.Second) }()

	err = orch.Add(newFake("journal"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestOrchestrator_StartAndStop(t *testing.T) {
	recorder := &stopRecorder{}
	a := newFake("bridge")
	b := newFake("journal")
	c := newFake("livefeed")
	for _, f := range []*fakeComponent{a, b, c} {
		f.stopLog = recorder
	}

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))
	require.NoError(t, orch.Add(b))
	require.NoError(t, orch.Add(c))

	require.NoError(t, orch.Start(context.Background()))
	assert.Equal(t, StatusRunning, orch.Status())

	states := orch.States()
	for _, f := range []*fakeComponent{a, b, c} {
		inits, starts, _ := f.counts()
		assert.Equal(t, 1, inits, f.name)
		assert.Equal(t, 1, starts, f.name)
		assert.Equal(t, component.StateStarted, states[f.name])
	}

	// Second Start is a no-op.
	require.NoError(t, orch.Start(context.Background()))
	inits, _, _ := a.counts()
	assert.Equal(t, 1, inits)

	require.NoError(t, orch.Stop(time.Second))
	assert.Equal(t, StatusStopped, orch.Status())

	// Reverse registration order.
	assert.Equal(t, []string{"livefeed", "journal", "bridge"}, recorder.names())

	states = orch.States()
	for _, f := range []*fakeComponent{a, b, c} {
		assert.Equal(t, component.StateStopped, states[f.name])
	}
}

func TestOrchestrator_InitializeFailureAborts(t *testing.T) {
	a := newFake("bridge")
	b := newFake("journal")
	b.initErr = errors.New("bucket missing")
	c := newFake("livefeed")

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))
	require.NoError(t, orch.Add(b))
	require.NoError(t, orch.Add(c))

	err := orch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `initialize component "journal"`)
	assert.Equal(t, StatusStopped, orch.Status())

	// Nothing was started, including components before the failing one.
	aInits, aStarts, _ := a.counts()
	cInits, cStarts, _ := c.counts()
	assert.Equal(t, 1, aInits)
	assert.Zero(t, aStarts)
	assert.Zero(t, cInits, "initialization stops at the first failure")
	assert.Zero(t, cStarts)

	assert.Equal(t, component.StateFailed, orch.States()["journal"])
}

func TestOrchestrator_StartFailureRollsBack(t *testing.T) {
	a := newFake("bridge")
	b := newFake("journal")
	b.startErr = errors.New("stream unavailable")
	c := newFake("livefeed")

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))
	require.NoError(t, orch.Add(b))
	require.NoError(t, orch.Add(c))

	err := orch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `start component "journal"`)
	assert.Equal(t, StatusStopped, orch.Status())

	// Components that came up during the failed boot were stopped again.
	_, _, aStops := a.counts()
	_, _, cStops := c.counts()
	assert.Equal(t, 1, aStops)
	assert.Equal(t, 1, cStops)
	assert.Equal(t, component.StateFailed, orch.States()["journal"])

	// A fixed component can be booted again.
	b.setStartErr(nil)
	require.NoError(t, orch.Start(context.Background()))
	defer func() { _ = orch.Stop(time.Second) }()

	assert.Equal(t, StatusRunning, orch.Status())
	for name, state := range orch.States() {
		assert.Equal(t, component.StateStarted, state, name)
	}
}

func TestOrchestrator_StopJoinsErrors(t *testing.T) {
	a := newFake("bridge")
	b := newFake("journal")
	b.stopErr = errors.New("flush failed")
	c := newFake("livefeed")

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))
	require.NoError(t, orch.Add(b))
	require.NoError(t, orch.Add(c))
	require.NoError(t, orch.Start(context.Background()))

	err := orch.Stop(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stop component "journal"`)

	// The failure did not prevent the remaining components from stopping.
	_, _, aStops := a.counts()
	_, _, cStops := c.counts()
	assert.Equal(t, 1, aStops)
	assert.Equal(t, 1, cStops)

	states := orch.States()
	assert.Equal(t, component.StateFailed, states["journal"])
	assert.Equal(t, component.StateStopped, states["bridge"])
	assert.Equal(t, component.StateStopped, states["livefeed"])
}

func TestOrchestrator_StopWithoutStart(t *testing.T) {
	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(newFake("bridge")))
	assert.NoError(t, orch.Stop(time.Second))
}

func TestOrchestrator_HealthAggregation(t *testing.T) {
	a := newFake("bridge")
	b := newFake("journal")

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))
	require.NoError(t, orch.Add(b))

	// Before Start the scaffolding state is reported.
	assert.True(t, orch.Health().IsUnhealthy())

	require.NoError(t, orch.Start(context.Background()))
	defer func() { _ = orch.Stop(time.Second) }()

	require.NoError(t, orch.checkComponents())
	status := orch.Health()
	assert.True(t, status.IsHealthy())
	assert.Len(t, status.SubStatuses, 2)

	b.setUnhealthy(true)
	err := orch.checkComponents()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal")
	assert.True(t, orch.Health().IsUnhealthy())

	b.setUnhealthy(false)
	require.NoError(t, orch.checkComponents())
	assert.True(t, orch.Health().IsHealthy())
}

func TestOrchestrator_ComponentAccessors(t *testing.T) {
	a := newFake("bridge")
	b := newFake("journal")

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))
	require.NoError(t, orch.Add(b))

	got, ok := orch.Component("bridge")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = orch.Component("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"bridge", "journal"}, orch.Components())
}

func TestOrchestrator_ParentContextCancellation(t *testing.T) {
	a := newFake("bridge")

	orch := testOrchestrator(t)
	require.NoError(t, orch.Add(a))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, orch.Start(ctx))

	componentCtx := a.context()
	require.NotNil(t, componentCtx)
	require.NoError(t, componentCtx.Err())

	cancel()

	// Component contexts derive from the parent and are canceled with it.
	assert.ErrorIs(t, componentCtx.Err(), context.Canceled)

	// The scaffolding winds down on its own.
	assert.Eventually(t, func() bool {
		return orch.Status() == StatusStopped
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, orch.Stop(time.Second))
}

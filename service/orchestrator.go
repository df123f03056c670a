package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/health"
)

// managedComponent pairs a component with its lifecycle bookkeeping.
// The cancel function releases the component's individual context, so
// one component can be torn down without touching its siblings.
type managedComponent struct {
	component component.LifecycleComponent
	name      string

	mu     sync.Mutex
	state  component.State
	cancel context.CancelFunc
}

func (mc *managedComponent) setState(state component.State) {
	mc.mu.Lock()
	mc.state = state
	mc.mu.Unlock()
}

func (mc *managedComponent) currentState() component.State {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.state
}

func (mc *managedComponent) setCancel(cancel context.CancelFunc) {
	mc.mu.Lock()
	mc.cancel = cancel
	mc.mu.Unlock()
}

func (mc *managedComponent) release() {
	mc.mu.Lock()
	cancel := mc.cancel
	mc.cancel = nil
	mc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Orchestrator owns the lifecycle of the platform components. Components
// are registered before Start, started together, stopped in reverse
// registration order, and report into a shared health monitor.
//
// Each component runs under its own child context derived from the
// context passed to Start, so canceling the parent stops everything
// while individual components can still be torn down one at a time.
type Orchestrator struct {
	*BaseService

	monitor *health.Monitor

	mu         sync.RWMutex
	components []*managedComponent
	byName     map[string]*managedComponent
	started    bool
}

// NewOrchestrator creates an orchestrator. Options configure the
// embedded service scaffolding; the orchestrator installs its own
// health check that aggregates component health, which callers can
// override with WithHealthCheck.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		monitor: health.NewMonitor(),
		byName:  make(map[string]*managedComponent),
	}
	o.BaseService = NewBaseService("orchestrator",
		append([]Option{WithHealthCheck(o.checkComponents)}, opts...)...)
	return o
}

// Add registers a component for lifecycle management. Registration
// order is start order and reverse stop order. Components cannot be
// added after Start.
func (o *Orchestrator) Add(c component.LifecycleComponent) error {
	if c == nil {
		return errors.New("component cannot be nil")
	}
	name := c.Meta().Name
	if name == "" {
		return errors.New("component has no name")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("cannot add %q: orchestrator already started", name)
	}
	if _, exists := o.byName[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}

	mc := &managedComponent{
		component: c,
		name:      name,
		state:     component.StateCreated,
	}
	o.components = append(o.components, mc)
	o.byName[name] = mc
	return nil
}

// Start initializes every component sequentially, then starts them all
// in parallel. The first failure aborts the boot: components that
// already started are stopped again in reverse order and the failure is
// returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	components := make([]*managedComponent, len(o.components))
	copy(components, o.components)
	o.mu.Unlock()

	if err := o.BaseService.Start(ctx); err != nil {
		o.markNotStarted()
		return fmt.Errorf("start service scaffolding: %w", err)
	}

	// Initialization is cheap setup work, done one at a time so a
	// broken component is reported before anything touches the network.
	for _, mc := range components {
		if err := mc.component.Initialize(); err != nil {
			mc.setState(component.StateFailed)
			o.monitor.UpdateUnhealthy(mc.name, "initialization failed")
			o.abortStart(components)
			return fmt.Errorf("initialize component %q: %w", mc.name, err)
		}
		mc.setState(component.StateInitialized)
		o.logger.Debug("Component initialized", "component", mc.name)
	}

	g := new(errgroup.Group)
	for _, mc := range components {
		componentCtx, cancel := context.WithCancel(ctx)
		mc.setCancel(cancel)
		g.Go(func() error {
			if err := mc.component.Start(componentCtx); err != nil {
				mc.setState(component.StateFailed)
				o.monitor.UpdateUnhealthy(mc.name, "start failed")
				return fmt.Errorf("start component %q: %w", mc.name, err)
			}
			mc.setState(component.StateStarted)
			o.logger.Info("Component started", "component", mc.name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.abortStart(components)
		return err
	}

	for _, mc := range components {
		o.monitor.Update(mc.name, health.FromComponentHealth(mc.name, mc.component.Health()))
	}
	o.logger.Info("All components started", "count", len(components))
	return nil
}

// abortStart rolls back a failed boot: started components are stopped
// again and the scaffolding is shut down so Start can be retried.
func (o *Orchestrator) abortStart(components []*managedComponent) {
	o.stopComponentsReverse(components, 5*time.Second)
	if err := o.BaseService.Stop(5 * time.Second); err != nil {
		o.logger.Error("Failed to stop service scaffolding during rollback", "error", err)
	}
	o.markNotStarted()
}

func (o *Orchestrator) markNotStarted() {
	o.mu.Lock()
	o.started = false
	o.mu.Unlock()
}

// Stop stops every component in reverse registration order, then the
// service scaffolding. Each component gets the full timeout. All stop
// errors are collected and joined rather than aborting on the first.
func (o *Orchestrator) Stop(timeout time.Duration) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return o.BaseService.Stop(timeout)
	}
	o.started = false
	components := make([]*managedComponent, len(o.components))
	copy(components, o.components)
	o.mu.Unlock()

	errs := o.stopComponentsReverse(components, timeout)
	if err := o.BaseService.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop service scaffolding: %w", err))
	}
	return errors.Join(errs...)
}

// stopComponentsReverse stops started components in reverse order. Each
// component is asked to stop gracefully first; its individual context
// is canceled afterwards to release anything still holding it.
func (o *Orchestrator) stopComponentsReverse(components []*managedComponent, timeout time.Duration) []error {
	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		mc := components[i]
		if mc.currentState() != component.StateStarted {
			mc.release()
			continue
		}

		err := mc.component.Stop(timeout)
		mc.release()
		if err != nil {
			mc.setState(component.StateFailed)
			o.monitor.UpdateUnhealthy(mc.name, "stop failed")
			o.logger.Error("Failed to stop component", "component", mc.name, "error", err)
			errs = append(errs, fmt.Errorf("stop component %q: %w", mc.name, err))
			continue
		}

		mc.setState(component.StateStopped)
		o.monitor.Remove(mc.name)
		o.logger.Info("Component stopped", "component", mc.name)
	}
	return errs
}

// checkComponents is the orchestrator's periodic health check. It
// refreshes the monitor from live component health and fails when any
// started component reports unhealthy.
func (o *Orchestrator) checkComponents() error {
	o.mu.RLock()
	components := make([]*managedComponent, len(o.components))
	copy(components, o.components)
	o.mu.RUnlock()

	var unhealthy []string
	for _, mc := range components {
		if mc.currentState() != component.StateStarted {
			continue
		}
		ch := mc.component.Health()
		o.monitor.Update(mc.name, health.FromComponentHealth(mc.name, ch))
		if !ch.Healthy {
			unhealthy = append(unhealthy, mc.name)
		}
	}

	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// Health returns the aggregate platform health with per-component
// sub-statuses. Before the orchestrator is running it reports the
// scaffolding state instead.
func (o *Orchestrator) Health() health.Status {
	if o.Status() != StatusRunning {
		return o.BaseService.Health()
	}
	return o.monitor.AggregateHealth(o.name)
}

// Component returns a registered component by name.
func (o *Orchestrator) Component(name string) (component.LifecycleComponent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	mc, ok := o.byName[name]
	if !ok {
		return nil, false
	}
	return mc.component, true
}

// Components returns the registered component names in start order.
func (o *Orchestrator) Components() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, 0, len(o.components))
	for _, mc := range o.components {
		names = append(names, mc.name)
	}
	return names
}

// States returns the current lifecycle state of every component.
func (o *Orchestrator) States() map[string]component.State {
	o.mu.RLock()
	defer o.mu.RUnlock()

	states := make(map[string]component.State, len(o.components))
	for _, mc := range o.components {
		states[mc.name] = mc.currentState()
	}
	return states
}

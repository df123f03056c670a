package health

import (
	"fmt"
	"time"
)

// Well-known values for Status.Status. Degraded sits between the other
// two: the component is running but below its normal level, for example
// a manager client riding out a reconnect or a live feed shedding
// frames to a slow client.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is one component's health at a point in time. The orchestrator
// keeps one per managed component and the platform aggregate carries
// them as SubStatuses, so the whole tree marshals directly into the
// /health response.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the operational counters a component reports
// alongside its health state.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// NewHealthy builds a healthy status stamped with the current time.
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewDegraded builds a degraded status. Degraded counts as not healthy
// for the Healthy flag, callers that only look at the boolean treat it
// the same as unhealthy.
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// NewUnhealthy builds an unhealthy status stamped with the current time.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StatusHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls component statuses up into a single status for the
// named system. Any unhealthy component makes the system unhealthy;
// otherwise any degraded component makes it degraded. The inputs are
// copied into SubStatuses, so the result stays valid if the caller's
// slice changes afterwards.
func Aggregate(component string, statuses []Status) Status {
	if len(statuses) == 0 {
		return NewHealthy(component, "No components registered")
	}

	var degraded, unhealthy int
	for _, s := range statuses {
		switch {
		case s.IsUnhealthy():
			unhealthy++
		case s.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component,
			fmt.Sprintf("%d of %d components unhealthy", unhealthy, len(statuses)))
	case degraded > 0:
		agg = NewDegraded(component,
			fmt.Sprintf("%d of %d components degraded", degraded, len(statuses)))
	default:
		agg = NewHealthy(component, "All components healthy")
	}

	agg.SubStatuses = append([]Status(nil), statuses...)
	return agg
}

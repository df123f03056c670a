package amiclient

import (
	"sync/atomic"
	"time"
)

// counters aggregates the client's monotonic activity counters. All
// fields are updated lock-free from the read loop and send path.
type counters struct {
	actionsSent     atomic.Uint64
	responses       atomic.Uint64
	orphanResponses atomic.Uint64
	malformedFrames atomic.Uint64
	events          atomic.Uint64
	reconnects      atomic.Uint64
	connectionLoss  atomic.Uint64
}

// Stats is a point-in-time snapshot of client activity for health
// endpoints and operational queries.
type Stats struct {
	Status          Status            `json:"status"`
	Address         string            `json:"address,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	ConnectedAt     time.Time         `json:"connected_at,omitempty"`
	Uptime          time.Duration     `json:"uptime,omitempty"`
	ActionsSent     uint64            `json:"actions_sent"`
	Responses       uint64            `json:"responses"`
	OrphanResponses uint64            `json:"orphan_responses"`
	MalformedFrames uint64            `json:"malformed_frames"`
	Events          uint64            `json:"events"`
	Reconnects      uint64            `json:"reconnects"`
	ConnectionLoss  uint64            `json:"connection_loss"`
	PendingActions  int               `json:"pending_actions"`
	Router          RouterStats       `json:"router"`
	Breakers        []BreakerSnapshot `json:"breakers"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		ActionsSent:     c.actionsSent.Load(),
		Responses:       c.responses.Load(),
		OrphanResponses: c.orphanResponses.Load(),
		MalformedFrames: c.malformedFrames.Load(),
		Events:          c.events.Load(),
		Reconnects:      c.reconnects.Load(),
		ConnectionLoss:  c.connectionLoss.Load(),
	}
}

func (c *counters) reset() {
	c.actionsSent.Store(0)
	c.responses.Store(0)
	c.orphanResponses.Store(0)
	c.malformedFrames.Store(0)
	c.events.Store(0)
	c.reconnects.Store(0)
	c.connectionLoss.Store(0)
}

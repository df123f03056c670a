// Package history keeps a journal of calls observed on the manager
// connection.
//
// The journal subscribes to the call lifecycle events (Newchannel,
// Newstate, DialBegin, DialEnd, BridgeEnter, BridgeLeave, Hangup) and
// folds them into one CallRecord per channel: caller and connected
// line identity, dial outcome, state transitions, and start, answer
// and end times in canonical milliseconds. All call events share one
// dispatch category, so folding sees them in wire order.
//
// Finished records land in a bounded in-memory window and, when a
// NATS client is configured, in a JetStream KV bucket keyed by the
// channel's unique id. Lookups check active calls first, then the
// window, then the bucket. Calls whose Hangup was never seen are
// swept after a configurable age; their events were lost and the
// records would otherwise leak.
package history

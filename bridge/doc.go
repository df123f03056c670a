// Package bridge publishes manager events onto NATS subjects.
//
// The bridge registers a wildcard handler on the manager client and
// republishes every event as JSON under
//
//	<prefix>.<category>.<name>
//
// for example ami.event.call.Newchannel or ami.event.queue.QueueMemberAdded.
// Handlers run on the client's per-category workers, so a NATS stall
// slows at most one category's bounded queue and never the manager
// read loop. Publishes retry with backoff; exhausted retries are
// counted and dropped rather than blocking event flow.
package bridge

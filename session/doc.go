// Package session owns one bidirectional streaming conversation per
// connected user. It multiplexes orchestrator output into an ordered
// outbound stream, routes inbound queries and decisions to pipeline runs,
// and rides out transient transport disconnects.
//
// A session's outbound queue is the single source of truth for delivery
// order: messages leave in exactly the order they were enqueued, across
// disconnect/reconnect cycles, up to a bounded buffer size. Beyond that
// bound the oldest buffered messages are dropped and a gap marker takes
// their place so the orchestrator never blocks on a slow or absent client.
package session

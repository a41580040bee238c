// Package redisstore provides the Redis-backed sessions.Store used when the
// adapter must survive restarts or run as multiple instances behind a load
// balancer.
//
// Only the plain-data fields of a record are persisted. Transport handles
// are inherently non-serializable, so the store keeps them in a
// process-local side cache keyed by session ID. The serialized status is
// always transport_missing; on read, the side cache is consulted and status
// is derived. The effect: the process that accepted the connection reads the
// session back as active, every other process reads the same session as
// transport_missing and knows the connection is unusable there.
package redisstore

// Package sessions defines the session abstraction shared by the MCP
// transports and the resource-cache machinery. A session binds an opaque
// session ID to a TestLens API credential, a process-local transport handle,
// and a cached view of the upstream resources the client is focused on.
//
// Layers & Roles
//
//	Transport (mcpfacade) -> creates/removes records as connections come and go
//	Store                 -> durability: in-memory for a single process, Redis
//	                         for restart survival and horizontal scaling
//	Record                -> per-session state read by every tool call
//
// The transport handle is the one field that can never be serialized or
// shared across processes. Stores therefore derive Status on read: a record
// is Active only in the process that currently holds a live handle for it;
// anywhere else it reads back as TransportMissing and the caller must treat
// the connection as unusable there even though the record exists.
//
// Implementations
//
//	memorystore : in-memory store with idle expiry, used for single-process runs
//	redisstore  : Redis-backed store with a process-local handle side cache
package sessions

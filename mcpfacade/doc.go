// Package mcpfacade exposes the TestLens platform as MCP tools over the
// official MCP Go SDK. It owns the transport binding: connection lifecycle
// events become session store operations, and each connected client gets its
// own *mcp.Server whose resource catalog mirrors that session's cached
// reports and cases. Syncing the catalog is how the "resource list changed"
// signal reaches exactly the right client.
//
// Two modes are supported. The streamable HTTP handler serves many
// independent sessions, each authenticated with a bearer token that is
// passed through to the platform unverified (validation is delegated
// upstream). Stdio serves a single session under a reserved, well-known
// session ID bound before the transport starts reading.
package mcpfacade

package mcpfacade

import (
	"net/http"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewHTTPHandler serves the streamable HTTP transport. Every new MCP session
// gets its own server so list-changed notifications reach exactly the
// session whose cache changed. The bearer token is required but not
// validated here; it rides along to the platform on every upstream call.
func (f *Facade) NewHTTPHandler() http.Handler {
	streamable := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		srv, _ := f.newSessionServer("", "")
		return srv
	}, nil)
	return mcpauth.RequireBearerToken(f.verifyToken, &mcpauth.RequireBearerTokenOptions{})(streamable)
}

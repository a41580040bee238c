package mcpfacade

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testlens-dev/testlens-mcp/sessions"
)

// RunStdio serves a single session over stdin/stdout and blocks until the
// transport closes or ctx is canceled. The session is bound under the
// reserved stdio ID before the transport starts reading, so the very first
// tool call already finds an active record. The credential comes from local
// configuration, not from the wire.
func (f *Facade) RunStdio(ctx context.Context, credential string) error {
	srv, h := f.newSessionServer(sessions.StdioSessionID, credential)

	rec := &sessions.Record{
		SessionID:  sessions.StdioSessionID,
		Credential: credential,
		Handle:     h,
	}
	if err := f.store.Put(ctx, rec); err != nil {
		return err
	}
	defer func() {
		_ = f.store.Delete(context.WithoutCancel(ctx), sessions.StdioSessionID)
	}()

	return srv.Run(ctx, &mcpsdk.StdioTransport{})
}

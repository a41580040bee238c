package mcpfacade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testlens-dev/testlens-mcp/sessions"
)

// sessionHandle ties a session record to the live per-session server. It is
// the process-local, non-serializable half of a session: stores persist the
// record, the handle stays here. NotifyResourceListChanged re-reads the
// record and syncs the server's resource catalog to it; the SDK emits the
// list-changed notification to the one connected client as a side effect.
type sessionHandle struct {
	facade *Facade
	srv    *mcpsdk.Server

	mu        sync.Mutex
	id        string
	published map[string]bool
}

var _ sessions.TransportHandle = (*sessionHandle)(nil)

func (h *sessionHandle) SessionID() string { return h.sessionID() }

func (h *sessionHandle) sessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func (h *sessionHandle) bind(id string) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

func (h *sessionHandle) NotifyResourceListChanged(ctx context.Context) error {
	rec, err := h.facade.store.Get(ctx, h.sessionID())
	if err != nil {
		return err
	}
	h.syncCatalog(rec)
	return nil
}

// syncCatalog diffs the published resource set against the record's cache.
// Adds and removals go through the SDK so the client hears about them.
func (h *sessionHandle) syncCatalog(rec *sessions.Record) {
	desired := make(map[string]*mcpsdk.Resource)
	if rec.TargetID != "" {
		for _, id := range rec.ReportIDs {
			uri := reportURI(rec.TargetID, id)
			desired[uri] = &mcpsdk.Resource{
				URI:      uri,
				Name:     "report " + id,
				MIMEType: "application/json",
			}
		}
		for _, id := range rec.CaseIDs {
			uri := caseURI(rec.TargetID, id)
			desired[uri] = &mcpsdk.Resource{
				URI:      uri,
				Name:     "case " + id,
				MIMEType: "application/json",
			}
		}
	}

	h.mu.Lock()
	var stale []string
	for uri := range h.published {
		if _, ok := desired[uri]; !ok {
			stale = append(stale, uri)
			delete(h.published, uri)
		}
	}
	var fresh []*mcpsdk.Resource
	for uri, res := range desired {
		if !h.published[uri] {
			fresh = append(fresh, res)
			h.published[uri] = true
		}
	}
	h.mu.Unlock()

	if len(stale) > 0 {
		h.srv.RemoveResources(stale...)
	}
	for _, res := range fresh {
		h.srv.AddResource(res, h.readResource)
	}
}

const uriScheme = "testlens"

func reportURI(targetID, reportID string) string {
	return fmt.Sprintf("%s://targets/%s/reports/%s", uriScheme, targetID, reportID)
}

func caseURI(targetID, caseID string) string {
	return fmt.Sprintf("%s://targets/%s/cases/%s", uriScheme, targetID, caseID)
}

// parseResourceURI splits testlens://targets/<t>/<reports|cases>/<id>.
func parseResourceURI(uri string) (targetID, kind, id string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme+"://targets/")
	if !ok {
		return "", "", "", fmt.Errorf("unrecognized resource uri %q", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" || (parts[1] != "reports" && parts[1] != "cases") {
		return "", "", "", fmt.Errorf("unrecognized resource uri %q", uri)
	}
	return parts[0], parts[1], parts[2], nil
}

func (h *sessionHandle) readResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	uri := req.Params.URI
	targetID, kind, id, err := parseResourceURI(uri)
	if err != nil {
		return nil, mcpsdk.ResourceNotFoundError(uri)
	}

	rec, err := h.facade.usableRecord(ctx, h, req.Session)
	if err != nil {
		return nil, err
	}
	if rec.TargetID != targetID {
		return nil, mcpsdk.ResourceNotFoundError(uri)
	}

	var body any
	switch kind {
	case "reports":
		rep, err := h.facade.api.GetReport(ctx, rec.Credential, targetID, id)
		if err != nil {
			return nil, err
		}
		body = reportView(rec, rep)
	case "cases":
		cs, err := h.facade.api.ListCases(ctx, rec.Credential, targetID, "")
		if err != nil {
			return nil, err
		}
		found := false
		for _, c := range cs {
			if c.ID == id {
				body = c
				found = true
				break
			}
		}
		if !found {
			return nil, mcpsdk.ResourceNotFoundError(uri)
		}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		}},
	}, nil
}

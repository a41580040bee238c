package mcpfacade

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testlens-dev/testlens-mcp/resources"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/sessions/memorystore"
	"github.com/testlens-dev/testlens-mcp/upstream"
)

type fakePlatform struct {
	mu      sync.Mutex
	targets map[string]upstream.Target
	reports map[string][]upstream.Report
	cases   map[string][]upstream.CaseSummary
	notes   map[string][]upstream.Notification
	err     error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		targets: make(map[string]upstream.Target),
		reports: make(map[string][]upstream.Report),
		cases:   make(map[string][]upstream.CaseSummary),
		notes:   make(map[string][]upstream.Notification),
	}
}

func (p *fakePlatform) ListTargets(ctx context.Context, credential string) ([]upstream.Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []upstream.Target
	for _, t := range p.targets {
		out = append(out, t)
	}
	return out, nil
}

func (p *fakePlatform) GetTarget(ctx context.Context, credential, targetID string) (*upstream.Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	t, ok := p.targets[targetID]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return &t, nil
}

func (p *fakePlatform) ListReports(ctx context.Context, credential, targetID string) ([]upstream.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.reports[targetID], nil
}

func (p *fakePlatform) GetReport(ctx context.Context, credential, targetID, reportID string) (*upstream.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	for _, rep := range p.reports[targetID] {
		if rep.ID == reportID {
			return &rep, nil
		}
	}
	return nil, upstream.ErrNotFound
}

func (p *fakePlatform) ListCases(ctx context.Context, credential, targetID, filter string) ([]upstream.CaseSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []upstream.CaseSummary
	for _, c := range p.cases[targetID] {
		if filter == "" || strings.Contains(c.Title, filter) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *fakePlatform) Notifications(ctx context.Context, credential, targetID string) ([]upstream.Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.notes[targetID], nil
}

func (p *fakePlatform) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func newTestFacade(t *testing.T) (*Facade, *fakePlatform, *memorystore.Store) {
	t.Helper()
	store := memorystore.New(memorystore.Config{})
	t.Cleanup(func() { _ = store.Close() })
	platform := newFakePlatform()
	platform.targets["t1"] = upstream.Target{ID: "t1", Name: "web checkout"}
	platform.reports["t1"] = []upstream.Report{
		{ID: "r1", Status: "passed", ExecutionURL: "https://testlens.example/runs/r1", Results: []upstream.Result{
			{Title: "login", Status: "passed", TraceURL: "https://traces.example/r1.zip"},
		}},
		{ID: "r2", Status: "failed"},
	}
	platform.cases["t1"] = []upstream.CaseSummary{
		{ID: "c1", Title: "checkout happy path"},
		{ID: "c2", Title: "empty cart"},
	}
	f := New(store, platform, resources.NewRefresher(store, platform, nil), "test", nil)
	return f, platform, store
}

// connectSession wires a client to its own per-session server over in-memory
// transports and waits for the handshake binding to land in the store.
func connectSession(t *testing.T, f *Facade, store sessions.Store, opts *mcpsdk.ClientOptions) (*mcpsdk.ClientSession, string, func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, opts)
	srv, _ := f.newSessionServer("", "test-credential")
	t1, t2 := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, t1, nil)
	if err != nil {
		cancel()
		t.Fatalf("server connect: %v", err)
	}
	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		_ = ss.Close()
		cancel()
		t.Fatalf("client connect: %v", err)
	}

	id := waitForSession(t, store, 1)
	return cs, id, func() {
		_ = cs.Close()
		_ = ss.Close()
		cancel()
	}
}

// waitForSession polls until the store holds n records and returns the first
// one's ID. The initialized notification lands asynchronously.
func waitForSession(t *testing.T, store sessions.Store, n int) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, err := store.ListAll(context.Background())
		if err != nil {
			t.Fatalf("list sessions: %v", err)
		}
		if len(recs) >= n {
			return recs[0].SessionID
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d session record(s), have %d", n, len(recs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeToolJSON(t *testing.T, res *mcpsdk.CallToolResult, out any) {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected tool content")
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("decode tool content %q: %v", text.Text, err)
	}
}

func toolErrorCode(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	if res == nil || !res.IsError {
		t.Fatalf("expected tool error result, got %+v", res)
	}
	var env toolError
	decodeToolJSON(t, res, &env)
	if env.Code == "" {
		t.Fatalf("expected non-empty error_code")
	}
	return env.Code
}

func TestHandshakeBindsAndTeardownRemoves(t *testing.T) {
	f, _, store := newTestFacade(t)
	cs, id, done := connectSession(t, f, store, nil)

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != sessions.StatusActive {
		t.Fatalf("expected active session, got %q", rec.Status)
	}
	if rec.Handle == nil || rec.Handle.SessionID() != id {
		t.Fatalf("expected a bound handle for %q", id)
	}

	_ = cs.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.Get(context.Background(), id); errors.Is(err, sessions.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session record not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	done()
}

func TestToolsRejectUnknownSession(t *testing.T) {
	f, _, store := newTestFacade(t)
	cs, id, done := connectSession(t, f, store, nil)
	defer done()

	// Simulate the record expiring out from under a live connection.
	if err := store.Delete(context.Background(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "list_targets"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if code := toolErrorCode(t, res); code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %q", code)
	}
}

func TestUseTargetPublishesResources(t *testing.T) {
	f, _, store := newTestFacade(t)

	var mu sync.Mutex
	listChanged := 0
	cs, _, done := connectSession(t, f, store, &mcpsdk.ClientOptions{
		ResourceListChangedHandler: func(context.Context, *mcpsdk.ResourceListChangedRequest) {
			mu.Lock()
			listChanged++
			mu.Unlock()
		},
	})
	defer done()

	ctx := context.Background()
	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "use_target",
		Arguments: map[string]any{"target_id": "t1"},
	})
	if err != nil {
		t.Fatalf("use_target: %v", err)
	}
	if res.IsError {
		t.Fatalf("use_target failed: %+v", res.Content)
	}
	var out useTargetOutput
	decodeToolJSON(t, res, &out)
	if out.Reports != 2 || out.Cases != 2 {
		t.Fatalf("expected 2 reports and 2 cases, got %+v", out)
	}

	lr, err := cs.ListResources(ctx, &mcpsdk.ListResourcesParams{})
	if err != nil {
		t.Fatalf("list resources: %v", err)
	}
	uris := make(map[string]bool)
	for _, r := range lr.Resources {
		uris[r.URI] = true
	}
	for _, want := range []string{
		"testlens://targets/t1/reports/r1",
		"testlens://targets/t1/reports/r2",
		"testlens://targets/t1/cases/c1",
		"testlens://targets/t1/cases/c2",
	} {
		if !uris[want] {
			t.Errorf("resource %s not published, have %v", want, lr.Resources)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := listChanged
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no resource list-changed notification received")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReadReportResource(t *testing.T) {
	f, _, store := newTestFacade(t)
	cs, _, done := connectSession(t, f, store, nil)
	defer done()

	ctx := context.Background()
	if _, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "use_target",
		Arguments: map[string]any{"target_id": "t1"},
	}); err != nil {
		t.Fatalf("use_target: %v", err)
	}

	rr, err := cs.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: "testlens://targets/t1/reports/r1"})
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	if len(rr.Contents) != 1 {
		t.Fatalf("expected one content entry, got %d", len(rr.Contents))
	}
	var detail reportDetail
	if err := json.Unmarshal([]byte(rr.Contents[0].Text), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.ID != "r1" || detail.TraceURL != "https://traces.example/r1.zip" {
		t.Fatalf("unexpected report content: %+v", detail)
	}

	if _, err := cs.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: "testlens://targets/t1/reports/nope"}); err == nil {
		t.Fatal("expected error for unknown report resource")
	}
}

func TestGetReportCarriesTraceURL(t *testing.T) {
	f, _, store := newTestFacade(t)
	cs, _, done := connectSession(t, f, store, nil)
	defer done()

	ctx := context.Background()
	if _, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "use_target",
		Arguments: map[string]any{"target_id": "t1"},
	}); err != nil {
		t.Fatalf("use_target: %v", err)
	}

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "get_report",
		Arguments: map[string]any{"report_id": "r1"},
	})
	if err != nil {
		t.Fatalf("get_report: %v", err)
	}
	if res.IsError {
		t.Fatalf("get_report failed: %+v", res.Content)
	}
	var detail reportDetail
	decodeToolJSON(t, res, &detail)
	if detail.TraceURL != "https://traces.example/r1.zip" {
		t.Fatalf("expected trace url from index, got %q", detail.TraceURL)
	}
	if len(detail.Results) != 1 || detail.Results[0].Status != "passed" {
		t.Fatalf("unexpected results: %+v", detail.Results)
	}
}

func TestListReportsRequiresFocusedTarget(t *testing.T) {
	f, _, store := newTestFacade(t)
	cs, _, done := connectSession(t, f, store, nil)
	defer done()

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "list_reports"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error without a focused target")
	}
}

func TestUpstreamOutageIsRetryableToolError(t *testing.T) {
	f, platform, store := newTestFacade(t)
	cs, _, done := connectSession(t, f, store, nil)
	defer done()

	platform.setErr(upstream.ErrUnavailable)
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "list_targets"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var env toolError
	decodeToolJSON(t, res, &env)
	if env.Code != "upstream_unavailable" || !env.Retryable {
		t.Fatalf("expected retryable upstream_unavailable, got %+v", env)
	}
}

func TestListCasesFilter(t *testing.T) {
	f, _, store := newTestFacade(t)
	cs, _, done := connectSession(t, f, store, nil)
	defer done()

	ctx := context.Background()
	if _, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "use_target",
		Arguments: map[string]any{"target_id": "t1"},
	}); err != nil {
		t.Fatalf("use_target: %v", err)
	}

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "list_cases",
		Arguments: map[string]any{"filter": "cart"},
	})
	if err != nil {
		t.Fatalf("list_cases: %v", err)
	}
	var out listCasesOutput
	decodeToolJSON(t, res, &out)
	if len(out.Cases) != 1 || out.Cases[0].ID != "c2" {
		t.Fatalf("expected the filtered case, got %+v", out.Cases)
	}
}

func TestParseResourceURI(t *testing.T) {
	for _, tc := range []struct {
		uri     string
		target  string
		kind    string
		id      string
		wantErr bool
	}{
		{uri: "testlens://targets/t1/reports/r1", target: "t1", kind: "reports", id: "r1"},
		{uri: "testlens://targets/t1/cases/c1", target: "t1", kind: "cases", id: "c1"},
		{uri: "testlens://targets/t1/runs/r1", wantErr: true},
		{uri: "testlens://targets/t1/reports/", wantErr: true},
		{uri: "https://example.com/whatever", wantErr: true},
	} {
		target, kind, id, err := parseResourceURI(tc.uri)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.uri, err)
			continue
		}
		if target != tc.target || kind != tc.kind || id != tc.id {
			t.Errorf("%s: got %q %q %q", tc.uri, target, kind, id)
		}
	}
}

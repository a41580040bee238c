package mcpfacade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testlens-dev/testlens-mcp/internal/logctx"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/upstream"
)

// toolError is the structured failure payload every tool returns on error.
// Agents branch on error_code and retryable instead of parsing prose.
type toolError struct {
	Code      string `json:"error_code"`
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable"`
}

func classifyToolError(err error) toolError {
	switch {
	case errors.Is(err, errUnknownSession), errors.Is(err, errSessionUnusable),
		errors.Is(err, upstream.ErrUnauthorized), errors.Is(err, sessions.ErrNoCredential):
		return toolError{Code: "unauthorized", Detail: err.Error()}
	case errors.Is(err, upstream.ErrNotFound):
		return toolError{Code: "not_found", Detail: err.Error()}
	case errors.Is(err, upstream.ErrUnavailable):
		return toolError{Code: "upstream_unavailable", Detail: err.Error(), Retryable: true}
	case errors.Is(err, sessions.ErrStoreUnavailable):
		return toolError{Code: "store_unavailable", Detail: err.Error(), Retryable: true}
	default:
		return toolError{Code: "internal", Detail: err.Error()}
	}
}

// failure renders err as a tool-level error result rather than a protocol
// error, so the conversation keeps going.
func failure[Out any](err error) (*mcpsdk.CallToolResult, Out, error) {
	var zero Out
	b, merr := json.Marshal(classifyToolError(err))
	if merr != nil {
		b = []byte(`{"error_code":"internal"}`)
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, zero, nil
}

type targetView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type reportSummary struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ExecutionURL string `json:"execution_url,omitempty"`
	TraceURL     string `json:"trace_url,omitempty"`
	ResourceURI  string `json:"resource_uri"`
}

type caseView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Folder      string `json:"folder,omitempty"`
	ResourceURI string `json:"resource_uri"`
}

type resultView struct {
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	TraceURL string `json:"trace_url,omitempty"`
}

type reportDetail struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	ExecutionURL string       `json:"execution_url,omitempty"`
	TraceURL     string       `json:"trace_url,omitempty"`
	Results      []resultView `json:"results,omitempty"`
}

func reportView(rec *sessions.Record, rep *upstream.Report) reportDetail {
	d := reportDetail{
		ID:           rep.ID,
		Status:       rep.Status,
		ExecutionURL: rep.ExecutionURL,
		TraceURL:     rec.TraceIndex[rep.ID],
	}
	for _, res := range rep.Results {
		d.Results = append(d.Results, resultView(res))
	}
	return d
}

type listTargetsInput struct{}

type listTargetsOutput struct {
	Targets []targetView `json:"targets"`
}

type useTargetInput struct {
	TargetID string `json:"target_id" jsonschema:"ID of the test target to focus this session on"`
}

type useTargetOutput struct {
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
	Reports    int    `json:"reports"`
	Cases      int    `json:"cases"`
}

type listReportsInput struct{}

type listReportsOutput struct {
	TargetID string          `json:"target_id"`
	Reports  []reportSummary `json:"reports"`
}

type getReportInput struct {
	ReportID string `json:"report_id" jsonschema:"ID of the run report to fetch"`
}

type listCasesInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"optional substring filter on case title"`
}

type listCasesOutput struct {
	TargetID string     `json:"target_id"`
	Cases    []caseView `json:"cases"`
}

type refreshResourcesInput struct{}

type refreshResourcesOutput struct {
	TargetID    string    `json:"target_id"`
	Reports     int       `json:"reports"`
	Cases       int       `json:"cases"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

func (f *Facade) registerTools(srv *mcpsdk.Server, h *sessionHandle) {
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_targets",
		Description: "List the test targets the session's credential can see.",
	}, f.toolListTargets(h))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "use_target",
		Description: "Focus this session on a target. Its reports and cases become resources and are kept fresh.",
	}, f.toolUseTarget(h))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_reports",
		Description: "List run reports for the focused target, with trace links where captured.",
	}, f.toolListReports(h))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_report",
		Description: "Fetch one run report, including per-result statuses and the trace artifact link.",
	}, f.toolGetReport(h))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "list_cases",
		Description: "List discovered test cases for the focused target.",
	}, f.toolListCases(h))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "refresh_resources",
		Description: "Force a refresh of the focused target's cached reports and cases.",
	}, f.toolRefreshResources(h))
}

func (f *Facade) toolListTargets(h *sessionHandle) mcpsdk.ToolHandlerFor[listTargetsInput, listTargetsOutput] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, _ listTargetsInput) (*mcpsdk.CallToolResult, listTargetsOutput, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: "list_targets"})
		rec, err := f.usableRecord(ctx, h, req.Session)
		if err != nil {
			return failure[listTargetsOutput](err)
		}
		targets, err := f.api.ListTargets(ctx, rec.Credential)
		if err != nil {
			return failure[listTargetsOutput](err)
		}
		out := listTargetsOutput{Targets: make([]targetView, 0, len(targets))}
		for _, t := range targets {
			out.Targets = append(out.Targets, targetView(t))
		}
		return nil, out, nil
	}
}

func (f *Facade) toolUseTarget(h *sessionHandle) mcpsdk.ToolHandlerFor[useTargetInput, useTargetOutput] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in useTargetInput) (*mcpsdk.CallToolResult, useTargetOutput, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: "use_target"})
		if in.TargetID == "" {
			return failure[useTargetOutput](errors.New("target_id is required"))
		}
		rec, err := f.usableRecord(ctx, h, req.Session)
		if err != nil {
			return failure[useTargetOutput](err)
		}
		target, err := f.api.GetTarget(ctx, rec.Credential, in.TargetID)
		if err != nil {
			return failure[useTargetOutput](fmt.Errorf("target %q: %w", in.TargetID, err))
		}

		rec.TargetID = target.ID
		if err := f.refresher.RefreshReports(ctx, rec); err != nil {
			return failure[useTargetOutput](err)
		}
		if err := f.refresher.RefreshCases(ctx, rec); err != nil {
			return failure[useTargetOutput](err)
		}
		f.log.InfoContext(logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: rec.SessionID, TargetID: target.ID}), "target focused")

		return nil, useTargetOutput{
			TargetID:   target.ID,
			TargetName: target.Name,
			Reports:    len(rec.ReportIDs),
			Cases:      len(rec.CaseIDs),
		}, nil
	}
}

func (f *Facade) toolListReports(h *sessionHandle) mcpsdk.ToolHandlerFor[listReportsInput, listReportsOutput] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, _ listReportsInput) (*mcpsdk.CallToolResult, listReportsOutput, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: "list_reports"})
		rec, err := f.usableRecord(ctx, h, req.Session)
		if err != nil {
			return failure[listReportsOutput](err)
		}
		if rec.TargetID == "" {
			return failure[listReportsOutput](errors.New("no target focused, call use_target first"))
		}
		reports, err := f.api.ListReports(ctx, rec.Credential, rec.TargetID)
		if err != nil {
			return failure[listReportsOutput](err)
		}
		out := listReportsOutput{TargetID: rec.TargetID, Reports: make([]reportSummary, 0, len(reports))}
		for _, rep := range reports {
			out.Reports = append(out.Reports, reportSummary{
				ID:           rep.ID,
				Status:       rep.Status,
				ExecutionURL: rep.ExecutionURL,
				TraceURL:     rec.TraceIndex[rep.ID],
				ResourceURI:  reportURI(rec.TargetID, rep.ID),
			})
		}
		return nil, out, nil
	}
}

func (f *Facade) toolGetReport(h *sessionHandle) mcpsdk.ToolHandlerFor[getReportInput, reportDetail] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in getReportInput) (*mcpsdk.CallToolResult, reportDetail, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: "get_report"})
		if in.ReportID == "" {
			return failure[reportDetail](errors.New("report_id is required"))
		}
		rec, err := f.usableRecord(ctx, h, req.Session)
		if err != nil {
			return failure[reportDetail](err)
		}
		if rec.TargetID == "" {
			return failure[reportDetail](errors.New("no target focused, call use_target first"))
		}
		rep, err := f.api.GetReport(ctx, rec.Credential, rec.TargetID, in.ReportID)
		if err != nil {
			return failure[reportDetail](fmt.Errorf("report %q: %w", in.ReportID, err))
		}
		return nil, reportView(rec, rep), nil
	}
}

func (f *Facade) toolListCases(h *sessionHandle) mcpsdk.ToolHandlerFor[listCasesInput, listCasesOutput] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in listCasesInput) (*mcpsdk.CallToolResult, listCasesOutput, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: "list_cases"})
		rec, err := f.usableRecord(ctx, h, req.Session)
		if err != nil {
			return failure[listCasesOutput](err)
		}
		if rec.TargetID == "" {
			return failure[listCasesOutput](errors.New("no target focused, call use_target first"))
		}
		cases, err := f.api.ListCases(ctx, rec.Credential, rec.TargetID, in.Filter)
		if err != nil {
			return failure[listCasesOutput](err)
		}
		out := listCasesOutput{TargetID: rec.TargetID, Cases: make([]caseView, 0, len(cases))}
		for _, c := range cases {
			out.Cases = append(out.Cases, caseView{
				ID:          c.ID,
				Title:       c.Title,
				Folder:      c.Folder,
				ResourceURI: caseURI(rec.TargetID, c.ID),
			})
		}
		return nil, out, nil
	}
}

func (f *Facade) toolRefreshResources(h *sessionHandle) mcpsdk.ToolHandlerFor[refreshResourcesInput, refreshResourcesOutput] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, _ refreshResourcesInput) (*mcpsdk.CallToolResult, refreshResourcesOutput, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: "refresh_resources"})
		rec, err := f.usableRecord(ctx, h, req.Session)
		if err != nil {
			return failure[refreshResourcesOutput](err)
		}
		if err := f.refresher.RefreshReports(ctx, rec); err != nil {
			return failure[refreshResourcesOutput](err)
		}
		if err := f.refresher.RefreshCases(ctx, rec); err != nil {
			return failure[refreshResourcesOutput](err)
		}
		return nil, refreshResourcesOutput{
			TargetID:    rec.TargetID,
			Reports:     len(rec.ReportIDs),
			Cases:       len(rec.CaseIDs),
			RefreshedAt: rec.LastReportRefresh,
		}, nil
	}
}

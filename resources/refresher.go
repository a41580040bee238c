package resources

import (
	"context"
	"log/slog"
	"time"

	"github.com/testlens-dev/testlens-mcp/internal/logctx"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/upstream"
)

// API is the slice of the upstream client this package needs.
type API interface {
	ListReports(ctx context.Context, credential, targetID string) ([]upstream.Report, error)
	ListCases(ctx context.Context, credential, targetID, filter string) ([]upstream.CaseSummary, error)
	Notifications(ctx context.Context, credential, targetID string) ([]upstream.Notification, error)
}

var _ API = (*upstream.Client)(nil)

// Refresher rebuilds per-session resource caches. Every refresh writes the
// updated record back through the store and pushes a list-changed signal to
// the session's transport, when one is attached in this process.
//
// Concurrent refreshes of the same session are last-writer-wins by design;
// the refresh timestamps only ever move forward, so a stale overwrite costs
// at most one update cycle and the next sweep heals it.
type Refresher struct {
	store sessions.Store
	api   API
	log   *slog.Logger
	now   func() time.Time
}

func NewRefresher(store sessions.Store, api API, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Refresher{store: store, api: api, log: log, now: time.Now}
}

// RefreshReports rebuilds the session's report cache and trace index. The
// low-water mark advances even when the session has no target or the fetch
// yields nothing, so an empty upstream never causes a tight retry loop.
func (r *Refresher) RefreshReports(ctx context.Context, rec *sessions.Record) error {
	if rec.TargetID == "" {
		rec.ReportIDs = nil
		rec.TraceIndex = nil
	} else {
		reports, err := r.api.ListReports(ctx, rec.Credential, rec.TargetID)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(reports))
		traces := make(map[string]string)
		for _, rep := range reports {
			ids = append(ids, rep.ID)
			for _, res := range rep.Results {
				// Last result with a trace wins: one trace link per report.
				if res.TraceURL != "" {
					traces[rep.ID] = res.TraceURL
				}
			}
		}
		rec.ReportIDs = ids
		rec.TraceIndex = traces
	}
	advance(&rec.LastReportRefresh, r.now())
	return r.writeBack(ctx, rec)
}

// RefreshCases rebuilds the session's case cache.
func (r *Refresher) RefreshCases(ctx context.Context, rec *sessions.Record) error {
	if rec.TargetID == "" {
		rec.CaseIDs = nil
	} else {
		cases, err := r.api.ListCases(ctx, rec.Credential, rec.TargetID, "")
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(cases))
		for _, c := range cases {
			ids = append(ids, c.ID)
		}
		rec.CaseIDs = ids
	}
	advance(&rec.LastCaseRefresh, r.now())
	return r.writeBack(ctx, rec)
}

// Clear empties every cached field without contacting upstream. Used when
// the session's target is unset or has disappeared.
func (r *Refresher) Clear(ctx context.Context, rec *sessions.Record) error {
	rec.ReportIDs = nil
	rec.CaseIDs = nil
	rec.TraceIndex = nil
	now := r.now()
	advance(&rec.LastReportRefresh, now)
	advance(&rec.LastCaseRefresh, now)
	return r.writeBack(ctx, rec)
}

func (r *Refresher) writeBack(ctx context.Context, rec *sessions.Record) error {
	if err := r.store.Put(ctx, rec); err != nil {
		return err
	}
	if rec.Handle != nil {
		// Fire-and-forget: a lost signal only delays the client until the
		// next one.
		if err := rec.Handle.NotifyResourceListChanged(ctx); err != nil {
			ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: rec.SessionID, TargetID: rec.TargetID})
			r.log.WarnContext(ctx, "resource list changed push failed", "error", err)
		}
	}
	return nil
}

// advance moves a low-water mark forward, never backward.
func advance(mark *time.Time, now time.Time) {
	if now.After(*mark) {
		*mark = now
	}
}

package resources

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testlens-dev/testlens-mcp/internal/logctx"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/upstream"
)

const (
	defaultInterval = 30 * time.Second

	// maxInFlight bounds the fan-out against the upstream API when many
	// sessions are connected. Each session is still an independent unit of
	// work: a hung fetch occupies one slot, never the whole sweep.
	maxInFlight = 8
)

// Reconciler periodically decides, per session, whether the cached
// resources are stale, using only the pull-based notification feed.
type Reconciler struct {
	store     sessions.Store
	api       API
	refresher *Refresher
	log       *slog.Logger
	interval  time.Duration
}

func NewReconciler(store sessions.Store, api API, refresher *Refresher, interval time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{store: store, api: api, refresher: refresher, log: log, interval: interval}
}

// Run sweeps on the configured interval until the context is canceled.
// Overlapping sweeps are tolerated by design; duplicate notifications
// collapse against the low-water marks.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep reconciles every session that has a target. A failure in one
// session never aborts the sweep for the others.
func (r *Reconciler) Sweep(ctx context.Context) {
	ctx = logctx.WithSweepData(ctx, &logctx.SweepData{SweepID: uuid.NewString()})

	recs, err := r.store.ListAll(ctx)
	if err != nil {
		r.log.WarnContext(ctx, "session list failed, skipping sweep", "error", err)
		return
	}

	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup
	for _, rec := range recs {
		if rec.TargetID == "" {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(rec *sessions.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			sctx := logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: rec.SessionID, TargetID: rec.TargetID})
			if err := r.reconcile(sctx, rec); err != nil {
				r.log.WarnContext(sctx, "session reconciliation failed, clearing target", "error", err)
				r.clearTarget(sctx, rec)
			}
		}(rec)
	}
	wg.Wait()
}

// reconcile fetches the notification feed for the session's target and
// refreshes whatever the feed proves stale. Comparison is strictly
// greater-than: a notification stamped exactly at the low-water mark has
// been seen before, and many notifications of one kind collapse into a
// single refresh.
func (r *Reconciler) reconcile(ctx context.Context, rec *sessions.Record) error {
	notes, err := r.api.Notifications(ctx, rec.Credential, rec.TargetID)
	if err != nil {
		return err
	}

	var staleReports, staleCases bool
	for _, n := range notes {
		switch n.Kind {
		case upstream.NotificationRunFinished:
			if n.Timestamp.After(rec.LastReportRefresh) {
				staleReports = true
			}
		case upstream.NotificationDiscoveryFinished:
			if n.Timestamp.After(rec.LastCaseRefresh) {
				staleCases = true
			}
		default:
			// Unrecognized kinds are ignored for forward compatibility.
		}
	}

	if staleReports {
		if err := r.refresher.RefreshReports(ctx, rec); err != nil {
			return err
		}
	}
	if staleCases {
		if err := r.refresher.RefreshCases(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// clearTarget stops the reconciler from failing on the same dead target
// every sweep. The cache fields are cleared with it; the client learns via
// the usual list-changed push.
func (r *Reconciler) clearTarget(ctx context.Context, rec *sessions.Record) {
	rec.TargetID = ""
	if err := r.refresher.Clear(ctx, rec); err != nil {
		r.log.WarnContext(ctx, "target clear failed", "error", err)
	}
}
